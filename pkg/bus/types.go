package bus

import "time"

// InboundMessage is one chat message handed to the bot by a transport.
// It is not modified after being enqueued.
type InboundMessage struct {
	Channel    string            `json:"channel"`
	RoomID     string            `json:"room_id"`
	SenderID   string            `json:"sender_id,omitempty"`
	Text       string            `json:"text"`
	ReceivedAt time.Time         `json:"received_at,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// OutboundMessage is a reply addressed to the room a message came from.
type OutboundMessage struct {
	Channel string `json:"channel"`
	RoomID  string `json:"room_id"`
	Text    string `json:"text"`
	JobID   string `json:"job_id,omitempty"`
}

// ReplyTo builds the outbound reply for msg.
func ReplyTo(msg InboundMessage, text string) OutboundMessage {
	return OutboundMessage{
		Channel: msg.Channel,
		RoomID:  msg.RoomID,
		Text:    text,
	}
}
