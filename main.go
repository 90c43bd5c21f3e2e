package main

import "unfurlbot/cmd"

func main() {
	cmd.Execute()
}
