package main

import "gotock/cmd"

func main() {
	cmd.Execute()
}
