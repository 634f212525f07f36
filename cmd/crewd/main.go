package main

import "crew/cmd/crewd/commands"

func main() {
	commands.Execute()
}
