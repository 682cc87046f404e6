package main

import "github.com/novarec/novarec/cmd/novarec/commands"

func main() {
	commands.Execute()
}
