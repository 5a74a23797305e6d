package main

import "github.com/thomasjiangcy/pkgrep/cmd"

func main() {
	cmd.Execute()
}
