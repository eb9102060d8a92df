package main

import "github.com/nextlevelbuilder/talkgate/cmd"

func main() {
	cmd.Execute()
}
