package main

import "github.com/nextlevelbuilder/chatqueue/cmd"

func main() {
	cmd.Execute()
}
