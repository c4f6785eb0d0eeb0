package main

import "github.com/newsroomtools/sessionguard/cmd/sessionguard/cmd"

func main() {
	cmd.Execute()
}
