package main

import "github.com/swarmleads/leadengine/cmd"

func main() {
	cmd.Execute()
}
