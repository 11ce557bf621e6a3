package main

import "or3sync/cmd/client/cmd"

func main() {
	cmd.Execute()
}
