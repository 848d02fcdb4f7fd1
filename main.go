package main

import "github.com/agentic-research/frpfleet/cmd"

func main() {
	cmd.Execute()
}
