package main

import "github.com/agentic-research/prodhub/cmd"

func main() {
	cmd.Execute()
}
