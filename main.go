package main

import (
	"VoteFM/cmd"
)

func main() {
	cmd.Execute()
}
