package main

import (
	"github.com/alpenclub/tripscope/cmd"
)

func main() {
	cmd.Execute()
}
