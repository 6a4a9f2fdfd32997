package main

import (
	"log"

	"github.com/thiagokokada/gitgraph/cmd"
)

func main() {
	if err := cmd.Run(); err != nil {
		log.Fatalf("gitgraph: %v", err)
	}
}
