package main

import (
	"log"

	"github.com/opdev/chartpack/cmd/chartpack/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
