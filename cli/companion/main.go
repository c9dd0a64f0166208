package main

import (
	"os"

	companioncmder "github.com/knowledgeco/companion/cmd/companion"
)

func main() {
	cmd := companioncmder.NewCompanionCmd()
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
