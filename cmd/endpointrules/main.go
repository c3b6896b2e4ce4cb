package main

import (
	"os"

	"github.com/solatis/endpointrules/cmd/endpointrules/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
