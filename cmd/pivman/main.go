package main

import (
	"fmt"
	"os"

	"github.com/go-ctap/pivman/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "pivman:", err)
		os.Exit(1)
	}
}
