// Package main provides the ferrysync CLI entry point.
package main

import (
	"fmt"
	"os"

	"github.com/kimhsiao/ferrysync/backend/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
