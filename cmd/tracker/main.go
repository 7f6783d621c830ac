package main

import (
	"os"

	"github.com/simonjohansson/tracker/internal/tracker"
)

func main() {
	os.Exit(tracker.Run(os.Args[1:], os.Stdout, os.Stderr, os.Environ()))
}
