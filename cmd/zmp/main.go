package main

import (
	"fmt"
	"os"
)

func main() {
	rootCommandeer := NewRootCommandeer()

	if err := rootCommandeer.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err.Error())
		os.Exit(1)
	}

	os.Exit(rootCommandeer.exitCode)
}
