// Copyright (c) 2026 Keyward Team
// Keyward - minion key lifecycle manager
// This source code is licensed under the MIT license found in the LICENSE file.

// Command keyward is the command line entrypoint.
//
// Usage:
//
//	go run . [flags] <command>
//	./keyward list
//
// See --help for the available commands.
package main

import (
	"fmt"
	"os"

	"github.com/charmbracelet/log"
	"github.com/toeirei/keyward/buildvars"
	"github.com/toeirei/keyward/ui/cli"
)

func main() {
	if os.Getenv("KEYWARD_SHOW_VERSION") == "1" {
		fmt.Fprintf(os.Stderr, "Keyward version: %s\n", buildvars.VersionOrDefault("dev"))
	}

	if err := cli.Execute(); err != nil {
		log.Error("keyward", "err", err)
		os.Exit(1)
	}
}
