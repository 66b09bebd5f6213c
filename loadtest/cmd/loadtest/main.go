// Package main is the entry point for the relay load test binary.
// It provides subcommands for different load testing scenarios:
//
//   - saturate: Connection saturation test
//   - listen:   Event fan-out test — clients join channel rooms and count
//     relayed events
//
// Usage:
//
//	loadtest <command> [options]
package main

import (
	"fmt"
	"os"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "saturate":
		runSaturate(os.Args[2:])
	case "listen":
		runListen(os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: loadtest <command> [options]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  saturate    Connection saturation test — opens N idle connections")
	fmt.Println("  listen      Event fan-out test — clients join channels and count relayed events")
	fmt.Println()
	fmt.Println("Run 'loadtest <command> -h' for command-specific options.")
}
