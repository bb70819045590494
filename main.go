// Package main provides the entry point for PeriphSim.
// PeriphSim is a microsecond-accurate simulator of GPIO, I2C, SPI, and
// UART peripherals with contract-based verification.
//
// For the full CLI, use: go run ./cmd/periphsim
package main

import (
	"fmt"
	"os"
)

func main() {
	fmt.Println("PeriphSim - Embedded Peripheral Simulator")
	fmt.Println("GPIO / I2C / SPI / UART on a virtual-time event engine")
	fmt.Println("")
	fmt.Println("Usage: periphsim [options]")
	fmt.Println("")
	fmt.Println("Options:")
	fmt.Println("  -realtime  Real-time factor (0 = run as fast as possible)")
	fmt.Println("  -history   Event history capacity per simulator")
	fmt.Println("  -ops       Verified operations per interface")
	fmt.Println("  -v         Verbose output")
	fmt.Println("")
	fmt.Println("Run 'go run ./cmd/periphsim' for the full CLI.")

	if len(os.Args) > 1 {
		fmt.Println("\nNote: You provided arguments. Use 'go run ./cmd/periphsim' instead.")
	}
}
