// pinionctl is a headless pinion controller: it discovers devices,
// inspects and changes their pin configuration and watches their
// inputs from the command line.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
