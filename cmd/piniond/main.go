// piniond exposes this machine's GPIO hardware to pinion controllers
// over TCP and P2P, announcing itself in mDNS.
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
