package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"pinion/controller"
	"pinion/persist"
	"pinion/protocol"
)

var loadCmd = &cobra.Command{
	Use:   "load <file>",
	Short: "apply a YAML pin configuration to the device",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := persist.LoadFile(args[0])
		if err != nil {
			return err
		}
		return withDevice(func(ctx context.Context, ctrl *controller.Controller, _ controller.Connected) error {
			if err := ctrl.Send(ctx, protocol.NewConfig{Config: cfg}); err != nil {
				return err
			}
			fmt.Printf("applied %d pins from %s\n", len(cfg.Pins), args[0])
			return nil
		})
	},
}

var describeCmd = &cobra.Command{
	Use:   "describe",
	Short: "print the device's hardware description",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDevice(func(_ context.Context, _ *controller.Controller, connected controller.Connected) error {
			details := connected.Description.Details
			fmt.Printf("model:     %s\n", details.Model)
			fmt.Printf("hardware:  %s\n", details.Hardware)
			fmt.Printf("revision:  %s\n", details.Revision)
			fmt.Printf("serial:    %s\n", details.Serial)
			fmt.Printf("app:       %s %s\n", details.AppName, details.AppVersion)
			fmt.Printf("wifi:      %v\n", details.Wifi)
			fmt.Printf("pins:      %d (%d configurable)\n",
				len(connected.Description.Pins.Pins),
				len(connected.Description.Pins.BCMPins()))
			printConfig(connected.Config)
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(loadCmd)
	rootCmd.AddCommand(describeCmd)
}
