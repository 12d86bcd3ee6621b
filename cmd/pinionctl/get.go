package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"pinion/controller"
	"pinion/persist"
	"pinion/protocol"
)

var getCmd = &cobra.Command{
	Use:   "get",
	Short: "print the device's current pin configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDevice(func(ctx context.Context, ctrl *controller.Controller, _ controller.Connected) error {
			cfg, err := fetchConfig(ctx, ctrl)
			if err != nil {
				return err
			}
			printConfig(cfg)
			return nil
		})
	},
}

var saveCmd = &cobra.Command{
	Use:   "save <file>",
	Short: "save the device's pin configuration to a YAML file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDevice(func(ctx context.Context, ctrl *controller.Controller, _ controller.Connected) error {
			cfg, err := fetchConfig(ctx, ctrl)
			if err != nil {
				return err
			}
			if err := persist.SaveFile(args[0], cfg); err != nil {
				return err
			}
			fmt.Printf("saved %d pins to %s\n", len(cfg.Pins), args[0])
			return nil
		})
	},
}

// fetchConfig asks the device for its config rather than trusting the
// connect-time snapshot.
func fetchConfig(ctx context.Context, ctrl *controller.Controller) (protocol.HardwareConfig, error) {
	if err := ctrl.Send(ctx, protocol.GetConfig{}); err != nil {
		return protocol.HardwareConfig{}, err
	}
	deadline := time.After(5 * time.Second)
	for {
		select {
		case <-ctx.Done():
			return protocol.HardwareConfig{}, ctx.Err()
		case <-deadline:
			return protocol.HardwareConfig{}, fmt.Errorf("device did not answer GetConfig")
		case ev := <-ctrl.Events():
			switch ev := ev.(type) {
			case controller.ConfigRefresh:
				return ev.Config, nil
			case controller.ConnectionError:
				return protocol.HardwareConfig{}, ev.Err
			}
		}
	}
}

func printConfig(cfg protocol.HardwareConfig) {
	if len(cfg.Pins) == 0 {
		fmt.Println("no pins configured")
		return
	}
	for _, pin := range cfg.SortedPins() {
		fmt.Printf("pin %-2d  %s\n", pin, cfg.Pins[pin])
	}
}

func init() {
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(saveCmd)
}
