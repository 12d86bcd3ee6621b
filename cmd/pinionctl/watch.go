package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"pinion/controller"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "stream input level changes until interrupted",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDevice(func(ctx context.Context, ctrl *controller.Controller, connected controller.Connected) error {
			fmt.Printf("watching %s (%s), ctrl-c to stop\n",
				connected.Description.Details.Model, connected.Description.Details.Serial)
			for {
				select {
				case <-ctx.Done():
					return nil
				case ev := <-ctrl.Events():
					switch ev := ev.(type) {
					case controller.InputChange:
						level := "low"
						if ev.Change.NewLevel {
							level = "high"
						}
						fmt.Printf("%12s  pin %-2d  %s\n", ev.Change.Timestamp, ev.Pin, level)
					case controller.Disconnected:
						return fmt.Errorf("device disconnected")
					case controller.ConnectionError:
						fmt.Printf("connection error: %v\n", ev.Err)
					}
				}
			}
		})
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
}
