package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"pinion/discovery"
	"pinion/internal/cli"

	"github.com/spf13/viper"
)

var (
	discoverTimeout   time.Duration
	discoverDirectory string
)

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "list reachable devices",
	Long: `Scan for devices over mDNS and USB, plus any P2P directory file,
printing each device as it appears or goes away.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		log, err := cli.SetupLogger(viper.GetString("verbosity"), viper.GetString("log-format"))
		if err != nil {
			return err
		}

		producers := []discovery.Producer{
			discovery.NewMDNS(log),
			discovery.NewUSB(log),
		}
		if discoverDirectory != "" {
			producers = append(producers, discovery.NewDirectory(discoverDirectory))
		}
		d := discovery.New(log, producers...)

		ctx, cancel := context.WithTimeout(cmd.Context(), discoverTimeout)
		defer cancel()
		go d.Run(ctx)

		for {
			select {
			case <-ctx.Done():
				return nil
			case ev := <-d.Events():
				dev := ev.Device
				fmt.Printf("%-5s  %-4s  %-18s  %-20s  %s\n",
					ev.Kind, dev.Method, dev.Serial, dev.Model, dev.Target)
			}
		}
	},
}

func init() {
	discoverCmd.Flags().DurationVar(&discoverTimeout, "timeout", 5*time.Second, "how long to scan")
	discoverCmd.Flags().StringVar(&discoverDirectory, "directory", "", "YAML file listing known P2P devices")
	rootCmd.AddCommand(discoverCmd)
}
