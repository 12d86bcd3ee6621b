package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"pinion/controller"
	"pinion/protocol"
)

var processStart = time.Now()

var setCmd = &cobra.Command{
	Use:   "set <pin> <none|input|output> [pullup|pulldown|pullnone|high|low]",
	Short: "configure one pin",
	Long: `Configure a single BCM pin. Examples:

  pinionctl --ip 192.168.1.9 --port 40000 set 17 output high
  pinionctl --ip 192.168.1.9 --port 40000 set 4 input pullup
  pinionctl --ip 192.168.1.9 --port 40000 set 17 none`,
	Args: cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		pin, err := parsePin(args[0])
		if err != nil {
			return err
		}
		fn, err := parseFunction(args[1:])
		if err != nil {
			return err
		}
		return withDevice(func(ctx context.Context, ctrl *controller.Controller, _ controller.Connected) error {
			return ctrl.Send(ctx, protocol.NewPinConfig{Pin: pin, Function: fn})
		})
	},
}

var writeCmd = &cobra.Command{
	Use:   "write <pin> <high|low>",
	Short: "drive a configured output pin",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		pin, err := parsePin(args[0])
		if err != nil {
			return err
		}
		level, err := parseLevel(args[1])
		if err != nil {
			return err
		}
		return withDevice(func(ctx context.Context, ctrl *controller.Controller, _ controller.Connected) error {
			change := protocol.NewLevelChange(level, time.Since(processStart))
			return ctrl.Send(ctx, protocol.IOLevelChanged{Pin: pin, Change: change})
		})
	},
}

func parsePin(arg string) (protocol.BCMPinNumber, error) {
	n, err := strconv.ParseUint(arg, 10, 8)
	if err != nil {
		return 0, fmt.Errorf("%q is not a pin number", arg)
	}
	return protocol.BCMPinNumber(n), nil
}

func parseLevel(arg string) (protocol.PinLevel, error) {
	switch arg {
	case "high", "1", "true":
		return true, nil
	case "low", "0", "false":
		return false, nil
	default:
		return false, fmt.Errorf("%q is not a level (high or low)", arg)
	}
}

// parseFunction maps command arguments to a pin function. nil means
// release the pin.
func parseFunction(args []string) (*protocol.PinFunction, error) {
	option := ""
	if len(args) > 1 {
		option = args[1]
	}
	switch args[0] {
	case "none":
		if option != "" {
			return nil, fmt.Errorf("none takes no option")
		}
		return nil, nil
	case "input":
		var fn protocol.PinFunction
		switch option {
		case "":
			fn = protocol.Input()
		case "pullup":
			fn = protocol.InputWithPull(protocol.PullUp)
		case "pulldown":
			fn = protocol.InputWithPull(protocol.PullDown)
		case "pullnone":
			fn = protocol.InputWithPull(protocol.PullNone)
		default:
			return nil, fmt.Errorf("%q is not a pull (pullup, pulldown or pullnone)", option)
		}
		return &fn, nil
	case "output":
		var fn protocol.PinFunction
		if option == "" {
			fn = protocol.Output()
		} else {
			level, err := parseLevel(option)
			if err != nil {
				return nil, err
			}
			fn = protocol.OutputWithLevel(level)
		}
		return &fn, nil
	default:
		return nil, fmt.Errorf("%q is not a pin function (none, input or output)", args[0])
	}
}

func init() {
	rootCmd.AddCommand(setCmd)
	rootCmd.AddCommand(writeCmd)
}
