package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"pinion/controller"
	"pinion/internal/cli"
	"pinion/transport"
)

var (
	verbosity string
	logFormat string

	ipFlag        string
	portFlag      uint16
	nodeFlag      string
	relayFlag     string
	addrFlag      string
	usbSerialFlag string
)

var rootCmd = &cobra.Command{
	Use:           "pinionctl",
	Short:         "control pinion GPIO devices",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&verbosity, "verbosity", "warn", "log level (debug, info, warn, error)")
	pf.StringVar(&logFormat, "log-format", "text", "log format (json, text)")
	pf.StringVar(&ipFlag, "ip", "", "connect over TCP to this device IP")
	pf.Uint16Var(&portFlag, "port", 0, "TCP port of the device listener")
	pf.StringVar(&nodeFlag, "node", "", "connect over P2P to this node id")
	pf.StringVar(&relayFlag, "relay", "", "relay URL for P2P when no direct address is known")
	pf.StringVar(&addrFlag, "addr", "", "direct address for P2P")
	pf.StringVar(&usbSerialFlag, "usb-serial", "", "connect over USB to this serial number")

	viper.BindPFlag("verbosity", pf.Lookup("verbosity"))
	viper.BindPFlag("log-format", pf.Lookup("log-format"))
	viper.SetEnvPrefix("PINION")
	viper.AutomaticEnv()
}

// targetFromFlags resolves the connection flags into one target.
func targetFromFlags() (transport.Target, error) {
	switch {
	case ipFlag != "":
		ip := net.ParseIP(ipFlag)
		if ip == nil {
			return transport.NoTarget(), fmt.Errorf("%q is not an IP address", ipFlag)
		}
		if portFlag == 0 {
			return transport.NoTarget(), fmt.Errorf("--ip needs --port")
		}
		return transport.TCPTarget(ip, portFlag), nil
	case nodeFlag != "":
		return transport.P2PTarget(nodeFlag, relayFlag, addrFlag), nil
	case usbSerialFlag != "":
		return transport.USBTarget(usbSerialFlag), nil
	default:
		return transport.NoTarget(), fmt.Errorf("specify a device with --ip/--port, --node or --usb-serial")
	}
}

// withDevice connects to the flagged device, hands the live controller
// to fn and disconnects afterwards.
func withDevice(fn func(ctx context.Context, ctrl *controller.Controller, connected controller.Connected) error) error {
	log, err := cli.SetupLogger(viper.GetString("verbosity"), viper.GetString("log-format"))
	if err != nil {
		return err
	}
	target, err := targetFromFlags()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctrl := controller.New(log, &transport.Connector{Log: log})
	go ctrl.Run(ctx)

	if err := ctrl.Connect(ctx, target); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-ctrl.Events():
			switch ev := ev.(type) {
			case controller.Connected:
				ferr := fn(ctx, ctrl, ev)
				disconnect(ctx, ctrl)
				return ferr
			case controller.ConnectionError:
				return ev.Err
			}
		}
	}
}

// disconnect retargets to nothing and gives the goodbye a moment to go
// out.
func disconnect(ctx context.Context, ctrl *controller.Controller) {
	if ctx.Err() != nil {
		return
	}
	ctrl.Connect(ctx, transport.NoTarget())
	deadline := time.After(time.Second)
	for {
		select {
		case ev := <-ctrl.Events():
			if _, ok := ev.(controller.Disconnected); ok {
				return
			}
		case <-deadline:
			return
		case <-ctx.Done():
			return
		}
	}
}
