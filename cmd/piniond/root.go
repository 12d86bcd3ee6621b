package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"pinion/daemon"
	"pinion/device"
	"pinion/discovery"
	"pinion/hw"
	"pinion/internal/cli"
	"pinion/persist"
	"pinion/protocol"
)

var (
	installFlag   bool
	uninstallFlag bool
	verbosity     string
	logFormat     string
	enableMDNS    bool
	p2pAddr       string
	storePath     string
)

var rootCmd = &cobra.Command{
	Use:   "piniond [config-file]",
	Short: "pinion GPIO device daemon",
	Long: `piniond owns this machine's GPIO hardware and serves one pinion
controller at a time over TCP or P2P. An optional config file sets the
pin functions applied at boot; later changes are persisted and restored
on the next start.`,
	Args:          cobra.MaximumNArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          run,
}

func init() {
	rootCmd.Flags().BoolVar(&installFlag, "install", false, "install as a system service and exit")
	rootCmd.Flags().BoolVar(&uninstallFlag, "uninstall", false, "uninstall the system service and exit")
	rootCmd.Flags().StringVar(&verbosity, "verbosity", "info", "log level (debug, info, warn, error)")
	rootCmd.Flags().StringVar(&logFormat, "log-format", "text", "log format (json, text)")
	rootCmd.Flags().BoolVar(&enableMDNS, "mdns", true, "announce this device in mDNS")
	rootCmd.Flags().StringVar(&p2pAddr, "p2p", ":0", "UDP listen address for P2P, empty to disable")
	rootCmd.Flags().StringVar(&storePath, "store", "", "config store path (default: pinion.db next to the executable)")

	viper.BindPFlag("verbosity", rootCmd.Flags().Lookup("verbosity"))
	viper.BindPFlag("log-format", rootCmd.Flags().Lookup("log-format"))
	viper.BindPFlag("p2p", rootCmd.Flags().Lookup("p2p"))
	viper.SetEnvPrefix("PINION")
	viper.AutomaticEnv()
}

func run(cmd *cobra.Command, args []string) error {
	configFile := ""
	if len(args) > 0 {
		configFile = args[0]
	}

	if installFlag {
		if err := daemon.Install(configFile); err != nil {
			return err
		}
		fmt.Println("service installed")
		return nil
	}
	if uninstallFlag {
		if err := daemon.Uninstall(); err != nil {
			return err
		}
		fmt.Println("service uninstalled")
		return nil
	}

	log, err := cli.SetupLogger(viper.GetString("verbosity"), viper.GetString("log-format"))
	if err != nil {
		return err
	}
	if err := daemon.CheckUnique(daemon.ServiceName); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Losing the store keeps the daemon alive: hardware control works
	// without persistence.
	var store device.Store
	var kv *persist.KV
	if kv, err = persist.OpenKV(resolveStorePath()); err != nil {
		log.Error("opening config store, continuing without persistence", "err", err)
	} else {
		store = kv
		defer kv.Close()
	}

	initial := protocol.NewHardwareConfig()
	if kv != nil {
		if loaded, lerr := kv.LoadConfig(); lerr != nil {
			log.Error("loading stored config", "err", lerr)
		} else {
			initial = loaded
		}
	}
	if configFile != "" {
		loaded, lerr := persist.LoadFile(configFile)
		if lerr != nil {
			return lerr
		}
		initial = loaded
	}

	session, err := device.NewSession(log, hw.New(log), store, initial)
	if err != nil {
		return err
	}

	tcpDev := device.NewTCPDevice(session, log)
	tcpAddr, err := tcpDev.Bind(ctx)
	if err != nil {
		return err
	}

	var p2pDev *device.P2PDevice
	if p2pAddr != "" {
		if p2pDev, err = device.NewP2PDevice(session, log, nil); err != nil {
			return err
		}
		if err = p2pDev.Listen(p2pAddr); err != nil {
			return err
		}
	}

	details := session.Description().Details
	if enableMDNS {
		extra := map[string]string{}
		if p2pDev != nil {
			extra[protocol.TXTNodeID] = p2pDev.NodeID()
		}
		stopAnnounce, aerr := discovery.Announce(log, details, tcpAddr.Port, extra)
		if aerr != nil {
			log.Warn("mdns announce failed", "err", aerr)
		} else {
			defer stopAnnounce()
		}
	}

	info := daemon.Info{
		PID:    os.Getpid(),
		Serial: details.Serial,
		IP:     net.IP(tcpAddr.IP[:]).String(),
		Port:   tcpAddr.Port,
	}
	if p2pDev != nil {
		info.NodeID = p2pDev.NodeID()
	}
	if err := daemon.WriteInfoFile(info); err != nil {
		log.Warn("writing info file", "err", err)
	}
	defer daemon.RemoveInfoFile()

	log.Info("piniond ready",
		"model", details.Model, "serial", details.Serial,
		"tcp", fmt.Sprintf("%s:%d", info.IP, info.Port), "node", info.NodeID)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return tcpDev.Serve(gctx) })
	if p2pDev != nil {
		g.Go(func() error { return p2pDev.Serve(gctx) })
	}
	if err := g.Wait(); err != nil && ctx.Err() == nil {
		return err
	}
	log.Info("piniond stopped")
	return nil
}

func resolveStorePath() string {
	if storePath != "" {
		return storePath
	}
	exe, err := os.Executable()
	if err != nil {
		return "pinion.db"
	}
	return filepath.Join(filepath.Dir(exe), "pinion.db")
}
