package daemon

import (
	"fmt"

	"github.com/kardianos/service"
)

// ServiceName is the name piniond registers under with the system's
// service manager.
const ServiceName = "piniond"

func serviceConfig(configFile string) *service.Config {
	cfg := &service.Config{
		Name:        ServiceName,
		DisplayName: "pinion GPIO daemon",
		Description: "Exposes this machine's GPIO hardware to pinion controllers.",
	}
	if configFile != "" {
		cfg.Arguments = []string{configFile}
	}
	return cfg
}

// program satisfies service.Interface for install and uninstall, which
// never start the payload.
type program struct{}

func (program) Start(service.Service) error { return nil }
func (program) Stop(service.Service) error  { return nil }

// Install registers the daemon with the system service manager, passing
// configFile through to the installed command line.
func Install(configFile string) error {
	svc, err := service.New(program{}, serviceConfig(configFile))
	if err != nil {
		return fmt.Errorf("daemon: service setup: %w", err)
	}
	if err := svc.Install(); err != nil {
		return fmt.Errorf("daemon: installing service: %w", err)
	}
	return nil
}

// Uninstall removes the registered service.
func Uninstall() error {
	svc, err := service.New(program{}, serviceConfig(""))
	if err != nil {
		return fmt.Errorf("daemon: service setup: %w", err)
	}
	if err := svc.Uninstall(); err != nil {
		return fmt.Errorf("daemon: uninstalling service: %w", err)
	}
	return nil
}
