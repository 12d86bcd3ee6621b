// Package daemon holds what makes piniond a well-behaved long-running
// process: duplicate-instance detection, the listener info file other
// tooling reads, and system service installation.
package daemon

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/shirou/gopsutil/v4/process"
	"gopkg.in/yaml.v3"
)

// InfoFileName is written next to the executable when the daemon
// starts, so other tools can find a running instance's listeners.
const InfoFileName = "piniond.info"

// Info is what a running daemon publishes about itself.
type Info struct {
	PID      int    `yaml:"pid"`
	Serial   string `yaml:"serial,omitempty"`
	IP       string `yaml:"ip,omitempty"`
	Port     uint16 `yaml:"port,omitempty"`
	NodeID   string `yaml:"node,omitempty"`
	RelayURL string `yaml:"relay,omitempty"`
}

// InfoFilePath is the info file location for this executable.
func InfoFilePath() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("daemon: locating executable: %w", err)
	}
	return filepath.Join(filepath.Dir(exe), InfoFileName), nil
}

// WriteInfoFile publishes info next to the executable.
func WriteInfoFile(info Info) error {
	path, err := InfoFilePath()
	if err != nil {
		return err
	}
	return WriteInfoFileAt(path, info)
}

// WriteInfoFileAt publishes info at an explicit path.
func WriteInfoFileAt(path string, info Info) error {
	data, err := yaml.Marshal(&info)
	if err != nil {
		return fmt.Errorf("daemon: marshal info: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("daemon: write %s: %w", path, err)
	}
	return nil
}

// ReadInfoFileAt loads a published info file.
func ReadInfoFileAt(path string) (Info, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Info{}, fmt.Errorf("daemon: read %s: %w", path, err)
	}
	var info Info
	if err := yaml.Unmarshal(data, &info); err != nil {
		return Info{}, fmt.Errorf("daemon: parse %s: %w", path, err)
	}
	return info, nil
}

// RemoveInfoFile withdraws the published info on shutdown.
func RemoveInfoFile() {
	if path, err := InfoFilePath(); err == nil {
		os.Remove(path)
	}
}

// CheckUnique scans the process table for another instance with the
// same name. When one is found, the returned error describes it, with
// listener details when its info file is readable.
func CheckUnique(name string) error {
	procs, err := process.Processes()
	if err != nil {
		return fmt.Errorf("daemon: scanning processes: %w", err)
	}
	self := os.Getpid()
	for _, p := range procs {
		pname, nerr := p.Name()
		if nerr != nil || pname != name || int(p.Pid) == self {
			continue
		}
		if path, perr := InfoFilePath(); perr == nil {
			if info, rerr := ReadInfoFileAt(path); rerr == nil {
				return fmt.Errorf("daemon: %s already running as pid %d (tcp %s:%d, node %s)",
					name, p.Pid, info.IP, info.Port, info.NodeID)
			}
		}
		return fmt.Errorf("daemon: %s already running as pid %d", name, p.Pid)
	}
	return nil
}
