package discovery

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"pinion/transport"
)

// DirectoryEntry is one known P2P device.
type DirectoryEntry struct {
	Serial   string `yaml:"serial"`
	Model    string `yaml:"model,omitempty"`
	NodeID   string `yaml:"node"`
	RelayURL string `yaml:"relay,omitempty"`
	Addr     string `yaml:"addr,omitempty"`
}

// Directory reports P2P devices listed in a YAML file. P2P nodes have
// no broadcast to listen for, so reachability goes through a curated
// list that can be edited while discovery runs.
type Directory struct {
	Path string
}

// NewDirectory returns a producer over the file at path.
func NewDirectory(path string) *Directory {
	return &Directory{Path: path}
}

// Scan rereads the file. A missing file is an empty directory, not an
// error.
func (d *Directory) Scan(_ context.Context) ([]Device, error) {
	data, err := os.ReadFile(d.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("discovery: reading directory %s: %w", d.Path, err)
	}
	var entries []DirectoryEntry
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("discovery: parsing directory %s: %w", d.Path, err)
	}

	devices := make([]Device, 0, len(entries))
	for _, entry := range entries {
		if entry.NodeID == "" {
			continue
		}
		serial := entry.Serial
		if serial == "" {
			serial = entry.NodeID
		}
		devices = append(devices, Device{
			Serial: serial,
			Model:  entry.Model,
			Method: transport.MethodP2P,
			Target: transport.P2PTarget(entry.NodeID, entry.RelayURL, entry.Addr),
		})
	}
	return devices, nil
}
