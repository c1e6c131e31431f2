// Package config loads the optional ~/.minidbg/config.yml file.
package config

import (
	"io/ioutil"
	"os"
	"path"

	"gopkg.in/yaml.v2"
)

const (
	configDir  = ".minidbg"
	configFile = "config.yml"

	defaultHistoryFile     = ".minidbg_history"
	defaultSourceListLines = 6
)

// Config defines all options available to be set through the config file.
type Config struct {
	// HistoryFile is where the prompt persists input history.
	HistoryFile string `yaml:"history-file"`
	// SourceListLines is the number of context lines the list command and
	// stop reports print around the current line.
	SourceListLines int `yaml:"source-list-lines"`
	// BuildFlags are extra flags passed to `go build` by the debug subcommand.
	BuildFlags string `yaml:"build-flags"`
}

// LoadConfig populates a Config from the config file. Any failure degrades
// to defaults; the debugger must come up even with no home directory.
func LoadConfig() *Config {
	c := &Config{}
	home, err := os.UserHomeDir()
	if err != nil {
		return c.fillDefaults("")
	}

	data, err := ioutil.ReadFile(path.Join(home, configDir, configFile))
	if err == nil {
		// ignore a malformed file rather than refuse to start
		_ = yaml.Unmarshal(data, c)
	}
	return c.fillDefaults(home)
}

func (c *Config) fillDefaults(home string) *Config {
	if c.HistoryFile == "" && home != "" {
		c.HistoryFile = path.Join(home, defaultHistoryFile)
	}
	if c.SourceListLines <= 0 {
		c.SourceListLines = defaultSourceListLines
	}
	return c
}
