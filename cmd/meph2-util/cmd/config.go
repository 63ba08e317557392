package cmd

import (
	"github.com/spf13/viper"
)

// CLIConfig describes the meph2-util configuration file.
type CLIConfig struct {
	// keep field names identical to the serialized names for viper
	Keyring  string   `json:"keyring" yaml:"keyring"`   // keyring for .sjson verification
	KeyID    string   `json:"keyid" yaml:"keyid"`       // signing key
	Grace    string   `json:"grace" yaml:"grace"`       // default orphan grace period
	Sticky   []string `json:"sticky" yaml:"sticky"`     // fields never condensed upward
	Labels   []string `json:"labels" yaml:"labels"`     // label tokens recognized in content ids
	LogLevel string   `json:"loglevel" yaml:"loglevel"` // info, debug or none
}

func newConfig() (*CLIConfig, error) {
	var config CLIConfig
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}
	return &config, nil
}

// setDefaults fills flag values the command line left empty.
func (c *CLIConfig) setDefaults(flags *flagsT) {
	if flags.sign.keyring == "" {
		flags.sign.keyring = c.Keyring
	}
	if flags.sign.keyID == "" {
		flags.sign.keyID = c.KeyID
	}
	if flags.orphan.grace == "" {
		flags.orphan.grace = c.Grace
	}
	if flags.root.logLevel == "" && c.LogLevel != "" {
		flags.root.logLevel = c.LogLevel
	}
}
