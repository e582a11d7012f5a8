package config

import (
	"io"

	"github.com/robotalks/etee.go/pkg/etee"
	"github.com/robotalks/etee.go/pkg/serialport"
	"github.com/robotalks/etee.go/pkg/widget"
)

// LoadSchema loads the configured schema file or the built-in schema.
func (c *Config) LoadSchema() (*widget.Schema, error) {
	if c.Schema == "" {
		return etee.DefaultSchema(), nil
	}
	return widget.LoadSchemaFile(c.Schema)
}

// EteeConfig returns the session parameters.
func (c *Config) EteeConfig() etee.Config {
	conf := etee.DefaultConfig()
	conf.Absolute = c.Absolute
	if c.HandLostTimeout > 0 {
		conf.HandLostTimeout = c.HandLostTimeout
	}
	if c.KeepAlive > 0 {
		conf.Driver.KeepAlivePeriod = c.KeepAlive
	}
	// the port returns timeouts on its own.
	conf.Driver.TransportTimeout = true
	return conf
}

// NewController creates a session from the configuration, not connected.
func (c *Config) NewController() (*etee.Controller, error) {
	schema, err := c.LoadSchema()
	if err != nil {
		return nil, err
	}
	return etee.New(schema, c.EteeConfig()), nil
}

// Opener returns the func opening the configured serial port.
func (c *Config) Opener() func() (io.ReadWriter, error) {
	return serialport.Opener(c.Serial)
}
