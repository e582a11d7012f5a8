// Package config loads the daemon configuration from a YAML file, ETEE_*
// environment variables and command line flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/denisbrodbeck/machineid"
	"github.com/golang/glog"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/robotalks/etee.go/pkg/serialport"
)

// Names used to locate the configuration.
const (
	AppName    = "etee"
	ConfigName = "config"
	EnvPrefix  = "ETEE"
	EnvConfig  = EnvPrefix + "_CONFIG"
	FlagConfig = "config"
)

// MQTTConfig defines telemetry publishing to MQTT.
type MQTTConfig struct {
	// URL is like mqtt://host:1883/etee/, empty disables MQTT.
	URL      string        `yaml:"url" mapstructure:"url"`
	ClientID string        `yaml:"client-id" mapstructure:"client-id"`
	Retain   bool          `yaml:"retain" mapstructure:"retain"`
	Events   bool          `yaml:"events" mapstructure:"events"`
	Format   string        `yaml:"format" mapstructure:"format"`
	Interval time.Duration `yaml:"interval" mapstructure:"interval"`
}

// WebSocketConfig defines the snapshot stream endpoint.
type WebSocketConfig struct {
	// Listen is the HTTP listen address, empty disables the endpoint.
	Listen string `yaml:"listen" mapstructure:"listen"`
	Path   string `yaml:"path" mapstructure:"path"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Config is the daemon configuration.
type Config struct {
	Serial serialport.Config `yaml:"serial" mapstructure:"serial"`
	// Schema is the path of the data packet schema, empty for the built-in.
	Schema          string          `yaml:"schema" mapstructure:"schema"`
	Absolute        bool            `yaml:"absolute" mapstructure:"absolute"`
	UpdateOffsets   bool            `yaml:"update-offsets" mapstructure:"update-offsets"`
	HandLostTimeout time.Duration   `yaml:"hand-lost-timeout" mapstructure:"hand-lost-timeout"`
	KeepAlive       time.Duration   `yaml:"keep-alive" mapstructure:"keep-alive"`
	MQTT            MQTTConfig      `yaml:"mqtt" mapstructure:"mqtt"`
	WebSocket       WebSocketConfig `yaml:"websocket" mapstructure:"websocket"`
}

var defaultConfig = Config{
	Serial: serialport.Config{
		Name:        defaultPort(),
		Baud:        serialport.DefaultBaudRate,
		ReadTimeout: serialport.DefaultReadTimeout,
	},
	UpdateOffsets:   true,
	HandLostTimeout: 100 * time.Millisecond,
	KeepAlive:       5 * time.Second,
	MQTT: MQTTConfig{
		Events:   true,
		Format:   "json",
		Interval: 20 * time.Millisecond,
	},
	WebSocket: WebSocketConfig{
		Path:   "/ws",
		Format: "json",
	},
}

func defaultPort() string {
	if val := os.Getenv("ETEE_PORT"); val != "" {
		return val
	}
	return "/dev/ttyACM0"
}

// NewConfig creates a Config with default values.
func NewConfig() *Config {
	conf := defaultConfig
	return &conf
}

// DefaultPath returns the default location of the config file.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ConfigName+".yaml")
	}
	return filepath.Join(home, ".config", AppName, ConfigName+".yaml")
}

// SearchPaths lists the directories searched for config.yaml.
func SearchPaths() []string {
	var paths []string
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", AppName))
	}
	return append(paths, filepath.Join("/etc", AppName), ".")
}

// flagKeys maps command line flags to config keys.
var flagKeys = map[string]string{
	"port":      "serial.name",
	"baud":      "serial.baud",
	"schema":    "schema",
	"absolute":  "absolute",
	"mqtt":      "mqtt.url",
	"format":    "mqtt.format",
	"listen":    "websocket.listen",
	"lost-time": "hand-lost-timeout",
}

// AddFlags registers the flags overriding the configuration.
func AddFlags(fs *pflag.FlagSet) {
	fs.String(FlagConfig, "", "config file path, also "+EnvConfig)
	fs.StringP("port", "p", defaultConfig.Serial.Name, "serial port of the dongle")
	fs.Int("baud", defaultConfig.Serial.Baud, "baud rate")
	fs.String("schema", "", "data packet schema file, built-in if empty")
	fs.Bool("absolute", false, "use the magnetometer for absolute orientation")
	fs.String("mqtt", "", "MQTT broker URL, e.g. mqtt://localhost:1883/etee/")
	fs.String("format", defaultConfig.MQTT.Format, "MQTT payload format: json or proto")
	fs.StringP("listen", "l", "", "WebSocket listen address, e.g. :8080")
	fs.Duration("lost-time", defaultConfig.HandLostTimeout, "silence before a hand is lost")
}

func setDefaults(v *viper.Viper) error {
	// round trip the defaults through YAML to get nested keys.
	data, err := yaml.Marshal(&defaultConfig)
	if err != nil {
		return err
	}
	var m map[string]interface{}
	if err = yaml.Unmarshal(data, &m); err != nil {
		return err
	}
	var walk func(prefix string, m map[string]interface{})
	walk = func(prefix string, m map[string]interface{}) {
		for key, val := range m {
			if sub, ok := val.(map[string]interface{}); ok {
				walk(prefix+key+".", sub)
				continue
			}
			v.SetDefault(prefix+key, val)
		}
	}
	walk("", m)
	return nil
}

// Load reads the configuration. The file is taken from the config flag,
// ETEE_CONFIG, or the search paths, in that order. Environment variables
// like ETEE_SERIAL_NAME and changed flags override the file.
func Load(fs *pflag.FlagSet) (*Config, *viper.Viper, error) {
	v := viper.New()
	if err := setDefaults(v); err != nil {
		return nil, nil, err
	}

	var path string
	if fs != nil {
		path, _ = fs.GetString(FlagConfig)
	}
	if path == "" {
		path = os.Getenv(EnvConfig)
	}
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(ConfigName)
		v.SetConfigType("yaml")
		for _, dir := range SearchPaths() {
			v.AddConfigPath(dir)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if fs != nil {
		for name, key := range flagKeys {
			if f := fs.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, nil, err
				}
			}
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, nil, fmt.Errorf("read config: %w", err)
		}
		glog.V(1).Info("config: no config file, using defaults")
	} else {
		glog.Infof("config: using %s", v.ConfigFileUsed())
	}

	conf := NewConfig()
	if err := v.Unmarshal(conf); err != nil {
		return nil, nil, fmt.Errorf("parse config: %w", err)
	}
	return conf, v, nil
}

// Marshal encodes the configuration as YAML.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

// ErrExists is returned by Save when the file exists and overwrite is not
// allowed.
var ErrExists = errors.New("config file exists")

// Save writes the configuration to path, creating the directory.
func (c *Config) Save(path string, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%w: %s", ErrExists, path)
		}
	}
	data, err := c.Marshal()
	if err != nil {
		return err
	}
	if err = os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// ClientID returns the configured MQTT client id, or one derived from the
// machine id.
func (c *Config) ClientID() string {
	if c.MQTT.ClientID != "" {
		return c.MQTT.ClientID
	}
	return DefaultClientID()
}

// DefaultClientID derives a stable MQTT client id from the machine id.
func DefaultClientID() string {
	id, err := machineid.ProtectedID(AppName)
	if err != nil {
		glog.Warningf("config: machine id: %v", err)
		host, _ := os.Hostname()
		return AppName + "-" + host
	}
	if len(id) > 12 {
		id = id[:12]
	}
	return AppName + "-" + id
}
