package logging

import (
	"errors"
	"fmt"

	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"
)

// ConfigKey is the root viper key for the process logger.
var ConfigKey = "logging"

// Config holds the configuration for a logger.
type Config struct {
	// Debug forces DEBUG level and the console encoder, whatever Level says.
	// Use "debug=false, level=debug" to keep JSON output at debug verbosity.
	Debug bool `mapstructure:"debug"`

	// Level controls the logging level. Defaults to INFO.
	Level Level `mapstructure:"level"`

	// EncodeTimeAsRFC3339Nano switches timestamps to RFC3339Nano.
	// Otherwise epoch (JSON) or ISO8601 (debug) is used.
	EncodeTimeAsRFC3339Nano bool `mapstructure:"encodeTimeAsRFC3339Nano"`

	// DisableConsoleOutput stops the stdout tee so that only the log file is written.
	// Training runs are long; operators tailing a file do not need a second copy.
	DisableConsoleOutput bool `mapstructure:"disableConsoleOutput"`

	// Logger holds the lumberjack rotation knobs. An empty Filename means no file sink.
	lumberjack.Logger `mapstructure:",squash"`
}

// Option is a configuration option for logging.
type Option func(*Config) error

// Validate ensures the logging Config is valid.
func (c *Config) Validate() error {
	if c.MaxSize < 0 {
		return fmt.Errorf("maxsize must be >= 0, not %d", c.MaxSize)
	}
	if c.MaxBackups < 0 {
		return fmt.Errorf("maxbackups must be >= 0, not %d", c.MaxBackups)
	}
	if c.MaxAge < 0 {
		return fmt.Errorf("maxage days must be >= 0, not %d", c.MaxAge)
	}
	if err := c.Level.Validate(); err != nil {
		return fmt.Errorf("invalid level: %w", err)
	}
	return nil
}

// WithViper reads the configuration under the "logging" key.
func WithViper(v *viper.Viper) Option {
	return WithViperKey(v, ConfigKey)
}

// WithViperKey reads the configuration under configKey. A missing key leaves
// the defaults in place.
func WithViperKey(v *viper.Viper, configKey string) Option {
	return func(c *Config) error {
		if v == nil {
			return errors.New("nil Viper")
		}
		if err := v.UnmarshalKey(configKey, c); err != nil {
			return err
		}
		// the global --debug flag wins over per-logger settings
		if v.GetBool("debug") {
			c.Debug = true
		}
		return nil
	}
}

// WithLevel sets the logging level.
func WithLevel(level Level) Option {
	return func(c *Config) error {
		c.Level = level
		return nil
	}
}

// Apply takes the supplied options and applies them to the configuration.
func (c *Config) Apply(opts ...Option) error {
	for _, o := range opts {
		if o == nil {
			continue
		}
		if err := o(c); err != nil {
			return err
		}
	}
	return nil
}

// NewConfig creates a new logging config with the given options.
func NewConfig(opts ...Option) (*Config, error) {
	c := &Config{}
	if err := c.Apply(opts...); err != nil {
		return nil, err
	}
	return c, nil
}
