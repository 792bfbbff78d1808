package training

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/sgl-project/sft-agent/pkg/afero"
	"github.com/sgl-project/sft-agent/pkg/configutils"
	"github.com/sgl-project/sft-agent/pkg/constants"
	"github.com/sgl-project/sft-agent/pkg/dataset"
	"github.com/sgl-project/sft-agent/pkg/logging"
	"github.com/sgl-project/sft-agent/pkg/storage"
)

// Templater sources for record formatting.
const (
	TemplateSidecar = "sidecar"
	TemplateChatML  = "chatml"
)

type Config struct {
	AnotherLogger logging.Interface
	Fs            afero.Fs
	Stdout        io.Writer

	Profile `mapstructure:",squash"`

	Runtime RuntimeConfig  `mapstructure:"runtime"`
	Archive ArchiveConfig  `mapstructure:"archive"`
	Upload  storage.Config `mapstructure:"upload"`
}

type RuntimeConfig struct {
	Endpoint        string        `mapstructure:"endpoint" validate:"required"`
	PollInterval    time.Duration `mapstructure:"poll_interval"`
	StartupTimeout  time.Duration `mapstructure:"startup_timeout"`
	Template        string        `mapstructure:"template" validate:"oneof=sidecar chatml"`
	FormatBatchSize int           `mapstructure:"format_batch_size"`
}

type ArchiveConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// Option represents a configuration option.
type Option func(*Config) error

// Apply applies the given options to the configuration.
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

// DefaultConfig returns the built-in profile with a local sidecar.
func DefaultConfig() *Config {
	return &Config{
		Fs:      afero.NewOsFs(),
		Stdout:  os.Stdout,
		Profile: DefaultProfile(),
		Runtime: RuntimeConfig{
			Endpoint:        constants.DefaultSidecarEndpoint,
			PollInterval:    time.Minute,
			StartupTimeout:  30 * time.Minute,
			Template:        constants.DefaultTemplateSource,
			FormatBatchSize: constants.DefaultFormatBatchSize,
		},
		Upload: storage.Config{Provider: string(storage.ProviderS3)},
	}
}

// NewConfig builds a configuration from the defaults and the given options.
func NewConfig(opts ...Option) (*Config, error) {
	c := DefaultConfig()
	if err := c.Apply(opts...); err != nil {
		return nil, err
	}
	return c, nil
}

// WithAnotherLog sets the logger for the configuration.
func WithAnotherLog(logger logging.Interface) Option {
	return func(c *Config) error {
		c.AnotherLogger = logger
		return nil
	}
}

// WithFs sets the filesystem every stage reads and writes through.
func WithFs(fs afero.Fs) Option {
	return func(c *Config) error {
		c.Fs = fs
		return nil
	}
}

// WithStdout sets where diagnostics and the completion summary are printed.
func WithStdout(w io.Writer) Option {
	return func(c *Config) error {
		c.Stdout = w
		return nil
	}
}

// WithViper overlays values from v on top of the defaults. Lists given in v
// replace the default lists instead of merging into them.
func WithViper(v *viper.Viper) Option {
	return func(c *Config) error {
		if err := configutils.BindEnvsRecursive(v, c, ""); err != nil {
			return fmt.Errorf("error occurred when binding environment variables: %+v", err)
		}

		if err := v.Unmarshal(c, func(dc *mapstructure.DecoderConfig) {
			dc.ZeroFields = true
		}); err != nil {
			return fmt.Errorf("error occurred when unmarshalling config: %+v", err)
		}
		return nil
	}
}

// WithAppParams resolves injected dependencies.
func WithAppParams(params agentParams) Option {
	return func(c *Config) error {
		if params.Fs != nil {
			c.Fs = params.Fs
		}
		return nil
	}
}

func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return err
	}
	if _, err := dataset.ParsePolicy(c.Run.MissingMessages); err != nil {
		return err
	}
	if c.AnotherLogger == nil {
		return fmt.Errorf("logger is required")
	}
	if c.Fs == nil {
		return fmt.Errorf("filesystem is required")
	}
	return c.Upload.Validate()
}
