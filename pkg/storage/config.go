package storage

import (
	"fmt"
)

// Config holds the publishing target for run artifacts.
type Config struct {
	Enabled  bool   `mapstructure:"enabled"`
	Provider string `mapstructure:"provider"`
	Bucket   string `mapstructure:"bucket"`
	Region   string `mapstructure:"region"`
	Endpoint string `mapstructure:"endpoint"`
	Prefix   string `mapstructure:"prefix"`

	// Static keys take precedence over the default AWS credential chain.
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	SessionToken    string `mapstructure:"session_token"`

	// RoleARN is assumed through STS on top of whichever base credentials apply.
	RoleARN         string `mapstructure:"role_arn"`
	RoleSessionName string `mapstructure:"role_session_name"`

	// PartSize is in bytes; zero picks the provider default.
	PartSize    int64 `mapstructure:"part_size"`
	Concurrency int   `mapstructure:"concurrency"`
}

// Validate checks that an enabled configuration names a reachable target.
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if Provider(c.Provider) != ProviderS3 {
		return NewError("validate", "", c.Provider, fmt.Errorf("%w: unsupported provider %q", ErrInvalidConfig, c.Provider))
	}
	if c.Bucket == "" {
		return NewError("validate", "", c.Provider, fmt.Errorf("%w: bucket is required", ErrInvalidConfig))
	}
	if (c.AccessKeyID == "") != (c.SecretAccessKey == "") {
		return NewError("validate", "", c.Provider, fmt.Errorf("%w: access_key_id and secret_access_key must be set together", ErrInvalidConfig))
	}
	return nil
}
