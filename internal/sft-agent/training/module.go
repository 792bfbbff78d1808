package training

import (
	"context"
	"fmt"

	"github.com/spf13/viper"
	"go.uber.org/fx"

	"github.com/sgl-project/sft-agent/pkg/afero"
	"github.com/sgl-project/sft-agent/pkg/logging"
	"github.com/sgl-project/sft-agent/pkg/sft"
	"github.com/sgl-project/sft-agent/pkg/sft/sidecar"
	"github.com/sgl-project/sft-agent/pkg/storage"
	"github.com/sgl-project/sft-agent/pkg/storage/s3"
)

type agentParams struct {
	fx.In

	AnotherLogger logging.Interface `name:"another_log"`
	Fs            afero.Fs          `optional:"true"`
}

// Module provides an *Agent wired to the training sidecar and, when enabled,
// the S3 uploader.
var Module = fx.Provide(
	func(v *viper.Viper, params agentParams) (*Agent, error) {
		config, err := NewConfig(
			WithViper(v),
			WithAnotherLog(params.AnotherLogger),
			WithAppParams(params),
		)
		if err != nil {
			return nil, fmt.Errorf("error creating training agent config: %+v", err)
		}
		if err := config.Validate(); err != nil {
			return nil, fmt.Errorf("training agent config invalid: %v", err)
		}

		engine, err := NewSidecarEngine(config)
		if err != nil {
			return nil, err
		}
		uploader, err := NewUploader(context.Background(), config)
		if err != nil {
			return nil, err
		}
		return NewAgent(config, engine, uploader)
	})

// NewSidecarEngine connects the configured runtime endpoint.
func NewSidecarEngine(config *Config) (sft.Engine, error) {
	client, err := sidecar.NewClient(sidecar.Config{
		Endpoint:       config.Runtime.Endpoint,
		PollInterval:   config.Runtime.PollInterval,
		StartupTimeout: config.Runtime.StartupTimeout,
		Logger:         config.AnotherLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("error creating sidecar client: %w", err)
	}
	return client, nil
}

// NewUploader returns nil when publishing is disabled.
func NewUploader(ctx context.Context, config *Config) (storage.Uploader, error) {
	if !config.Upload.Enabled {
		return nil, nil
	}
	uploader, err := s3.New(ctx, config.Upload, config.Fs, config.AnotherLogger)
	if err != nil {
		return nil, fmt.Errorf("error creating uploader: %w", err)
	}
	return uploader, nil
}
