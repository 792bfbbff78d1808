package main

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/fx"

	"github.com/sgl-project/sft-agent/pkg/configutils"
	"github.com/sgl-project/sft-agent/pkg/constants"
)

// configProvider builds the viper for an agent run. The config file is
// optional; without one the built-in profile applies.
func configProvider(cli *cobra.Command) fx.Option {
	return fx.Provide(func() (*viper.Viper, error) {
		path := configFilePath
		if path == "" {
			path = constants.AgentConfigFilePath
		}
		return newViper(cli, path)
	})
}

func newViper(cli *cobra.Command, path string) (*viper.Viper, error) {
	v, err := configutils.NewViper(constants.AgentAppName, cli.Flags(), path)
	if err != nil {
		return nil, err
	}

	// UnmarshalKey only sees config and defaults; pin env overrides as values
	for _, key := range v.AllKeys() {
		v.Set(key, v.Get(key))
	}
	return v, nil
}
