package configutils

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const leafConfig = `imports:
  - intermediate.yaml

training:
  learning_rate: 0.0001
`

const intermediateConfig = `imports:
  - base.yaml
  -

training:
  num_train_epochs: 2
`

const baseConfig = `
training:
  learning_rate: 0.0002
  seed: 42
`

const expectedConfig = `imports:
    - intermediate.yaml
training:
    learning_rate: 0.0001
    num_train_epochs: 2
    seed: 42
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0666))
	return path
}

func TestResolveAndMergeFile(t *testing.T) {
	t.Run("imports are merged children first", func(t *testing.T) {
		dir := t.TempDir()
		leaf := writeFile(t, dir, "leaf.yaml", leafConfig)
		writeFile(t, dir, "intermediate.yaml", intermediateConfig)
		writeFile(t, dir, "base.yaml", baseConfig)

		v := viper.New()
		require.NoError(t, ResolveAndMergeFile(v, leaf))

		out := filepath.Join(dir, "out.yaml")
		require.NoError(t, v.WriteConfigAs(out))
		written, err := os.ReadFile(out)
		require.NoError(t, err)
		assert.Equal(t, expectedConfig, string(written))
	})

	t.Run("missing absolute import", func(t *testing.T) {
		dir := t.TempDir()
		missing := filepath.Join(dir, "missing.yaml")
		path := writeFile(t, dir, "test.yaml", fmt.Sprintf("imports:\n- %q", missing))

		err := ResolveAndMergeFile(viper.New(), path)
		assert.ErrorContains(t, err, "no such file or directory")
	})

	t.Run("malformed import", func(t *testing.T) {
		dir := t.TempDir()
		leaf := writeFile(t, dir, "leaf.yaml", leafConfig)
		writeFile(t, dir, "intermediate.yaml", "malformed")

		err := ResolveAndMergeFile(viper.New(), leaf)
		assert.ErrorContains(t, err, "could not resolve configuration imports")
	})

	t.Run("missing transitive import", func(t *testing.T) {
		dir := t.TempDir()
		leaf := writeFile(t, dir, "leaf.yaml", leafConfig)
		writeFile(t, dir, "intermediate.yaml", intermediateConfig)

		err := ResolveAndMergeFile(viper.New(), leaf)
		assert.ErrorContains(t, err, "no such file or directory")
	})

	t.Run("cyclic imports terminate", func(t *testing.T) {
		dir := t.TempDir()
		a := writeFile(t, dir, "a.yaml", "imports:\n  - b.yaml\nx: 1\n")
		writeFile(t, dir, "b.yaml", "imports:\n  - a.yaml\ny: 2\n")

		v := viper.New()
		require.NoError(t, ResolveAndMergeFile(v, a))
		assert.Equal(t, 1, v.GetInt("x"))
		assert.Equal(t, 2, v.GetInt("y"))
	})

	t.Run("unsupported extension", func(t *testing.T) {
		dir := t.TempDir()
		path := writeFile(t, dir, "config.bogus", "x: 1")

		err := ResolveAndMergeFile(viper.New(), path)
		assert.ErrorContains(t, err, "unsupported configuration file extension")
	})
}

type bindTarget struct {
	Model struct {
		Name string `mapstructure:"name"`
	} `mapstructure:"model"`
	Training *struct {
		Seed int `mapstructure:"seed"`
	} `mapstructure:"training"`
	Ignored string
}

func TestBindEnvsRecursive(t *testing.T) {
	t.Setenv("SFT_TEST_MODEL_NAME", "qwen")
	t.Setenv("SFT_TEST_TRAINING_SEED", "7")

	v, err := NewViper("SFT_TEST", nil, "")
	require.NoError(t, err)

	var target bindTarget
	require.NoError(t, BindEnvsRecursive(v, &target, ""))
	require.NoError(t, v.Unmarshal(&target))

	assert.Equal(t, "qwen", target.Model.Name)
	require.NotNil(t, target.Training)
	assert.Equal(t, 7, target.Training.Seed)
	assert.Empty(t, target.Ignored)
}

type squashTarget struct {
	Inner struct {
		Run struct {
			OutputDir string `mapstructure:"output_dir"`
		} `mapstructure:"run"`
	} `mapstructure:",squash"`
}

func TestBindEnvsRecursive_Squash(t *testing.T) {
	t.Setenv("SFT_TEST_RUN_OUTPUT_DIR", "/tmp/out")

	v, err := NewViper("SFT_TEST", nil, "")
	require.NoError(t, err)

	var target squashTarget
	require.NoError(t, BindEnvsRecursive(v, &target, ""))
	require.NoError(t, v.Unmarshal(&target))
	assert.Equal(t, "/tmp/out", target.Inner.Run.OutputDir)
}

func TestNewViper_BindsDebugFlag(t *testing.T) {
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.Bool("debug", false, "")
	require.NoError(t, flags.Parse([]string{"--debug"}))

	v, err := NewViper("SFT_TEST", flags, "")
	require.NoError(t, err)
	assert.True(t, v.GetBool("debug"))
}
