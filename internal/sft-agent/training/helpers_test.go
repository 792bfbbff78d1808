package training

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/sgl-project/sft-agent/pkg/afero"
	"github.com/sgl-project/sft-agent/pkg/dataset"
	"github.com/sgl-project/sft-agent/pkg/logging"
	"github.com/sgl-project/sft-agent/pkg/sft"
	"github.com/sgl-project/sft-agent/pkg/storage"
)

const testOutputDir = "/work/output/resume-auditor-v1"

var testDataFiles = []string{
	"/work/data/resume_analysis.jsonl",
	"/work/data/career_guidance.jsonl",
	"/work/data/resume_generation.jsonl",
	"/work/data/outreach_messages.jsonl",
	"/work/data/salary_negotiation.jsonl",
}

// stubEngine records every capability call in order.
type stubEngine struct {
	calls      []string
	failOn     map[string]error
	trainReqs  []sft.TrainRequest
	loadReqs   []sft.LoadRequest
	adapters   []sft.AdapterSpec
	exportPath string
	fs         afero.Fs
}

func newStubEngine(fs afero.Fs) *stubEngine {
	return &stubEngine{
		failOn:     map[string]error{},
		exportPath: filepath.Join(testOutputDir, "unsloth.Q4_K_M.gguf"),
		fs:         fs,
	}
}

func (s *stubEngine) call(name string) error {
	s.calls = append(s.calls, name)
	return s.failOn[name]
}

func (s *stubEngine) LoadModel(_ context.Context, req sft.LoadRequest) (*sft.Model, error) {
	s.loadReqs = append(s.loadReqs, req)
	if err := s.call("load"); err != nil {
		return nil, err
	}
	return &sft.Model{ID: "m-1", Name: req.ModelName, MaxSeqLength: req.MaxSeqLength}, nil
}

func (s *stubEngine) InjectAdapters(_ context.Context, _ *sft.Model, spec sft.AdapterSpec) (*sft.AdapterInfo, error) {
	s.adapters = append(s.adapters, spec)
	if err := s.call("inject"); err != nil {
		return nil, err
	}
	return &sft.AdapterInfo{TrainableParams: 100, TotalParams: 1000}, nil
}

func (s *stubEngine) TemplaterFor(_ *sft.Model) dataset.Templater {
	return stubTemplater{engine: s}
}

func (s *stubEngine) Train(_ context.Context, _ *sft.Model, req sft.TrainRequest) (*sft.TrainResult, error) {
	s.trainReqs = append(s.trainReqs, req)
	if err := s.call("train"); err != nil {
		return nil, err
	}
	return &sft.TrainResult{GlobalStep: 9, TrainingLoss: 0.5}, nil
}

func (s *stubEngine) SaveCheckpoint(_ context.Context, _ *sft.Model, dir string) error {
	if err := s.call("save"); err != nil {
		return err
	}
	return afero.WriteFile(s.fs, filepath.Join(dir, "adapter_model.safetensors"), []byte("weights"), 0o644)
}

func (s *stubEngine) Export(_ context.Context, _ *sft.Model, _ sft.ExportRequest) (*sft.ExportResult, error) {
	if err := s.call("export"); err != nil {
		return nil, err
	}
	if err := afero.WriteFile(s.fs, s.exportPath, []byte("gguf"), 0o644); err != nil {
		return nil, err
	}
	return &sft.ExportResult{Path: s.exportPath}, nil
}

func (s *stubEngine) TrainingMetrics(_ context.Context) ([]byte, error) {
	if err := s.call("metrics"); err != nil {
		return nil, err
	}
	return []byte(`{"train_loss":0.5}`), nil
}

func (s *stubEngine) Terminate(_ context.Context) error {
	return s.call("terminate")
}

type stubTemplater struct {
	engine *stubEngine
}

func (t stubTemplater) ApplyChatTemplate(_ context.Context, convs [][]dataset.Turn, _ bool) ([]string, error) {
	if err := t.engine.call("chat_template"); err != nil {
		return nil, err
	}
	out := make([]string, len(convs))
	for i, c := range convs {
		var b strings.Builder
		for _, turn := range c {
			b.WriteString(turn.Role + ":" + turn.Content + ";")
		}
		out[i] = b.String()
	}
	return out, nil
}

type stubUploader struct {
	keys []string
	err  error
}

func (u *stubUploader) Provider() storage.Provider { return storage.ProviderS3 }

func (u *stubUploader) Upload(_ context.Context, source, target string) (*storage.ObjectInfo, error) {
	if u.err != nil {
		return nil, u.err
	}
	u.keys = append(u.keys, target)
	return &storage.ObjectInfo{Bucket: "models", Key: target}, nil
}

func writeData(t *testing.T, fs afero.Fs, counts ...int) {
	t.Helper()
	for i, n := range counts {
		if n == 0 {
			continue
		}
		var b strings.Builder
		for j := 0; j < n; j++ {
			fmt.Fprintf(&b, `{"messages":[{"role":"user","content":"q%d-%d"},{"role":"assistant","content":"a"}]}`+"\n", i, j)
		}
		require.NoError(t, afero.WriteFile(fs, testDataFiles[i], []byte(b.String()), 0o644))
	}
}

func testConfig(t *testing.T, fs afero.Fs, opts ...Option) (*Config, *bytes.Buffer, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	stdout := &bytes.Buffer{}

	config, err := NewConfig(append([]Option{
		WithAnotherLog(logging.ForZap(zap.New(core))),
		WithFs(fs),
		WithStdout(stdout),
		func(c *Config) error {
			c.Run.OutputDir = testOutputDir
			c.Run.DataFiles = testDataFiles
			return nil
		},
	}, opts...)...)
	require.NoError(t, err)
	return config, stdout, logs
}

func newTestAgent(t *testing.T, config *Config, engine sft.Engine, uploader storage.Uploader) *Agent {
	t.Helper()
	agent, err := NewAgent(config, engine, uploader)
	require.NoError(t, err)
	clock := time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC)
	agent.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	return agent
}
