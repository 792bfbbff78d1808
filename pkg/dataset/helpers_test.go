package dataset

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/sgl-project/sft-agent/pkg/afero"
	"github.com/sgl-project/sft-agent/pkg/logging"
)

var dataFiles = []string{
	"data/resume_analysis.jsonl",
	"data/career_guidance.jsonl",
	"data/resume_generation.jsonl",
	"data/outreach_messages.jsonl",
	"data/salary_negotiation.jsonl",
}

func observedLogger() (logging.Interface, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return logging.ForZap(zap.New(core)), logs
}

// writeConversations writes n records tagged with the file's base name so
// ordering can be asserted later.
func writeConversations(t *testing.T, fs afero.Fs, path string, n int) {
	t.Helper()
	var b strings.Builder
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, `{"messages":[{"role":"user","content":"%s#%d"},{"role":"assistant","content":"ok"}]}`+"\n", path, i)
	}
	require.NoError(t, afero.WriteFile(fs, path, []byte(b.String()), 0o644))
}

// upperTemplater renders "role: content" lines and records every batch it saw.
type upperTemplater struct {
	batches [][][]Turn
	genFlag []bool
}

func (u *upperTemplater) ApplyChatTemplate(_ context.Context, convs [][]Turn, addGenerationPrompt bool) ([]string, error) {
	u.batches = append(u.batches, convs)
	u.genFlag = append(u.genFlag, addGenerationPrompt)
	out := make([]string, len(convs))
	for i, c := range convs {
		var b strings.Builder
		for _, t := range c {
			b.WriteString(t.Role + ": " + t.Content + "\n")
		}
		out[i] = b.String()
	}
	return out, nil
}

func nopLogger() logging.Interface { return logging.Discard() }
