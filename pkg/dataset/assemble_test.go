package dataset

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sgl-project/sft-agent/pkg/afero"
)

func TestDiscover(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeConversations(t, fs, dataFiles[3], 1)
	writeConversations(t, fs, dataFiles[0], 1)
	require.NoError(t, fs.MkdirAll(dataFiles[1], 0o755))

	assert.Equal(t, []string{dataFiles[0], dataFiles[3]}, Discover(fs, dataFiles))
	assert.Empty(t, Discover(afero.NewMemMapFs(), dataFiles))
}

func TestLoadFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	long := make([]byte, 200*1024)
	for i := range long {
		long[i] = 'x'
	}
	content := "\n" +
		`{"messages":[{"role":"system","content":"be brief"},{"role":"user","content":"hi"}]}` + "\n" +
		"   \n" +
		`{"id": 7}` + "\n" +
		`{"messages":[{"role":"user","content":"` + string(long) + `"}]}`
	require.NoError(t, afero.WriteFile(fs, "/d.jsonl", []byte(content), 0o644))

	examples, err := LoadFile(fs, "/d.jsonl")
	require.NoError(t, err)
	require.Len(t, examples, 3)

	assert.Equal(t, []Turn{{Role: "system", Content: "be brief"}, {Role: "user", Content: "hi"}}, examples[0].Messages)
	assert.True(t, examples[0].HasMessages())
	assert.Equal(t, "/d.jsonl:2", examples[0].Location())

	assert.False(t, examples[1].HasMessages())
	assert.Equal(t, 4, examples[1].Line)

	assert.Len(t, examples[2].Messages[0].Content, len(long))
}

func TestLoadFileErrors(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/bad.jsonl", []byte("{}\n{not json\n"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/turns.jsonl", []byte(`{"messages":"hello"}`), 0o644))

	_, err := LoadFile(fs, "/bad.jsonl")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "/bad.jsonl:2")

	_, err = LoadFile(fs, "/turns.jsonl")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMalformedTurn))

	_, err = LoadFile(fs, "/missing.jsonl")
	assert.Error(t, err)
}

func TestAssemble(t *testing.T) {
	fs := afero.NewMemMapFs()
	counts := []int{10, 0, 7, 3, 5}
	for i, n := range counts {
		if n > 0 {
			writeConversations(t, fs, dataFiles[i], n)
		}
	}
	logger, logs := observedLogger()

	c, err := Assemble(fs, dataFiles, logger)
	require.NoError(t, err)
	assert.Equal(t, 25, c.Len())

	loaded := logs.FilterMessageSnippet("Loaded ").All()
	require.Len(t, loaded, 4)
	assert.Equal(t, "Loaded data/resume_analysis.jsonl: 10 examples", loaded[0].Message)
	assert.Equal(t, "Loaded data/salary_negotiation.jsonl: 5 examples", loaded[3].Message)
	assert.Equal(t, 1, logs.FilterMessage("Total training examples: 25").Len())

	assert.Equal(t, []SourceStats{
		{Path: dataFiles[0], Count: 10},
		{Path: dataFiles[2], Count: 7},
		{Path: dataFiles[3], Count: 3},
		{Path: dataFiles[4], Count: 5},
	}, c.Sources)

	// file-list order, then within-file order
	var want []string
	for i, n := range counts {
		for j := 0; j < n; j++ {
			want = append(want, fmt.Sprintf("%s#%d", dataFiles[i], j))
		}
	}
	var got []string
	for _, ex := range c.Examples {
		got = append(got, ex.Messages[0].Content)
	}
	assert.Equal(t, want, got)
}

func TestAssembleNoDatasets(t *testing.T) {
	logger, logs := observedLogger()

	c, err := Assemble(afero.NewMemMapFs(), dataFiles, logger)
	require.Error(t, err)
	assert.Nil(t, c)
	assert.True(t, errors.Is(err, ErrNoDatasets))
	assert.Zero(t, logs.FilterMessageSnippet("Loaded ").Len())
}

func TestAssembleEmptyFilesOnly(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, dataFiles[0], []byte("\n\n"), 0o644))
	logger, logs := observedLogger()

	_, err := Assemble(fs, dataFiles, logger)
	assert.True(t, errors.Is(err, ErrNoDatasets))
	assert.Equal(t, 1, logs.FilterMessage("Skipping dataset file with no examples").Len())
}
