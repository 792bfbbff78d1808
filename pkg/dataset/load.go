package dataset

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"

	"github.com/pkg/errors"

	"github.com/sgl-project/sft-agent/pkg/afero"
)

// LoadFile parses a newline-delimited JSON file. Blank lines are skipped and
// there is no limit on line length.
func LoadFile(fs afero.Fs, path string) ([]Example, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s", path)
	}
	defer f.Close()

	examples, err := decode(f, path)
	if err != nil {
		return nil, err
	}
	return examples, nil
}

func decode(r io.Reader, path string) ([]Example, error) {
	var (
		examples []Example
		reader   = bufio.NewReader(r)
		line     = 0
	)
	for {
		raw, readErr := reader.ReadBytes('\n')
		if len(raw) > 0 {
			line++
			raw = bytes.TrimSpace(raw)
			if len(raw) != 0 {
				var ex Example
				if err := json.Unmarshal(raw, &ex); err != nil {
					return nil, errors.Wrapf(err, "%s:%d", path, line)
				}
				ex.Source = path
				ex.Line = line
				examples = append(examples, ex)
			}
		}
		if readErr == io.EOF {
			return examples, nil
		}
		if readErr != nil {
			return nil, errors.Wrapf(readErr, "reading %s", path)
		}
	}
}
