package dataset

import (
	"bytes"
	"encoding/json"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/sgl-project/sft-agent/pkg/afero"
	"github.com/sgl-project/sft-agent/pkg/logging"
)

// WriteRecords atomically writes records as {"text": ...} lines to path.
func WriteRecords(fs afero.Fs, path string, records []Record, logger logging.Interface) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i := range records {
		if err := enc.Encode(&records[i]); err != nil {
			return errors.Wrapf(err, "encoding record %d", i)
		}
	}
	dir, name := filepath.Split(path)
	if err := afero.AtomicFileUpdate(fs, filepath.Clean(dir), name, buf.Bytes(), 0o644, logger); err != nil {
		return errors.Wrapf(err, "writing %s", path)
	}
	return nil
}

// ReadRecords reads a file written by WriteRecords.
func ReadRecords(fs afero.Fs, path string) ([]Record, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading %s", path)
	}
	var records []Record
	dec := json.NewDecoder(bytes.NewReader(data))
	for dec.More() {
		var r Record
		if err := dec.Decode(&r); err != nil {
			return nil, errors.Wrapf(err, "decoding %s record %d", path, len(records)+1)
		}
		records = append(records, r)
	}
	return records, nil
}
