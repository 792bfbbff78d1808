package dataset

import (
	"github.com/pkg/errors"

	"github.com/sgl-project/sft-agent/pkg/afero"
	"github.com/sgl-project/sft-agent/pkg/logging"
)

// Assemble loads every present file in paths and concatenates them in list
// order. It fails with ErrNoDatasets when nothing was loaded.
func Assemble(fs afero.Fs, paths []string, logger logging.Interface) (*Collection, error) {
	collection := &Collection{}
	for _, path := range Discover(fs, paths) {
		examples, err := LoadFile(fs, path)
		if err != nil {
			return nil, err
		}
		if len(examples) == 0 {
			logger.WithField("path", path).Warn("Skipping dataset file with no examples")
			continue
		}
		logger.Infof("Loaded %s: %d examples", path, len(examples))
		collection.Examples = append(collection.Examples, examples...)
		collection.Sources = append(collection.Sources, SourceStats{Path: path, Count: len(examples)})
	}

	if collection.Len() == 0 {
		return nil, errors.WithStack(ErrNoDatasets)
	}
	logger.Infof("Total training examples: %d", collection.Len())
	return collection, nil
}
