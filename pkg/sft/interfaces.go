// Package sft defines the capabilities the agent delegates to a fine-tuning
// engine. The agent only orchestrates; quantized loading, adapter math, the
// training loop and export encoding all live behind these interfaces.
package sft

import (
	"context"

	"github.com/sgl-project/sft-agent/pkg/dataset"
)

// ModelLoader obtains a base model and its tokenizer.
type ModelLoader interface {
	LoadModel(ctx context.Context, req LoadRequest) (*Model, error)
}

// AdapterInjector attaches trainable low-rank adapters and freezes the base weights.
type AdapterInjector interface {
	InjectAdapters(ctx context.Context, model *Model, spec AdapterSpec) (*AdapterInfo, error)
}

// TemplaterProvider exposes the tokenizer's chat template for a loaded model.
type TemplaterProvider interface {
	TemplaterFor(model *Model) dataset.Templater
}

// Trainer runs supervised fine-tuning until completion or failure.
type Trainer interface {
	Train(ctx context.Context, model *Model, req TrainRequest) (*TrainResult, error)
}

// Checkpointer writes adapter weights and tokenizer files to dir.
type Checkpointer interface {
	SaveCheckpoint(ctx context.Context, model *Model, dir string) error
}

// Exporter encodes a merged, quantized single-file export.
type Exporter interface {
	Export(ctx context.Context, model *Model, req ExportRequest) (*ExportResult, error)
}

// Engine is the full set of capabilities a training run needs.
type Engine interface {
	ModelLoader
	AdapterInjector
	TemplaterProvider
	Trainer
	Checkpointer
	Exporter
}

// MetricsReporter is implemented by engines that can report what training
// achieved as a JSON document.
type MetricsReporter interface {
	TrainingMetrics(ctx context.Context) ([]byte, error)
}

// Terminator is implemented by engines running in a separate process.
type Terminator interface {
	Terminate(ctx context.Context) error
}
