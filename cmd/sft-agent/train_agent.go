package main

import (
	"context"

	"github.com/spf13/cobra"
	"go.uber.org/fx"

	"github.com/sgl-project/sft-agent/internal/sft-agent/training"
	"github.com/sgl-project/sft-agent/pkg/afero"
	"github.com/sgl-project/sft-agent/pkg/constants"
	"github.com/sgl-project/sft-agent/pkg/logging"
)

// TrainAgent implements the AgentModule interface for the full training pipeline
type TrainAgent struct {
	agent *training.Agent
}

func (t *TrainAgent) Name() string {
	return "train"
}

func (t *TrainAgent) ShortDescription() string {
	return "Fine-tune and export the model"
}

func (t *TrainAgent) LongDescription() string {
	return "Assembles the JSONL datasets, drives the training sidecar through model loading, LoRA " +
		"adapter injection, supervised fine-tuning, checkpoint save and GGUF export, and writes an Ollama Modelfile."
}

// ConfigureCommand configures the agent command
func (t *TrainAgent) ConfigureCommand(cmd *cobra.Command) {
	cmd.Run = func(cmd *cobra.Command, args []string) {
		runAgentCommand(cmd, t, t.Start)
	}
}

// FxModules returns the fx modules needed by this agent
func (t *TrainAgent) FxModules() []fx.Option {
	return []fx.Option{
		afero.Module,
		logging.Module,
		logging.ModuleNamed(constants.AgentNamedLoggerKey),
		logging.UseLoggingInterface,
		training.Module,
		fx.Populate(&t.agent),
	}
}

// Start runs every training stage
func (t *TrainAgent) Start(ctx context.Context) error {
	return t.agent.Run(ctx)
}

func NewTrainAgent() *TrainAgent {
	return &TrainAgent{}
}
