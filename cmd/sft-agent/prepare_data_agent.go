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

// PrepareDataAgent assembles and formats the datasets without a training engine.
type PrepareDataAgent struct {
	agent *training.Agent
}

func (p *PrepareDataAgent) Name() string {
	return "prepare-data"
}

func (p *PrepareDataAgent) ShortDescription() string {
	return "Assemble and format the training datasets"
}

func (p *PrepareDataAgent) LongDescription() string {
	return "Loads the JSONL datasets and renders every conversation with the local ChatML template into " +
		"the formatted dataset file. A later `train --config <file>` with run.resume=true reuses it."
}

func (p *PrepareDataAgent) ConfigureCommand(cmd *cobra.Command) {
	cmd.Run = func(cmd *cobra.Command, args []string) {
		runAgentCommand(cmd, p, p.Start)
	}
}

func (p *PrepareDataAgent) FxModules() []fx.Option {
	return []fx.Option{
		afero.Module,
		logging.Module,
		logging.ModuleNamed(constants.AgentNamedLoggerKey),
		logging.UseLoggingInterface,
		training.Module,
		fx.Populate(&p.agent),
	}
}

func (p *PrepareDataAgent) Start(ctx context.Context) error {
	return p.agent.Prepare(ctx)
}

func NewPrepareDataAgent() *PrepareDataAgent {
	return &PrepareDataAgent{}
}
