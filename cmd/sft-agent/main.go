package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sgl-project/sft-agent/pkg/version"
)

var rootCmd = &cobra.Command{
	Use:     "sft-agent",
	Short:   "Run SFT Agent",
	Long:    "SFT Agent fine-tunes a chat model with LoRA adapters on JSONL conversations and exports it for Ollama.",
	Version: fmt.Sprintf("gitVersion=%s, gitCommit=%s", version.GitVersion, version.GitCommit),
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(CreateAgentCommand(NewTrainAgent()))
	rootCmd.AddCommand(CreateAgentCommand(NewPrepareDataAgent()))
}
