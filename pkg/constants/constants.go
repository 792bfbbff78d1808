package constants

import (
	"os"
	"path/filepath"
	"strings"
)

// SFT Agent Constants
var (
	AgentName           = "sft-agent"
	AgentAppName        = "SFT_AGENT"
	AgentConfigFilePath = getEnvOrDefault(AgentAppName+"_"+"CONFIG_FILE", "")
	AgentNamedLoggerKey = "another_log"
)

// Default training profile
const (
	DefaultModelName                 = "unsloth/Qwen2.5-3B-Instruct-bnb-4bit"
	DefaultOutputDir                 = "./output/resume-auditor-v1"
	DefaultMaxSeqLength              = 2048
	DefaultBatchSize                 = 1
	DefaultGradientAccumulationSteps = 8
	DefaultLearningRate              = 2e-4
	DefaultEpochs                    = 3
	DefaultLoraRank                  = 16
	DefaultLoraAlpha                 = 32

	DefaultLoraDropout           = 0.05
	DefaultLoraBias              = "none"
	DefaultGradientCheckpointing = "unsloth"
	DefaultAdapterRandomState    = 42
	DefaultLoadIn4Bit            = true
	DefaultWeightDecay           = 0.01
	DefaultWarmupRatio           = 0.1
	DefaultLRSchedulerType       = "cosine"
	DefaultLoggingSteps          = 10
	DefaultSaveStrategy          = "epoch"
	DefaultFP16                  = true
	DefaultOptimizer             = "adamw_8bit"
	DefaultSeed                  = 42
	DefaultReportTo              = "none"
	DefaultDatasetTextField      = "text"
	DefaultQuantizationMethod    = "q4_k_m"
	DefaultOllamaModelName       = "resume-auditor"
	DefaultSidecarEndpoint       = "http://localhost:8000"
	DefaultMissingMessagesPolicy = "empty"
	DefaultTemplateSource        = "sidecar"
	DefaultFormatBatchSize       = 64
)

// DefaultTargetModules lists the projection layers that receive adapters.
func DefaultTargetModules() []string {
	return []string{"q_proj", "k_proj", "v_proj", "o_proj", "gate_proj", "up_proj", "down_proj"}
}

// DefaultDataFiles is the fixed, ordered list of task datasets.
func DefaultDataFiles() []string {
	return []string{
		"data/resume_analysis.jsonl",
		"data/career_guidance.jsonl",
		"data/resume_generation.jsonl",
		"data/outreach_messages.jsonl",
		"data/salary_negotiation.jsonl",
	}
}

// Run artifact names, relative to the output directory
const (
	ProfileFileName         = "profile.yaml"
	RunStateFileName        = "run_state.json"
	RunMetricsFileName      = "run_metrics.prom"
	TrainingMetricsFileName = "training_metrics.json"
	DatasetDirName          = "dataset"
	DatasetFileName         = "train.jsonl"
	ModelfileName           = "Modelfile"
	ExportFileSuffix        = ".gguf"
	CheckpointDirPrefix     = "checkpoint-"
)

// DatasetFilePath is where formatted records land for the trainer.
func DatasetFilePath(outputDir string) string {
	return filepath.Join(outputDir, DatasetDirName, DatasetFileName)
}

// ArchiveFilePath is the zip written next to, not inside, outputDir.
func ArchiveFilePath(outputDir string) string {
	return strings.TrimRight(filepath.Clean(outputDir), string(filepath.Separator)) + ".zip"
}

func getEnvOrDefault(key string, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
