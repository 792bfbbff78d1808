package training

import (
	"slices"

	"github.com/sgl-project/sft-agent/pkg/constants"
	"github.com/sgl-project/sft-agent/pkg/sft"
)

// Profile is the immutable training profile. It is built once at start and
// handed to each stage by value.
type Profile struct {
	Run      RunProfile      `mapstructure:"run" json:"run"`
	Model    ModelProfile    `mapstructure:"model" json:"model"`
	Adapter  AdapterProfile  `mapstructure:"adapter" json:"adapter"`
	Training TrainingProfile `mapstructure:"training" json:"training"`
	Export   ExportProfile   `mapstructure:"export" json:"export"`
}

type RunProfile struct {
	OutputDir          string   `mapstructure:"output_dir" json:"output_dir" validate:"required"`
	DataFiles          []string `mapstructure:"data_files" json:"data_files" validate:"required,min=1,dive,required"`
	MissingMessages    string   `mapstructure:"missing_messages" json:"missing_messages" validate:"omitempty,oneof=empty skip fail"`
	Resume             bool     `mapstructure:"resume" json:"resume"`
	TerminationLogPath string   `mapstructure:"termination_log_path" json:"termination_log_path,omitempty"`
}

type ModelProfile struct {
	Name         string `mapstructure:"name" json:"name" validate:"required"`
	MaxSeqLength int    `mapstructure:"max_seq_length" json:"max_seq_length"`
	// Dtype "" lets the engine choose.
	Dtype      string `mapstructure:"dtype" json:"dtype,omitempty"`
	LoadIn4Bit bool   `mapstructure:"load_in_4bit" json:"load_in_4bit"`
}

type AdapterProfile struct {
	Rank                  int      `mapstructure:"rank" json:"rank"`
	Alpha                 int      `mapstructure:"alpha" json:"alpha"`
	Dropout               float64  `mapstructure:"dropout" json:"dropout"`
	Bias                  string   `mapstructure:"bias" json:"bias"`
	TargetModules         []string `mapstructure:"target_modules" json:"target_modules"`
	GradientCheckpointing string   `mapstructure:"gradient_checkpointing" json:"gradient_checkpointing"`
	RandomState           int      `mapstructure:"random_state" json:"random_state"`
}

type TrainingProfile struct {
	BatchSize                 int     `mapstructure:"batch_size" json:"batch_size"`
	GradientAccumulationSteps int     `mapstructure:"gradient_accumulation_steps" json:"gradient_accumulation_steps"`
	LearningRate              float64 `mapstructure:"learning_rate" json:"learning_rate"`
	Epochs                    int     `mapstructure:"epochs" json:"epochs"`
	WeightDecay               float64 `mapstructure:"weight_decay" json:"weight_decay"`
	WarmupRatio               float64 `mapstructure:"warmup_ratio" json:"warmup_ratio"`
	LRSchedulerType           string  `mapstructure:"lr_scheduler_type" json:"lr_scheduler_type"`
	LoggingSteps              int     `mapstructure:"logging_steps" json:"logging_steps"`
	SaveStrategy              string  `mapstructure:"save_strategy" json:"save_strategy"`
	FP16                      bool    `mapstructure:"fp16" json:"fp16"`
	Optim                     string  `mapstructure:"optim" json:"optim"`
	Seed                      int     `mapstructure:"seed" json:"seed"`
	ReportTo                  string  `mapstructure:"report_to" json:"report_to"`
	TextField                 string  `mapstructure:"text_field" json:"text_field"`
}

type ExportProfile struct {
	QuantizationMethod string `mapstructure:"quantization_method" json:"quantization_method"`
	OllamaModelName    string `mapstructure:"ollama_model_name" json:"ollama_model_name"`
}

// DefaultProfile reproduces the resume auditor training recipe.
func DefaultProfile() Profile {
	return Profile{
		Run: RunProfile{
			OutputDir:       constants.DefaultOutputDir,
			DataFiles:       constants.DefaultDataFiles(),
			MissingMessages: constants.DefaultMissingMessagesPolicy,
		},
		Model: ModelProfile{
			Name:         constants.DefaultModelName,
			MaxSeqLength: constants.DefaultMaxSeqLength,
			LoadIn4Bit:   constants.DefaultLoadIn4Bit,
		},
		Adapter: AdapterProfile{
			Rank:                  constants.DefaultLoraRank,
			Alpha:                 constants.DefaultLoraAlpha,
			Dropout:               constants.DefaultLoraDropout,
			Bias:                  constants.DefaultLoraBias,
			TargetModules:         constants.DefaultTargetModules(),
			GradientCheckpointing: constants.DefaultGradientCheckpointing,
			RandomState:           constants.DefaultAdapterRandomState,
		},
		Training: TrainingProfile{
			BatchSize:                 constants.DefaultBatchSize,
			GradientAccumulationSteps: constants.DefaultGradientAccumulationSteps,
			LearningRate:              constants.DefaultLearningRate,
			Epochs:                    constants.DefaultEpochs,
			WeightDecay:               constants.DefaultWeightDecay,
			WarmupRatio:               constants.DefaultWarmupRatio,
			LRSchedulerType:           constants.DefaultLRSchedulerType,
			LoggingSteps:              constants.DefaultLoggingSteps,
			SaveStrategy:              constants.DefaultSaveStrategy,
			FP16:                      constants.DefaultFP16,
			Optim:                     constants.DefaultOptimizer,
			Seed:                      constants.DefaultSeed,
			ReportTo:                  constants.DefaultReportTo,
			TextField:                 constants.DefaultDatasetTextField,
		},
		Export: ExportProfile{
			QuantizationMethod: constants.DefaultQuantizationMethod,
			OllamaModelName:    constants.DefaultOllamaModelName,
		},
	}
}

// EffectiveBatchSize is the number of examples per optimizer step.
func (p Profile) EffectiveBatchSize() int {
	return p.Training.BatchSize * p.Training.GradientAccumulationSteps
}

// DatasetFile is where formatted records are written for the trainer.
func (p Profile) DatasetFile() string {
	return constants.DatasetFilePath(p.Run.OutputDir)
}

func (p Profile) LoadRequest() sft.LoadRequest {
	req := sft.LoadRequest{
		ModelName:    p.Model.Name,
		MaxSeqLength: p.Model.MaxSeqLength,
		LoadIn4Bit:   p.Model.LoadIn4Bit,
	}
	if p.Model.Dtype != "" {
		dtype := p.Model.Dtype
		req.Dtype = &dtype
	}
	return req
}

func (p Profile) AdapterSpec() sft.AdapterSpec {
	return sft.AdapterSpec{
		R:                        p.Adapter.Rank,
		TargetModules:            slices.Clone(p.Adapter.TargetModules),
		LoraAlpha:                p.Adapter.Alpha,
		LoraDropout:              p.Adapter.Dropout,
		Bias:                     p.Adapter.Bias,
		UseGradientCheckpointing: p.Adapter.GradientCheckpointing,
		RandomState:              p.Adapter.RandomState,
	}
}

// TrainingArguments maps the profile onto trainer arguments. An empty
// resumeFrom starts from scratch.
func (p Profile) TrainingArguments(resumeFrom string) sft.TrainingArguments {
	return sft.TrainingArguments{
		OutputDir:                 p.Run.OutputDir,
		NumTrainEpochs:            p.Training.Epochs,
		PerDeviceTrainBatchSize:   p.Training.BatchSize,
		GradientAccumulationSteps: p.Training.GradientAccumulationSteps,
		LearningRate:              p.Training.LearningRate,
		WeightDecay:               p.Training.WeightDecay,
		WarmupRatio:               p.Training.WarmupRatio,
		LRSchedulerType:           p.Training.LRSchedulerType,
		LoggingSteps:              p.Training.LoggingSteps,
		SaveStrategy:              p.Training.SaveStrategy,
		FP16:                      p.Training.FP16,
		Optim:                     p.Training.Optim,
		Seed:                      p.Training.Seed,
		ReportTo:                  p.Training.ReportTo,
		ResumeFromCheckpoint:      resumeFrom,
	}
}

func (p Profile) TrainRequest(resumeFrom string) sft.TrainRequest {
	return sft.TrainRequest{
		DatasetFile:      p.DatasetFile(),
		DatasetTextField: p.Training.TextField,
		MaxSeqLength:     p.Model.MaxSeqLength,
		Args:             p.TrainingArguments(resumeFrom),
	}
}

func (p Profile) ExportRequest() sft.ExportRequest {
	return sft.ExportRequest{
		OutputDir:          p.Run.OutputDir,
		QuantizationMethod: p.Export.QuantizationMethod,
	}
}
