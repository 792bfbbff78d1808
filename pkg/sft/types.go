package sft

// Model is an opaque handle to a model held by the engine.
type Model struct {
	ID           string `json:"model_id"`
	Name         string `json:"model_name"`
	MaxSeqLength int    `json:"max_seq_length"`
}

type LoadRequest struct {
	ModelName    string `json:"model_name"`
	MaxSeqLength int    `json:"max_seq_length"`
	// Dtype nil lets the engine pick.
	Dtype      *string `json:"dtype"`
	LoadIn4Bit bool    `json:"load_in_4bit"`
}

type AdapterSpec struct {
	R                        int      `json:"r"`
	TargetModules            []string `json:"target_modules"`
	LoraAlpha                int      `json:"lora_alpha"`
	LoraDropout              float64  `json:"lora_dropout"`
	Bias                     string   `json:"bias"`
	UseGradientCheckpointing string   `json:"use_gradient_checkpointing"`
	RandomState              int      `json:"random_state"`
}

type AdapterInfo struct {
	TrainableParams int64 `json:"trainable_params"`
	TotalParams     int64 `json:"total_params"`
}

// TrainingArguments uses the Hugging Face argument names.
type TrainingArguments struct {
	OutputDir                 string  `json:"output_dir"`
	NumTrainEpochs            int     `json:"num_train_epochs"`
	PerDeviceTrainBatchSize   int     `json:"per_device_train_batch_size"`
	GradientAccumulationSteps int     `json:"gradient_accumulation_steps"`
	LearningRate              float64 `json:"learning_rate"`
	WeightDecay               float64 `json:"weight_decay"`
	WarmupRatio               float64 `json:"warmup_ratio"`
	LRSchedulerType           string  `json:"lr_scheduler_type"`
	LoggingSteps              int     `json:"logging_steps"`
	SaveStrategy              string  `json:"save_strategy"`
	FP16                      bool    `json:"fp16"`
	Optim                     string  `json:"optim"`
	Seed                      int     `json:"seed"`
	ReportTo                  string  `json:"report_to"`
	ResumeFromCheckpoint      string  `json:"resume_from_checkpoint,omitempty"`
}

type TrainRequest struct {
	DatasetFile      string            `json:"dataset_file"`
	DatasetTextField string            `json:"dataset_text_field"`
	MaxSeqLength     int               `json:"max_seq_length"`
	Args             TrainingArguments `json:"args"`
}

type TrainResult struct {
	GlobalStep   int     `json:"global_step"`
	TrainingLoss float64 `json:"training_loss"`
	Epoch        float64 `json:"epoch"`
}

type ExportRequest struct {
	OutputDir          string `json:"output_dir"`
	QuantizationMethod string `json:"quantization_method"`
}

type ExportResult struct {
	// Path of the single quantized file.
	Path string `json:"path"`
}
