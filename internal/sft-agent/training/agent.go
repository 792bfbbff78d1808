package training

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"sigs.k8s.io/yaml"

	"github.com/sgl-project/sft-agent/pkg/afero"
	"github.com/sgl-project/sft-agent/pkg/chattemplate"
	"github.com/sgl-project/sft-agent/pkg/constants"
	"github.com/sgl-project/sft-agent/pkg/dataset"
	"github.com/sgl-project/sft-agent/pkg/logging"
	"github.com/sgl-project/sft-agent/pkg/sft"
	"github.com/sgl-project/sft-agent/pkg/sft/sidecar"
	"github.com/sgl-project/sft-agent/pkg/storage"
	"github.com/sgl-project/sft-agent/pkg/zipper"
)

// Agent runs the fine-tuning pipeline against an sft.Engine.
type Agent struct {
	logger   logging.Interface
	Config   Config
	profile  Profile
	policy   dataset.MissingMessagesPolicy
	engine   sft.Engine
	uploader storage.Uploader
	fs       afero.Fs
	stdout   io.Writer
	metrics  *Metrics
	now      func() time.Time

	engineContacted bool
}

// NewAgent validates config and builds an Agent. uploader may be nil when
// publishing is disabled; engine may be nil for an agent that only prepares data.
func NewAgent(config *Config, engine sft.Engine, uploader storage.Uploader) (*Agent, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("training agent config invalid: %v", err)
	}
	if config.Upload.Enabled && uploader == nil {
		return nil, fmt.Errorf("upload is enabled but no uploader was provided")
	}
	policy, _ := dataset.ParsePolicy(config.Run.MissingMessages)

	stdout := config.Stdout
	if stdout == nil {
		stdout = io.Discard
	}

	return &Agent{
		logger:   config.AnotherLogger,
		Config:   *config,
		profile:  config.Profile,
		policy:   policy,
		engine:   engine,
		uploader: uploader,
		fs:       config.Fs,
		stdout:   stdout,
		metrics:  NewMetrics(),
		now:      time.Now,
	}, nil
}

// Metrics exposes the run's metric set.
func (a *Agent) Metrics() *Metrics {
	return a.metrics
}

// Run executes every training stage in order. Any stage failure aborts the run.
func (a *Agent) Run(ctx context.Context) (err error) {
	if a.engine == nil {
		return fmt.Errorf("no training engine configured")
	}
	p := a.profile

	state, err := a.start(TrainingStages)
	if err != nil {
		return err
	}
	defer func() { err = a.finish(ctx, state, err) }()

	resumed, prev, err := a.resumable(state)
	if err != nil {
		return err
	}

	var collection *dataset.Collection
	if resumed {
		if err := state.skip(StageAssemble, prev); err != nil {
			return err
		}
		a.logger.Infof("Resuming run %s: reusing %s", state.previous.RunID, p.DatasetFile())
	} else if collection, err = a.assemble(state); err != nil {
		return err
	}

	var model *sft.Model
	if err := a.stage(state, StageLoad, func() (map[string]interface{}, error) {
		a.engineContacted = true
		m, err := a.engine.LoadModel(ctx, p.LoadRequest())
		if err != nil {
			return nil, err
		}
		model = m
		return map[string]interface{}{"model_id": model.ID, "model_name": model.Name}, nil
	}); err != nil {
		return err
	}

	if err := a.stage(state, StageInject, func() (map[string]interface{}, error) {
		info, err := a.engine.InjectAdapters(ctx, model, p.AdapterSpec())
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"trainable_params": info.TrainableParams, "total_params": info.TotalParams}, nil
	}); err != nil {
		return err
	}

	if resumed {
		if err := state.skip(StageFormat, prev); err != nil {
			return err
		}
	} else if _, err := a.format(ctx, state, a.templater(model), collection); err != nil {
		return err
	}

	resumeFrom := ""
	if p.Run.Resume {
		resumeFrom = a.latestCheckpoint()
	}
	if err := a.stage(state, StageTrain, func() (map[string]interface{}, error) {
		a.logger.Info("Starting training...")
		a.logger.Infof("  Model: %s", p.Model.Name)
		a.logger.Infof("  LoRA rank: %d", p.Adapter.Rank)
		a.logger.Infof("  Epochs: %d", p.Training.Epochs)
		a.logger.Infof("  Effective batch size: %d", p.EffectiveBatchSize())
		if resumeFrom != "" {
			a.logger.Infof("  Resuming from: %s", resumeFrom)
		}

		res, err := a.engine.Train(ctx, model, p.TrainRequest(resumeFrom))
		if err != nil {
			return nil, err
		}
		a.saveTrainingMetrics(ctx)
		return map[string]interface{}{"global_step": res.GlobalStep, "training_loss": res.TrainingLoss}, nil
	}); err != nil {
		return err
	}

	if err := a.stage(state, StageSave, func() (map[string]interface{}, error) {
		a.logger.Info("Saving model...")
		return nil, a.engine.SaveCheckpoint(ctx, model, p.Run.OutputDir)
	}); err != nil {
		return err
	}

	var exported *sft.ExportResult
	if err := a.stage(state, StageExport, func() (map[string]interface{}, error) {
		a.logger.Infof("Exporting to GGUF (%s)...", p.Export.QuantizationMethod)
		res, err := a.engine.Export(ctx, model, p.ExportRequest())
		if err != nil {
			return nil, err
		}
		exported = res
		return map[string]interface{}{"path": exported.Path}, nil
	}); err != nil {
		return err
	}

	summary := Summary{OutputDir: p.Run.OutputDir, ExportPath: exported.Path, ModelName: p.Export.OllamaModelName}

	if !a.Config.Archive.Enabled {
		err = state.skip(StageArchive, nil)
	} else {
		err = a.stage(state, StageArchive, func() (map[string]interface{}, error) {
			summary.ArchivePath = constants.ArchiveFilePath(p.Run.OutputDir)
			if err := zipper.ZipDirectory(a.fs, p.Run.OutputDir, summary.ArchivePath, zipper.SkipSuffixes(constants.ExportFileSuffix)); err != nil {
				return nil, err
			}
			a.logger.Infof("Successfully zipped directory: %s", p.Run.OutputDir)
			return map[string]interface{}{"path": summary.ArchivePath}, nil
		})
	}
	if err != nil {
		return err
	}

	if !a.Config.Upload.Enabled {
		err = state.skip(StageUpload, nil)
	} else {
		err = a.stage(state, StageUpload, func() (map[string]interface{}, error) {
			uploaded, err := a.upload(ctx, summary)
			summary.Uploaded = uploaded
			return map[string]interface{}{"objects": uploaded}, err
		})
	}
	if err != nil {
		return err
	}

	if err := a.stage(state, StageModelfile, func() (map[string]interface{}, error) {
		content := Modelfile(p.Run.OutputDir, exported.Path)
		return nil, afero.AtomicFileUpdate(a.fs, p.Run.OutputDir, constants.ModelfileName, []byte(content), 0o644, a.logger)
	}); err != nil {
		return err
	}

	PrintSummary(a.stdout, summary)
	return nil
}

// Prepare assembles and formats the datasets with the local ChatML renderer,
// without contacting any engine.
func (a *Agent) Prepare(ctx context.Context) (err error) {
	state, err := a.start(PrepareStages)
	if err != nil {
		return err
	}
	defer func() { err = a.finish(ctx, state, err) }()

	collection, err := a.assemble(state)
	if err != nil {
		return err
	}
	written, err := a.format(ctx, state, &chattemplate.ChatML{}, collection)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.stdout, "Prepared %d records in %s\n", written, a.profile.DatasetFile())
	return nil
}

func (a *Agent) start(stages []Stage) (*runState, error) {
	if err := a.writeProfile(); err != nil {
		return nil, err
	}
	state, err := openRunState(a.fs, a.profile.Run.OutputDir, stages, a.logger, a.now)
	if err != nil {
		return nil, fmt.Errorf("opening run journal: %w", err)
	}
	a.logger.WithField("runID", state.journal.RunID).Infof("Starting %s run", constants.AgentName)
	return state, nil
}

func (a *Agent) writeProfile() error {
	data, err := yaml.Marshal(a.profile)
	if err != nil {
		return fmt.Errorf("encoding profile: %w", err)
	}
	if err := afero.AtomicFileUpdate(a.fs, a.profile.Run.OutputDir, constants.ProfileFileName, data, 0o644, a.logger); err != nil {
		return fmt.Errorf("writing profile: %w", err)
	}
	return nil
}

// stage runs fn as name, recording timing, metrics and the journal entry.
func (a *Agent) stage(state *runState, name Stage, fn func() (map[string]interface{}, error)) error {
	if err := state.begin(name); err != nil {
		return err
	}
	a.logger.WithField("stage", name).Debug("Stage started")

	started := a.now()
	detail, err := fn()
	a.metrics.ObserveStage(name, a.now().Sub(started), err)

	if err != nil {
		if jerr := state.fail(name, err); jerr != nil {
			a.logger.WithError(jerr).Warn("Failed to record stage failure")
		}
		return fmt.Errorf("%s: %w", name, err)
	}
	a.logger.WithField("stage", name).Debug("Stage finished")
	return state.complete(name, detail)
}

func (a *Agent) assemble(state *runState) (*dataset.Collection, error) {
	var collection *dataset.Collection
	err := a.stage(state, StageAssemble, func() (map[string]interface{}, error) {
		c, err := dataset.Assemble(a.fs, a.profile.Run.DataFiles, a.logger)
		if err != nil {
			return nil, err
		}
		collection = c
		a.metrics.ObserveCollection(c)
		return map[string]interface{}{"examples": c.Len(), "sources": len(c.Sources)}, nil
	})
	if errors.Is(err, dataset.ErrNoDatasets) {
		PrintNoDatasets(a.stdout)
	}
	return collection, err
}

// format writes the dataset file and returns how many records it holds.
func (a *Agent) format(ctx context.Context, state *runState, templater dataset.Templater, c *dataset.Collection) (int, error) {
	written := 0
	err := a.stage(state, StageFormat, func() (map[string]interface{}, error) {
		formatter := &dataset.Formatter{
			Templater: templater,
			Policy:    a.policy,
			BatchSize: a.Config.Runtime.FormatBatchSize,
		}
		records, stats, err := formatter.FormatCollection(ctx, c)
		if err != nil {
			return nil, err
		}
		a.metrics.ObserveFormat(stats)
		if stats.EmptyText > 0 {
			a.logger.Warnf("%d records have no messages and were formatted to empty text", stats.EmptyText)
		}
		if stats.Skipped > 0 {
			a.logger.Warnf("%d records have no messages and were skipped", stats.Skipped)
		}
		if len(records) == 0 {
			return nil, fmt.Errorf("%w: every record was skipped", dataset.ErrNoDatasets)
		}
		if err := dataset.WriteRecords(a.fs, a.profile.DatasetFile(), records, a.logger); err != nil {
			return nil, err
		}
		written = len(records)
		return map[string]interface{}{
			"records":    stats.Formatted,
			"empty_text": stats.EmptyText,
			"skipped":    stats.Skipped,
			"path":       a.profile.DatasetFile(),
		}, nil
	})
	return written, err
}

func (a *Agent) templater(model *sft.Model) dataset.Templater {
	if a.Config.Runtime.Template == TemplateChatML {
		return &chattemplate.ChatML{}
	}
	return a.engine.TemplaterFor(model)
}

// resumable reports whether a previous run already produced the dataset file.
// A resumable run records that dataset in its own journal before any engine
// stage runs.
func (a *Agent) resumable(state *runState) (bool, map[string]interface{}, error) {
	if !a.profile.Run.Resume {
		return false, nil, nil
	}
	rec, ok := state.previousDataset()
	if !ok {
		a.logger.Info("Nothing to resume: no formatted dataset in the run journal")
		return false, nil, nil
	}
	if exists, _ := afero.IsRegularFile(a.fs, a.profile.DatasetFile()); !exists {
		a.logger.Warnf("Nothing to resume: %s is missing", a.profile.DatasetFile())
		return false, nil, nil
	}
	state.journal.ResumedFrom = state.previous.RunID
	if err := state.carryDataset(rec); err != nil {
		return false, nil, fmt.Errorf("recording resumed dataset: %w", err)
	}
	detail := map[string]interface{}{}
	for k, v := range rec.Detail {
		detail[k] = v
	}
	detail["resumed_from"] = state.previous.RunID
	return true, detail, nil
}

// latestCheckpoint returns the highest numbered epoch checkpoint directory.
func (a *Agent) latestCheckpoint() string {
	matches, err := afero.Glob(a.fs, filepath.Join(a.profile.Run.OutputDir, constants.CheckpointDirPrefix+"*"))
	if err != nil {
		return ""
	}
	type checkpoint struct {
		path string
		step int
	}
	var found []checkpoint
	for _, m := range matches {
		step, err := strconv.Atoi(strings.TrimPrefix(filepath.Base(m), constants.CheckpointDirPrefix))
		if err != nil {
			continue
		}
		if info, err := a.fs.Stat(m); err == nil && info.IsDir() {
			found = append(found, checkpoint{path: m, step: step})
		}
	}
	if len(found) == 0 {
		return ""
	}
	sort.Slice(found, func(i, j int) bool { return found[i].step < found[j].step })
	return found[len(found)-1].path
}

func (a *Agent) saveTrainingMetrics(ctx context.Context) {
	reporter, ok := a.engine.(sft.MetricsReporter)
	if !ok {
		return
	}
	body, err := reporter.TrainingMetrics(ctx)
	if err != nil {
		a.logger.Warnf("failed to fetch training metrics: %+v", err)
		return
	}
	if err := afero.AtomicFileUpdate(a.fs, a.profile.Run.OutputDir, constants.TrainingMetricsFileName, body, 0o644, a.logger); err != nil {
		a.logger.Warnf("unable to write training metrics: %+v", err)
		return
	}
	a.logger.Infof("Successfully wrote training metrics to %s", filepath.Join(a.profile.Run.OutputDir, constants.TrainingMetricsFileName))
}

func (a *Agent) upload(ctx context.Context, s Summary) ([]string, error) {
	files := []string{s.ArchivePath, s.ExportPath, filepath.Join(s.OutputDir, constants.TrainingMetricsFileName)}

	var uploaded []string
	for _, f := range files {
		if f == "" {
			continue
		}
		if ok, _ := afero.IsRegularFile(a.fs, f); !ok {
			continue
		}
		key := storage.ObjectKey(a.Config.Upload.Prefix, filepath.Base(f))
		info, err := a.uploader.Upload(ctx, f, key)
		if err != nil {
			return uploaded, err
		}
		a.logger.Infof("Successfully uploaded %s to %s", f, info.Key)
		uploaded = append(uploaded, info.Key)
	}
	return uploaded, nil
}

// finish terminates the engine, records data rejections, and flushes the
// journal and metrics. Termination failures are combined with runErr.
func (a *Agent) finish(ctx context.Context, state *runState, runErr error) error {
	if runErr != nil && errors.Is(runErr, sidecar.ErrDataValidation) {
		a.writeTerminationLog(runErr)
	}

	if a.engineContacted {
		if t, ok := a.engine.(sft.Terminator); ok {
			if err := t.Terminate(context.WithoutCancel(ctx)); err != nil {
				if runErr != nil {
					runErr = multierror.Append(runErr, fmt.Errorf("terminating engine: %w", err))
				} else {
					a.logger.Warnf("failed to terminate engine: %+v", err)
				}
			}
		}
	}

	if err := a.metrics.WriteTextfile(a.fs, a.profile.Run.OutputDir, state.journal.RunID, a.logger); err != nil {
		a.logger.Warnf("failed to write run metrics: %+v", err)
	}
	if err := state.close(); err != nil {
		a.logger.Warnf("failed to write run journal: %+v", err)
	}

	if runErr != nil {
		a.logger.WithError(runErr).Error("Run failed")
	}
	return runErr
}

func (a *Agent) writeTerminationLog(runErr error) {
	path := a.profile.Run.TerminationLogPath
	if path == "" {
		return
	}
	msg := runErr.Error()
	var se *sidecar.StatusError
	if errors.As(runErr, &se) {
		msg = se.Message
	}
	a.logger.Info("Data error detected from training engine")
	if err := a.fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		a.logger.Warnf("failed to create directory for %s: %+v", path, err)
		return
	}
	if err := afero.WriteFile(a.fs, path, []byte(msg), 0o644); err != nil {
		a.logger.Warnf("failed to write message to %s: %+v", path, err)
	}
}
