package training

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/sgl-project/sft-agent/pkg/afero"
	"github.com/sgl-project/sft-agent/pkg/constants"
	"github.com/sgl-project/sft-agent/pkg/logging"
)

// ErrStageOrder is returned when a stage starts before its predecessors finished.
var ErrStageOrder = errors.New("stage invoked out of order")

type Stage string

const (
	StageAssemble  Stage = "assemble"
	StageLoad      Stage = "load_model"
	StageInject    Stage = "inject_adapters"
	StageFormat    Stage = "format"
	StageTrain     Stage = "train"
	StageSave      Stage = "save_checkpoint"
	StageExport    Stage = "export"
	StageArchive   Stage = "archive"
	StageUpload    Stage = "upload"
	StageModelfile Stage = "modelfile"
)

// TrainingStages is the order Agent.Run executes.
var TrainingStages = []Stage{
	StageAssemble,
	StageLoad,
	StageInject,
	StageFormat,
	StageTrain,
	StageSave,
	StageExport,
	StageArchive,
	StageUpload,
	StageModelfile,
}

// PrepareStages is the order Agent.Prepare executes.
var PrepareStages = []Stage{StageAssemble, StageFormat}

type StageStatus string

const (
	StatusPending   StageStatus = "pending"
	StatusRunning   StageStatus = "running"
	StatusCompleted StageStatus = "completed"
	StatusFailed    StageStatus = "failed"
	StatusSkipped   StageStatus = "skipped"
)

func (s StageStatus) done() bool {
	return s == StatusCompleted || s == StatusSkipped
}

type StageRecord struct {
	Name       Stage                  `json:"name"`
	Status     StageStatus            `json:"status"`
	StartedAt  *time.Time             `json:"started_at,omitempty"`
	FinishedAt *time.Time             `json:"finished_at,omitempty"`
	Detail     map[string]interface{} `json:"detail,omitempty"`
	Error      string                 `json:"error,omitempty"`
}

// Journal is the persisted record of one run, kept in run_state.json.
type Journal struct {
	RunID       string        `json:"run_id"`
	ResumedFrom string        `json:"resumed_from,omitempty"`
	StartedAt   time.Time     `json:"started_at"`
	FinishedAt  *time.Time    `json:"finished_at,omitempty"`
	Stages      []StageRecord `json:"stages"`

	// Dataset is the format record that produced the dataset file on disk.
	// Resumed runs carry it forward so it survives a later failure.
	Dataset *StageRecord `json:"dataset,omitempty"`
}

// Stage returns the record for name, if the journal has one.
func (j *Journal) Stage(name Stage) (StageRecord, bool) {
	for _, r := range j.Stages {
		if r.Name == name {
			return r, true
		}
	}
	return StageRecord{}, false
}

// LoadJournal reads run_state.json from dir. A missing file yields nil, nil.
func LoadJournal(fs afero.Fs, dir string) (*Journal, error) {
	data, err := afero.ReadFile(fs, filepath.Join(dir, constants.RunStateFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var j Journal
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", constants.RunStateFileName, err)
	}
	return &j, nil
}

// runState enforces stage order and mirrors every transition into the journal.
type runState struct {
	fs     afero.Fs
	dir    string
	logger logging.Interface
	now    func() time.Time

	journal  Journal
	previous *Journal
}

func openRunState(fs afero.Fs, dir string, stages []Stage, logger logging.Interface, now func() time.Time) (*runState, error) {
	previous, err := LoadJournal(fs, dir)
	if err != nil {
		logger.WithError(err).Warn("Ignoring unreadable run journal")
		previous = nil
	}

	s := &runState{
		fs:       fs,
		dir:      dir,
		logger:   logger,
		now:      now,
		previous: previous,
		journal: Journal{
			RunID:     uuid.NewString(),
			StartedAt: now().UTC(),
		},
	}
	for _, name := range stages {
		s.journal.Stages = append(s.journal.Stages, StageRecord{Name: name, Status: StatusPending})
	}
	return s, s.save()
}

func (s *runState) index(name Stage) (int, error) {
	for i, r := range s.journal.Stages {
		if r.Name == name {
			return i, nil
		}
	}
	return -1, fmt.Errorf("%w: %s is not part of this run", ErrStageOrder, name)
}

// ready checks that name is pending and every earlier stage is done.
func (s *runState) ready(name Stage) (int, error) {
	idx, err := s.index(name)
	if err != nil {
		return -1, err
	}
	if st := s.journal.Stages[idx].Status; st != StatusPending {
		return -1, fmt.Errorf("%w: %s is already %s", ErrStageOrder, name, st)
	}
	for _, r := range s.journal.Stages[:idx] {
		if !r.Status.done() {
			return -1, fmt.Errorf("%w: %s requires %s (status %s)", ErrStageOrder, name, r.Name, r.Status)
		}
	}
	return idx, nil
}

func (s *runState) begin(name Stage) error {
	idx, err := s.ready(name)
	if err != nil {
		return err
	}
	now := s.now().UTC()
	s.journal.Stages[idx].Status = StatusRunning
	s.journal.Stages[idx].StartedAt = &now
	return s.save()
}

func (s *runState) finish(name Stage, status StageStatus, detail map[string]interface{}, stageErr error) error {
	idx, err := s.index(name)
	if err != nil {
		return err
	}
	if s.journal.Stages[idx].Status != StatusRunning {
		return fmt.Errorf("%w: %s was not started", ErrStageOrder, name)
	}
	now := s.now().UTC()
	s.journal.Stages[idx].Status = status
	s.journal.Stages[idx].FinishedAt = &now
	s.journal.Stages[idx].Detail = detail
	if stageErr != nil {
		s.journal.Stages[idx].Error = stageErr.Error()
	}
	return s.save()
}

func (s *runState) complete(name Stage, detail map[string]interface{}) error {
	return s.finish(name, StatusCompleted, detail, nil)
}

func (s *runState) fail(name Stage, stageErr error) error {
	return s.finish(name, StatusFailed, nil, stageErr)
}

// skip marks a stage done without running it. Order is still enforced.
func (s *runState) skip(name Stage, detail map[string]interface{}) error {
	idx, err := s.ready(name)
	if err != nil {
		return err
	}
	s.journal.Stages[idx].Status = StatusSkipped
	s.journal.Stages[idx].Detail = detail
	return s.save()
}

// previousCompleted returns a stage the prior run in this directory finished,
// either by running it or by carrying it over from an earlier run.
func (s *runState) previousCompleted(name Stage) (StageRecord, bool) {
	if s.previous == nil {
		return StageRecord{}, false
	}
	r, ok := s.previous.Stage(name)
	if !ok || !r.Status.done() {
		return StageRecord{}, false
	}
	return r, true
}

// previousDataset returns the format record behind the dataset file, either
// from the prior run's own format stage or carried by it from an earlier run.
func (s *runState) previousDataset() (StageRecord, bool) {
	if r, ok := s.previousCompleted(StageFormat); ok {
		return r, true
	}
	if s.previous == nil || s.previous.Dataset == nil {
		return StageRecord{}, false
	}
	return *s.previous.Dataset, true
}

// carryDataset records rec as the dataset this run reuses.
func (s *runState) carryDataset(rec StageRecord) error {
	s.journal.Dataset = &rec
	return s.save()
}

func (s *runState) close() error {
	now := s.now().UTC()
	s.journal.FinishedAt = &now
	return s.save()
}

func (s *runState) save() error {
	data, err := json.MarshalIndent(&s.journal, "", "  ")
	if err != nil {
		return err
	}
	return afero.AtomicFileUpdate(s.fs, s.dir, constants.RunStateFileName, data, 0o644, s.logger)
}
