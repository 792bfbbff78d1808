package training

import (
	"bytes"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	ioprometheusclient "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"google.golang.org/protobuf/proto"

	"github.com/sgl-project/sft-agent/pkg/afero"
	"github.com/sgl-project/sft-agent/pkg/constants"
	"github.com/sgl-project/sft-agent/pkg/dataset"
	"github.com/sgl-project/sft-agent/pkg/logging"
)

// Metrics holds the per-run series written to run_metrics.prom.
type Metrics struct {
	registry *prometheus.Registry

	stageDuration   *prometheus.GaugeVec
	stageFailures   *prometheus.CounterVec
	datasetExamples *prometheus.GaugeVec

	formattedRecords prometheus.Counter
	emptyTextRecords prometheus.Counter
	skippedRecords   prometheus.Counter
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		stageDuration: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "sft_stage_duration_seconds",
			Help: "Wall time spent in each pipeline stage",
		}, []string{"stage"}),
		stageFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sft_stage_failures_total",
			Help: "Number of failed pipeline stages",
		}, []string{"stage"}),
		datasetExamples: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "sft_dataset_examples",
			Help: "Examples loaded per source file",
		}, []string{"source"}),
		formattedRecords: factory.NewCounter(prometheus.CounterOpts{
			Name: "sft_formatted_records_total",
			Help: "Records handed to the trainer",
		}),
		emptyTextRecords: factory.NewCounter(prometheus.CounterOpts{
			Name: "sft_empty_text_records_total",
			Help: "Records without messages formatted to empty text",
		}),
		skippedRecords: factory.NewCounter(prometheus.CounterOpts{
			Name: "sft_skipped_records_total",
			Help: "Records without messages dropped from the dataset",
		}),
	}
}

func (m *Metrics) ObserveStage(stage Stage, d time.Duration, err error) {
	m.stageDuration.WithLabelValues(string(stage)).Set(d.Seconds())
	if err != nil {
		m.stageFailures.WithLabelValues(string(stage)).Inc()
	}
}

func (m *Metrics) ObserveCollection(c *dataset.Collection) {
	for _, src := range c.Sources {
		m.datasetExamples.WithLabelValues(src.Path).Set(float64(src.Count))
	}
}

func (m *Metrics) ObserveFormat(stats dataset.FormatStats) {
	m.formattedRecords.Add(float64(stats.Formatted))
	m.emptyTextRecords.Add(float64(stats.EmptyText))
	m.skippedRecords.Add(float64(stats.Skipped))
}

// WriteTextfile writes every series in the text exposition format, suitable
// for the node exporter textfile collector. A non-empty runID is stamped on
// each series as the run_id label.
func (m *Metrics) WriteTextfile(fs afero.Fs, dir string, runID string, logger logging.Interface) error {
	families, err := m.registry.Gather()
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	for _, mf := range families {
		if runID != "" {
			addRunLabel(mf, runID)
		}
		if _, err := expfmt.MetricFamilyToText(&buf, mf); err != nil {
			return err
		}
	}
	return afero.AtomicFileUpdate(fs, dir, constants.RunMetricsFileName, buf.Bytes(), 0o644, logger)
}

func addRunLabel(mf *ioprometheusclient.MetricFamily, runID string) {
	for _, metric := range mf.Metric {
		metric.Label = append(metric.Label, &ioprometheusclient.LabelPair{
			Name:  proto.String("run_id"),
			Value: proto.String(runID),
		})
	}
}
