package dataset

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"github.com/samber/lo"
)

// Templater renders conversations into the model's flat text format.
type Templater interface {
	ApplyChatTemplate(ctx context.Context, conversations [][]Turn, addGenerationPrompt bool) ([]string, error)
}

// MissingMessagesPolicy decides what happens to a record without a conversation.
type MissingMessagesPolicy string

const (
	// PolicyEmpty keeps the record with empty text.
	PolicyEmpty MissingMessagesPolicy = "empty"
	// PolicySkip drops the record.
	PolicySkip MissingMessagesPolicy = "skip"
	// PolicyFail aborts formatting with ErrMissingMessages.
	PolicyFail MissingMessagesPolicy = "fail"
)

const defaultBatchSize = 64

// ParsePolicy maps a configuration string to a policy; "" means PolicyEmpty.
func ParsePolicy(s string) (MissingMessagesPolicy, error) {
	switch p := MissingMessagesPolicy(s); p {
	case "":
		return PolicyEmpty, nil
	case PolicyEmpty, PolicySkip, PolicyFail:
		return p, nil
	default:
		return "", fmt.Errorf("unknown missing messages policy %q", s)
	}
}

// FormatStats counts what FormatCollection did.
type FormatStats struct {
	Formatted int
	EmptyText int
	Skipped   int
}

// Formatter turns examples into trainer records. The generation prompt is
// never appended since the data already holds the target completion.
type Formatter struct {
	Templater Templater
	Policy    MissingMessagesPolicy
	BatchSize int
}

// Format renders a single example. Under PolicySkip a record without
// messages yields ErrRecordSkipped.
func (f *Formatter) Format(ctx context.Context, ex Example) (Record, error) {
	if !ex.HasMessages() {
		return f.missing(ex)
	}
	if err := ex.Validate(); err != nil {
		return Record{}, locate(err, ex)
	}
	texts, err := f.Templater.ApplyChatTemplate(ctx, [][]Turn{ex.Messages}, false)
	if err != nil {
		return Record{}, errors.Wrap(err, "applying chat template")
	}
	if len(texts) != 1 {
		return Record{}, fmt.Errorf("chat template returned %d texts for 1 conversation", len(texts))
	}
	if texts[0] == "" {
		return Record{}, locate(ErrEmptyRender, ex)
	}
	return Record{Text: texts[0]}, nil
}

// FormatCollection renders every example in order, batching templater calls.
func (f *Formatter) FormatCollection(ctx context.Context, c *Collection) ([]Record, FormatStats, error) {
	type pending struct {
		slot    int
		example Example
	}

	var (
		stats   FormatStats
		records = make([]Record, 0, c.Len())
		queue   []pending
	)
	for _, ex := range c.Examples {
		if !ex.HasMessages() {
			rec, err := f.missing(ex)
			switch {
			case errors.Is(err, ErrRecordSkipped):
				stats.Skipped++
			case err != nil:
				return nil, stats, err
			default:
				stats.EmptyText++
				records = append(records, rec)
			}
			continue
		}
		if err := ex.Validate(); err != nil {
			return nil, stats, locate(err, ex)
		}
		queue = append(queue, pending{slot: len(records), example: ex})
		records = append(records, Record{})
	}

	batchSize := f.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	for _, batch := range lo.Chunk(queue, batchSize) {
		conversations := lo.Map(batch, func(p pending, _ int) []Turn { return p.example.Messages })
		texts, err := f.Templater.ApplyChatTemplate(ctx, conversations, false)
		if err != nil {
			return nil, stats, errors.Wrap(err, "applying chat template")
		}
		if len(texts) != len(batch) {
			return nil, stats, fmt.Errorf("chat template returned %d texts for %d conversations", len(texts), len(batch))
		}
		for i, p := range batch {
			if texts[i] == "" {
				return nil, stats, locate(ErrEmptyRender, p.example)
			}
			records[p.slot].Text = texts[i]
		}
	}

	stats.Formatted = len(records)
	return records, stats, nil
}

func (f *Formatter) missing(ex Example) (Record, error) {
	switch f.Policy {
	case PolicySkip:
		return Record{}, ErrRecordSkipped
	case PolicyFail:
		return Record{}, locate(ErrMissingMessages, ex)
	default:
		return Record{}, nil
	}
}

func locate(err error, ex Example) error {
	if loc := ex.Location(); loc != "" {
		return errors.WithMessage(err, loc)
	}
	return err
}
