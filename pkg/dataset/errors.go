package dataset

import "github.com/pkg/errors"

var (
	// ErrNoDatasets means none of the configured files produced any example.
	ErrNoDatasets = errors.New("no datasets found")

	// ErrMissingMessages is returned under the fail policy for a record
	// without a conversation.
	ErrMissingMessages = errors.New("record has no messages")

	// ErrMalformedTurn means a turn could not be decoded or has an unknown role.
	ErrMalformedTurn = errors.New("malformed conversation turn")

	// ErrEmptyRender means a well-formed conversation rendered to "".
	ErrEmptyRender = errors.New("conversation rendered to empty text")

	// ErrRecordSkipped is returned by Formatter.Format under the skip policy.
	ErrRecordSkipped = errors.New("record skipped")
)
