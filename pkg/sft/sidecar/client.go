// Package sidecar implements sft.Engine against a training sidecar that
// exposes the engine over HTTP on the same host.
package sidecar

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sgl-project/sft-agent/pkg/logging"
	"github.com/sgl-project/sft-agent/pkg/sft"
)

// ErrDataValidation is returned when the sidecar rejects the training data (HTTP 422).
var ErrDataValidation = errors.New("sidecar rejected training data")

// Training status values reported by GET /status.
const (
	StatusReady    = "READY"
	StatusRunning  = "RUNNING"
	StatusFinished = "FINISHED"
	StatusFailed   = "FAILED"
)

const (
	defaultPollInterval   = time.Minute
	defaultStartupTimeout = 30 * time.Minute
)

var (
	_ sft.Engine          = (*Client)(nil)
	_ sft.MetricsReporter = (*Client)(nil)
	_ sft.Terminator      = (*Client)(nil)
)

// Response is the envelope every sidecar endpoint answers with on error and
// GET /status answers with always.
type Response struct {
	Status  string           `json:"status"`
	Message string           `json:"message,omitempty"`
	Result  *sft.TrainResult `json:"result,omitempty"`
}

// StatusError is a non-2xx answer from the sidecar.
type StatusError struct {
	Endpoint   string
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s - StatusCode: %d, Response: %s", e.Endpoint, e.StatusCode, e.Message)
}

func (e *StatusError) Unwrap() error {
	if e.StatusCode == http.StatusUnprocessableEntity {
		return ErrDataValidation
	}
	return nil
}

type Config struct {
	Endpoint       string
	PollInterval   time.Duration
	StartupTimeout time.Duration
	HTTPClient     *http.Client
	Logger         logging.Interface
}

// Client talks to the sidecar. It is not safe for concurrent runs.
type Client struct {
	baseURL        string
	client         *http.Client
	pollInterval   time.Duration
	startupTimeout time.Duration
	logger         logging.Interface

	ready bool
}

func NewClient(config Config) (*Client, error) {
	if config.Endpoint == "" {
		return nil, fmt.Errorf("sidecar endpoint is required")
	}
	c := &Client{
		baseURL:        strings.TrimRight(config.Endpoint, "/"),
		client:         config.HTTPClient,
		pollInterval:   config.PollInterval,
		startupTimeout: config.StartupTimeout,
		logger:         config.Logger,
	}
	if c.client == nil {
		c.client = &http.Client{}
	}
	if c.pollInterval <= 0 {
		c.pollInterval = defaultPollInterval
	}
	if c.startupTimeout <= 0 {
		c.startupTimeout = defaultStartupTimeout
	}
	if c.logger == nil {
		c.logger = logging.Discard()
	}
	return c, nil
}

// WaitForStartup polls GET /status until the sidecar answers or the startup
// timeout passes. Only connection failures are waited on.
func (c *Client) WaitForStartup(ctx context.Context) error {
	if c.ready {
		return nil
	}
	deadline := time.Now().Add(c.startupTimeout)
	for {
		_, err := c.status(ctx)
		if err == nil {
			c.ready = true
			return nil
		}
		var se *StatusError
		if errors.As(err, &se) {
			return err
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("can't reach training sidecar at %s within %s: %w", c.baseURL, c.startupTimeout, err)
		}
		c.logger.Infof("sidecar is starting, checking again in %s...", c.pollInterval)
		if err := sleep(ctx, c.pollInterval); err != nil {
			return err
		}
	}
}

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) ([]byte, error) {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("encoding %s payload: %w", path, err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s response: %w", path, err)
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		se := &StatusError{Endpoint: path, StatusCode: resp.StatusCode, Message: string(respBody)}
		var envelope Response
		if json.Unmarshal(respBody, &envelope) == nil && envelope.Message != "" {
			se.Message = envelope.Message
		}
		return nil, se
	}

	c.logger.Debugf("%s - StatusCode: %d, Response: %s", path, resp.StatusCode, string(respBody))
	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return nil, fmt.Errorf("failed to unmarshal %s response %s: %w", path, string(respBody), err)
		}
	}
	return respBody, nil
}

func (c *Client) status(ctx context.Context) (*Response, error) {
	var resp Response
	if _, err := c.do(ctx, http.MethodGet, "/status", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
