package optimizer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

var (
	// ErrUnavailable is returned when the optimizer cannot be reached or answers with a server error.
	ErrUnavailable = errors.New("optimizer unavailable")
	// ErrJobNotFound is returned when the optimizer does not know the job id.
	ErrJobNotFound = errors.New("optimizer job not found")
	// ErrInvalidProblem is returned when a problem fails validation before submission.
	ErrInvalidProblem = errors.New("invalid optimizer problem")
)

// Observer receives timing for each outbound call.
type Observer interface {
	ObserveHTTPRequest(method, path string, status int, duration time.Duration)
}

// Config configures the optimizer client.
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// Client talks to the external timetable optimizer over HTTP JSON.
type Client struct {
	baseURL   string
	client    *http.Client
	validator *validator.Validate
	metrics   Observer
	logger    *zap.Logger
}

// NewClient constructs a Client with a default timeout.
func NewClient(cfg Config, metrics Observer, logger *zap.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		client:    &http.Client{Timeout: timeout},
		validator: validator.New(),
		metrics:   metrics,
		logger:    logger,
	}
}

// Enabled reports whether a base URL is configured.
func (c *Client) Enabled() bool {
	return c != nil && c.baseURL != ""
}

// Submit validates and posts a problem, returning the optimizer job id.
func (c *Client) Submit(ctx context.Context, problem Problem) (string, error) {
	if err := c.validator.Struct(problem); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidProblem, err)
	}
	var resp SubmitResponse
	if err := c.do(ctx, http.MethodPost, "/generate", "generate", problem, &resp); err != nil {
		return "", err
	}
	if resp.JobID == "" {
		return "", fmt.Errorf("%w: empty job id", ErrUnavailable)
	}
	c.logger.Info("optimizer job submitted", zap.String("job_id", resp.JobID), zap.String("generation_id", problem.GenerationID))
	return resp.JobID, nil
}

// PollStatus fetches the current state of a job.
func (c *Client) PollStatus(ctx context.Context, jobID string) (*StatusResponse, error) {
	var resp StatusResponse
	if err := c.do(ctx, http.MethodGet, "/job-status/"+url.PathEscape(jobID), "job_status", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Cancel asks the optimizer to stop a job.
func (c *Client) Cancel(ctx context.Context, jobID string) error {
	return c.do(ctx, http.MethodPost, "/cancel/"+url.PathEscape(jobID), "cancel", nil, nil)
}

func (c *Client) do(ctx context.Context, method, path, label string, body, out interface{}) error {
	if !c.Enabled() {
		return fmt.Errorf("%w: base URL not configured", ErrUnavailable)
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode optimizer request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build optimizer request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	duration := time.Since(start)

	statusCode := http.StatusServiceUnavailable
	if resp != nil {
		statusCode = resp.StatusCode
	}
	if c.metrics != nil {
		c.metrics.ObserveHTTPRequest(method, "optimizer_"+label, statusCode, duration)
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrJobNotFound
	case resp.StatusCode >= http.StatusInternalServerError:
		return fmt.Errorf("%w: received status %d", ErrUnavailable, resp.StatusCode)
	case resp.StatusCode >= http.StatusBadRequest:
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("optimizer rejected request with status %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode optimizer response: %w", err)
	}
	return nil
}
