package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/nreeve/murmur/internal/config"
)

// HTTPTranscriber talks to a transcription service over HTTP:
// POST /v1/jobs with the audio bytes, then GET /v1/jobs/{id} until the job
// leaves the pending state.
type HTTPTranscriber struct {
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
}

// NewHTTPTranscriber builds a client with the configured timeout and rate
// limit.
func NewHTTPTranscriber(cfg *config.Config) *HTTPTranscriber {
	return &HTTPTranscriber{
		baseURL: cfg.TranscriptionURL,
		client:  &http.Client{Timeout: cfg.CollaboratorTimeout()},
		limiter: rate.NewLimiter(rate.Limit(cfg.CollaboratorRequestsPerSecond), 1),
	}
}

type submitResponse struct {
	JobID string `json:"jobId"`
}

type pollResponse struct {
	Status   string  `json:"status"` // pending | completed | failed
	Text     string  `json:"text"`
	Duration float64 `json:"duration"`
	Error    string  `json:"error"`
}

// Submit uploads the audio file and returns the service's job identifier.
// An idempotency key header lets the service dedupe a resubmission that
// raced a crash.
func (t *HTTPTranscriber) Submit(ctx context.Context, audioPath string) (string, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return "", err
	}

	audio, err := os.ReadFile(audioPath)
	if err != nil {
		return "", fmt.Errorf("read audio: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/v1/jobs", bytes.NewReader(audio))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("X-Filename", filepath.Base(audioPath))
	req.Header.Set("Idempotency-Key", uuid.NewString())

	resp, err := t.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return "", fmt.Errorf("transcription submit: unexpected status %d", resp.StatusCode)
	}

	var out submitResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("transcription submit: decode response: %w", err)
	}
	if out.JobID == "" {
		return "", fmt.Errorf("transcription submit: empty job id")
	}
	return out.JobID, nil
}

// Poll fetches the job state, returning ErrJobPending while it runs.
func (t *HTTPTranscriber) Poll(ctx context.Context, jobID string) (*Transcript, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.baseURL+"/v1/jobs/"+jobID, nil)
	if err != nil {
		return nil, err
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("transcription poll: unexpected status %d", resp.StatusCode)
	}

	var out pollResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("transcription poll: decode response: %w", err)
	}
	switch out.Status {
	case "pending":
		return nil, ErrJobPending
	case "completed":
		return &Transcript{Text: out.Text, Duration: out.Duration}, nil
	default:
		return nil, fmt.Errorf("transcription job failed: %s", out.Error)
	}
}

// HTTPRefiner talks to a refinement service: POST /v1/refine with the raw
// transcript, synchronous response with title and formatted text.
type HTTPRefiner struct {
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
}

// NewHTTPRefiner builds a client with the configured timeout and rate limit.
func NewHTTPRefiner(cfg *config.Config) *HTTPRefiner {
	return &HTTPRefiner{
		baseURL: cfg.RefinementURL,
		client:  &http.Client{Timeout: cfg.CollaboratorTimeout()},
		limiter: rate.NewLimiter(rate.Limit(cfg.CollaboratorRequestsPerSecond), 1),
	}
}

// Refine sends the raw transcript and returns the refined result.
func (r *HTTPRefiner) Refine(ctx context.Context, rawText string) (*Refinement, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	body, err := json.Marshal(map[string]string{"rawText": rawText})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/v1/refine", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", uuid.NewString())

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return nil, fmt.Errorf("refinement: unexpected status %d: %s", resp.StatusCode, snippet)
	}

	var out Refinement
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("refinement: decode response: %w", err)
	}
	return &out, nil
}
