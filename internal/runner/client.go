// Package runner implements the runner-side half of the poll-based
// worker-dispatcher protocol: a fixed-capacity worker pool that
// registers with the dispatcher, claims work up to its advertised
// capacity, and drives each claimed run through internal/pipeline.
package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/flowstate/flowstate/internal/domain"
	"github.com/flowstate/flowstate/internal/ferrors"
	"github.com/flowstate/flowstate/internal/wire"
)

// httpBackoffBase and httpBackoffMax bound retry delay for transient
// dispatcher-call failures (connection refused, 5xx). Mirrors the
// teacher's calculateBackoff shape via ferrors.Backoff.
const (
	httpBackoffBase = 500 * time.Millisecond
	httpBackoffMax  = 30 * time.Second
	httpAttempts    = 4
)

// Client is the runner's HTTP client for the dispatcher's poll
// endpoints. It also implements pipeline.Reporter so a Pipeline can
// report progress and completion directly through it.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient builds a Client against a dispatcher listening at baseURL
// (e.g. "http://127.0.0.1:8090").
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) post(ctx context.Context, path string, req, resp any) (int, error) {
	var status int
	err := ferrors.Retry(httpAttempts, httpBackoffBase, httpBackoffMax, func() error {
		body, err := json.Marshal(req)
		if err != nil {
			return ferrors.New(ferrors.KindPrecondition, "", err)
		}
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
		if err != nil {
			return ferrors.New(ferrors.KindPrecondition, "", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")

		httpResp, err := c.http.Do(httpReq)
		if err != nil {
			return ferrors.New(ferrors.KindTransient, "", err)
		}
		defer httpResp.Body.Close()

		status = httpResp.StatusCode
		if httpResp.StatusCode >= 500 {
			data, _ := io.ReadAll(httpResp.Body)
			return ferrors.New(ferrors.KindTransient, "", fmt.Errorf("dispatcher %s: %d: %s", path, httpResp.StatusCode, data))
		}
		if httpResp.StatusCode == http.StatusNoContent {
			return nil
		}
		if httpResp.StatusCode >= 400 {
			data, _ := io.ReadAll(httpResp.Body)
			return ferrors.New(ferrors.KindPrecondition, "", fmt.Errorf("dispatcher %s: %d: %s", path, httpResp.StatusCode, data))
		}
		if resp == nil {
			return nil
		}
		return json.NewDecoder(httpResp.Body).Decode(resp)
	})
	return status, err
}

// Register announces this runner's identity and current load, and
// returns any pending config the dispatcher wants applied.
func (c *Client) Register(ctx context.Context, req wire.RegisterRequest) (*wire.PendingConfig, error) {
	var resp wire.RegisterResponse
	if _, err := c.post(ctx, "/v1/register", req, &resp); err != nil {
		return nil, err
	}
	return resp.PendingConfig, nil
}

// Claim asks for one unit of work. A nil ClaimedRun (with a nil error)
// means there was nothing eligible to claim this cycle.
func (c *Client) Claim(ctx context.Context, req wire.ClaimRequest) (*wire.ClaimResponse, error) {
	var resp wire.ClaimResponse
	status, err := c.post(ctx, "/v1/claim", req, &resp)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNoContent {
		return &wire.ClaimResponse{}, nil
	}
	return &resp, nil
}

// Progress implements pipeline.Reporter.
func (c *Client) Progress(runID, runnerID, message string) error {
	_, err := c.post(context.Background(), "/v1/progress", wire.ProgressRequest{
		RunID: runID, RunnerID: runnerID, Message: message,
	}, nil)
	return err
}

// Complete implements pipeline.Reporter.
func (c *Client) Complete(runID, runnerID string, outcome domain.Outcome) error {
	req := wire.CompleteRequest{
		RunID:        runID,
		RunnerID:     runnerID,
		Status:       string(outcome.Status),
		ErrorMessage: outcome.ErrorMessage,
		ExitCode:     outcome.ExitCode,
		BranchName:   outcome.BranchName,
		PRURL:        outcome.PRURL,
		PRNumber:     outcome.PRNumber,
	}
	_, err := c.post(context.Background(), "/v1/complete", req, nil)
	return err
}
