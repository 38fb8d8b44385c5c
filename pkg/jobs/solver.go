package jobs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// SolveResult is the output of a successful solve run. The payloads and
// hashes are stored on the job row and carried into the publish request.
type SolveResult struct {
	Assignments  map[string]any `json:"assignments"`
	Routes       map[string]any `json:"routes"`
	KPISnapshot  map[string]any `json:"kpiSnapshot"`
	InputHash    string         `json:"inputHash"`
	OutputHash   string         `json:"outputHash"`
	EvidenceHash string         `json:"evidenceHash"`
}

// Solver computes assignments and routes for a plan.
type Solver interface {
	Solve(ctx context.Context, job *SolveJob) (*SolveResult, error)
}

// HTTPSolver posts solve requests to an external optimizer endpoint and
// decodes the response as a SolveResult.
type HTTPSolver struct {
	url  string
	http *http.Client
}

// NewHTTPSolver creates a solver client for the given endpoint.
func NewHTTPSolver(url string, timeout time.Duration) *HTTPSolver {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &HTTPSolver{
		url: url,
		http: &http.Client{
			Timeout: timeout,
		},
	}
}

type solveRequest struct {
	JobID    string `json:"jobId"`
	TenantID string `json:"tenantId"`
	PlanID   string `json:"planId"`
	Attempt  int    `json:"attempt"`
}

// Solve posts the job to the optimizer and decodes its response.
func (s *HTTPSolver) Solve(ctx context.Context, job *SolveJob) (*SolveResult, error) {
	data, err := json.Marshal(solveRequest{
		JobID:    job.ID,
		TenantID: job.TenantID,
		PlanID:   job.PlanID,
		Attempt:  job.AttemptCount,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal error: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("request creation failed: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("solver returned %d: %s", resp.StatusCode, string(body))
	}

	var result SolveResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode error: %w", err)
	}
	return &result, nil
}
