package scorer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	json "github.com/goccy/go-json"
	"github.com/helix-sec/crucible/internal/report"
	"go.uber.org/zap"
)

// ErrUnavailable covers transport failures and non-success responses from
// the scoring service. The scheduler retries these within a cycle, up to
// its configured bound.
var ErrUnavailable = errors.New("scorer: unavailable")

// Client triggers scoring for one session. The session identifier is the
// correlation key; the scoring service is assumed idempotent under
// duplicate triggers for the same session.
type Client interface {
	// Score requests scoring of the session. A nil report with a nil error
	// means the scorer acknowledged without returning a report body
	// (fire-and-forget mode).
	Score(ctx context.Context, sessionID string) (*report.Report, error)
}

// HTTPClient calls the external scoring service over HTTP: POST
// {"session_id": ...} to <base>/score.
type HTTPClient struct {
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

// NewHTTPClient creates a scorer client for the given base URL.
func NewHTTPClient(baseURL string, timeout time.Duration, logger *zap.Logger) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

type scoreRequest struct {
	SessionID string `json:"session_id"`
}

// Score implements Client.
func (c *HTTPClient) Score(ctx context.Context, sessionID string) (*report.Report, error) {
	body, err := json.Marshal(scoreRequest{SessionID: sessionID})
	if err != nil {
		return nil, fmt.Errorf("Score session=%s: %w", sessionID, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/score", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("Score session=%s: %w", sessionID, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("Score session=%s: %w: %w", sessionID, ErrUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("Score session=%s: %w: status %d", sessionID, ErrUnavailable, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("Score session=%s: %w: %w", sessionID, ErrUnavailable, err)
	}

	// An empty or non-report body is a plain acknowledgment; some scorer
	// deployments deliver the report asynchronously through the ingest
	// boundary instead.
	var rep report.Report
	if err := json.Unmarshal(data, &rep); err != nil || rep.SessionID == "" {
		c.logger.Debug("scorer acknowledged without report body",
			zap.String("session_id", sessionID),
		)
		return nil, nil
	}
	return &rep, nil
}
