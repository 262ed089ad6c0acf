package token

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"callscribe/internal/domain"
	"callscribe/internal/metrics"
)

// Config controls how streaming tokens are fetched.
type Config struct {
	Endpoint  string
	AuthToken string
	TTL       time.Duration
	Timeout   time.Duration
}

// Client fetches short-lived streaming tokens from the local issuing endpoint.
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *slog.Logger
	metrics    *metrics.Metrics
	now        func() time.Time
}

func NewClient(cfg Config, logger *slog.Logger, m *metrics.Metrics) *Client {
	if cfg.TTL <= 0 {
		cfg.TTL = 10 * time.Minute
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger.With("component", "token"),
		metrics:    m,
		now:        time.Now,
	}
}

type tokenResponse struct {
	Token string `json:"token"`
	Error string `json:"error"`
}

// FetchToken requests one streaming token. The validity window starts before the
// request is sent so expiry is never overestimated.
func (c *Client) FetchToken(ctx context.Context) (domain.StreamingToken, error) {
	if strings.TrimSpace(c.cfg.Endpoint) == "" {
		c.metrics.TokenRequest("error")
		return domain.StreamingToken{}, fmt.Errorf("%w: token endpoint is not configured", domain.ErrTokenFetchFailed)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.Endpoint, nil)
	if err != nil {
		c.metrics.TokenRequest("error")
		return domain.StreamingToken{}, fmt.Errorf("%w: %v", domain.ErrTokenFetchFailed, err)
	}
	req.Header.Set("Accept", "application/json")
	if c.cfg.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.AuthToken)
	}

	issuedAt := c.now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.metrics.TokenRequest("error")
		return domain.StreamingToken{}, fmt.Errorf("%w: %v", domain.ErrTokenFetchFailed, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		c.metrics.TokenRequest("error")
		return domain.StreamingToken{}, fmt.Errorf("%w: read response: %v", domain.ErrTokenFetchFailed, err)
	}

	var payload tokenResponse
	decodeErr := json.Unmarshal(body, &payload)

	if resp.StatusCode != http.StatusOK {
		c.metrics.TokenRequest("error")
		message := strings.TrimSpace(payload.Error)
		if decodeErr != nil || message == "" {
			message = strings.TrimSpace(string(body))
		}
		return domain.StreamingToken{}, fmt.Errorf("%w: status %d: %s", domain.ErrTokenFetchFailed, resp.StatusCode, message)
	}
	if decodeErr != nil {
		c.metrics.TokenRequest("error")
		return domain.StreamingToken{}, fmt.Errorf("%w: invalid response: %v", domain.ErrTokenFetchFailed, decodeErr)
	}
	if strings.TrimSpace(payload.Token) == "" {
		c.metrics.TokenRequest("error")
		return domain.StreamingToken{}, fmt.Errorf("%w: response did not include a token", domain.ErrTokenFetchFailed)
	}

	c.metrics.TokenRequest("ok")
	c.logger.Debug("streaming token fetched", "ttl", c.cfg.TTL)
	return domain.StreamingToken{Value: payload.Token, IssuedAt: issuedAt, TTL: c.cfg.TTL}, nil
}
