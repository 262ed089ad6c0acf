package assemblyai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"callscribe/internal/domain"
)

const (
	defaultTokenURL = "https://streaming.assemblyai.com/v3/token"
	maxTokenTTL     = 600 * time.Second
)

// ErrMissingAPIKey is returned by MintToken when no account key is configured.
var ErrMissingAPIKey = errors.New("AssemblyAI API key is not set")

// IssuerConfig controls temporary token minting.
type IssuerConfig struct {
	APIKey   string
	TokenURL string
	TTL      time.Duration
	Timeout  time.Duration
}

// Issuer mints temporary streaming tokens with the account API key. It implements
// ports.StreamingTokenMinter and must only run server side.
type Issuer struct {
	cfg        IssuerConfig
	httpClient *http.Client
	now        func() time.Time
}

func NewIssuer(cfg IssuerConfig) *Issuer {
	if cfg.TokenURL == "" {
		cfg.TokenURL = defaultTokenURL
	}
	if cfg.TTL <= 0 || cfg.TTL > maxTokenTTL {
		cfg.TTL = maxTokenTTL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Issuer{cfg: cfg, httpClient: &http.Client{Timeout: cfg.Timeout}, now: time.Now}
}

// TTL is the validity window requested for each minted token.
func (i *Issuer) TTL() time.Duration {
	return i.cfg.TTL
}

// FetchToken mints a token directly, for setups where the account key is held locally.
// It implements ports.TokenIssuer.
func (i *Issuer) FetchToken(ctx context.Context) (domain.StreamingToken, error) {
	issuedAt := i.now()
	value, err := i.MintToken(ctx)
	if err != nil {
		return domain.StreamingToken{}, fmt.Errorf("%w: %v", domain.ErrTokenFetchFailed, err)
	}
	return domain.StreamingToken{Value: value, IssuedAt: issuedAt, TTL: i.cfg.TTL}, nil
}

func (i *Issuer) MintToken(ctx context.Context) (string, error) {
	if strings.TrimSpace(i.cfg.APIKey) == "" {
		return "", ErrMissingAPIKey
	}

	tokenURL, err := url.Parse(i.cfg.TokenURL)
	if err != nil {
		return "", fmt.Errorf("invalid token url: %w", err)
	}
	query := tokenURL.Query()
	query.Set("expires_in_seconds", strconv.Itoa(int(i.cfg.TTL/time.Second)))
	tokenURL.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, tokenURL.String(), nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", i.cfg.APIKey)

	resp, err := i.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to request streaming token: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return "", fmt.Errorf("failed to read token response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token request failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var payload struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", fmt.Errorf("invalid token response: %w", err)
	}
	if payload.Token == "" {
		return "", errors.New("token response did not include a token")
	}
	return payload.Token, nil
}
