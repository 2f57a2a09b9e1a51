package upload

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"
)

type HTTPConfig struct {
	BaseURL           string
	AuthenticatedPath string
	UnloggedPath      string
	// RatePerSecond throttles outgoing uploads. Zero disables throttling.
	RatePerSecond float64
}

// HTTPBackend talks JSON to the asset store. Requests are never retried.
type HTTPBackend struct {
	client       *resty.Client
	authPath     string
	unloggedPath string
}

type authenticatedRequest struct {
	FileName string `json:"fileName"`
	DataURL  string `json:"dataURL"`
}

type unloggedRequest struct {
	FileName  string `json:"fileName"`
	DataURL   string `json:"dataURL"`
	OwnerID   string `json:"ownerID"`
	SessionID string `json:"sessionID"`
}

func NewHTTPBackend(cfg HTTPConfig) *HTTPBackend {
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		SetRetryCount(0)

	if cfg.RatePerSecond > 0 {
		limiter := rate.NewLimiter(rate.Limit(cfg.RatePerSecond), 1)
		client.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
			return limiter.Wait(req.Context())
		})
	}
	authPath := cfg.AuthenticatedPath
	if authPath == "" {
		authPath = "/assets/upload"
	}
	unloggedPath := cfg.UnloggedPath
	if unloggedPath == "" {
		unloggedPath = "/assets/upload-unlogged"
	}
	return &HTTPBackend{client: client, authPath: authPath, unloggedPath: unloggedPath}
}

// SetTimeout caps the transport time of every request.
func (b *HTTPBackend) SetTimeout(d time.Duration) *HTTPBackend {
	b.client.SetTimeout(d)
	return b
}

func (b *HTTPBackend) UploadAuthenticated(ctx context.Context, filename, dataURL, token string) (*Result, error) {
	req := b.client.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetBody(authenticatedRequest{FileName: filename, DataURL: dataURL})
	return b.do(req, b.authPath)
}

func (b *HTTPBackend) UploadUnlogged(ctx context.Context, filename, dataURL, ownerID, sessionID string) (*Result, error) {
	req := b.client.R().
		SetContext(ctx).
		SetBody(unloggedRequest{FileName: filename, DataURL: dataURL, OwnerID: ownerID, SessionID: sessionID})
	return b.do(req, b.unloggedPath)
}

func (b *HTTPBackend) do(req *resty.Request, path string) (*Result, error) {
	var result Result
	resp, err := req.SetResult(&result).Post(path)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("asset store error: %s (status %d)", resp.String(), resp.StatusCode())
	}
	return &result, nil
}
