package upload

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBackend struct {
	authCalls     int
	unloggedCalls int
	lastDataURL   string
	lastOwner     string
	lastSession   string
	result        *Result
	err           error
	block         bool
}

func (f *fakeBackend) UploadAuthenticated(ctx context.Context, _, dataURL, _ string) (*Result, error) {
	f.authCalls++
	f.lastDataURL = dataURL
	return f.reply(ctx)
}

func (f *fakeBackend) UploadUnlogged(ctx context.Context, _, dataURL, ownerID, sessionID string) (*Result, error) {
	f.unloggedCalls++
	f.lastDataURL = dataURL
	f.lastOwner, f.lastSession = ownerID, sessionID
	return f.reply(ctx)
}

func (f *fakeBackend) reply(ctx context.Context) (*Result, error) {
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return f.result, f.err
}

func okResult() *Result {
	return &Result{Asset: Asset{AssetURL: "https://cdn.example/a.png", AssetID: "asset-1"}}
}

var png = Image{Name: "a.png", MimeType: "image/png", Data: []byte{0x89, 'P', 'N', 'G'}}

func TestUploaderPaths(t *testing.T) {
	t.Run("Should use the authenticated path when a token is present", func(t *testing.T) {
		backend := &fakeBackend{result: okResult()}
		asset, err := NewUploader(backend, Options{}).Upload(context.Background(), png, Credentials{AuthToken: "tok", SessionID: "s"})
		require.NoError(t, err)
		assert.Equal(t, 1, backend.authCalls)
		assert.Zero(t, backend.unloggedCalls)
		assert.Equal(t, "asset-1", asset.AssetID)
		assert.Equal(t, "image/png", asset.MimeType)
		assert.Equal(t, "data:image/png;base64,iVBORw==", backend.lastDataURL)
	})

	t.Run("Should use the unlogged path with session and owner", func(t *testing.T) {
		backend := &fakeBackend{result: okResult()}
		_, err := NewUploader(backend, Options{}).Upload(context.Background(), png, Credentials{SessionID: "s1", OwnerID: "o1"})
		require.NoError(t, err)
		assert.Equal(t, 1, backend.unloggedCalls)
		assert.Equal(t, "o1", backend.lastOwner)
		assert.Equal(t, "s1", backend.lastSession)
	})

	t.Run("Should refuse anonymous uploads without identifiers", func(t *testing.T) {
		backend := &fakeBackend{result: okResult()}
		_, err := NewUploader(backend, Options{}).Upload(context.Background(), png, Credentials{SessionID: "s1"})
		var upErr *UploadError
		require.ErrorAs(t, err, &upErr)
		assert.ErrorIs(t, err, ErrMissingCredentials)
		assert.Zero(t, backend.unloggedCalls)
	})
}

func TestUploaderFailures(t *testing.T) {
	t.Run("Should surface a non-zero result code with the backend message", func(t *testing.T) {
		backend := &fakeBackend{result: &Result{ResultCode: 7, ResultMessage: "quota exceeded"}}
		_, err := NewUploader(backend, Options{}).Upload(context.Background(), png, Credentials{AuthToken: "t"})
		var upErr *UploadError
		require.ErrorAs(t, err, &upErr)
		assert.Equal(t, 7, upErr.Code)
		assert.Equal(t, "quota exceeded", upErr.Reason())
		assert.Equal(t, "a.png", upErr.File)
	})

	t.Run("Should wrap transport errors", func(t *testing.T) {
		cause := errors.New("connection reset")
		backend := &fakeBackend{err: cause}
		_, err := NewUploader(backend, Options{}).Upload(context.Background(), png, Credentials{AuthToken: "t"})
		assert.ErrorIs(t, err, cause)
	})

	t.Run("Should honour the configured timeout", func(t *testing.T) {
		backend := &fakeBackend{block: true}
		_, err := NewUploader(backend, Options{Timeout: 20 * time.Millisecond}).
			Upload(context.Background(), png, Credentials{AuthToken: "t"})
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}

func TestHTTPBackend(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/assets/upload":
			if r.Header.Get("Authorization") != "Bearer tok" {
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"resultCode":401}`))
				return
			}
			var body authenticatedRequest
			_ = json.NewDecoder(r.Body).Decode(&body)
			_ = json.NewEncoder(w).Encode(Result{Asset: Asset{AssetURL: "https://cdn/" + body.FileName, AssetID: "a1", MimeType: "image/png"}})
		case "/assets/upload-unlogged":
			var body unloggedRequest
			_ = json.NewDecoder(r.Body).Decode(&body)
			if body.OwnerID == "" || body.SessionID == "" {
				_ = json.NewEncoder(w).Encode(Result{ResultCode: 3, ResultMessage: "session required"})
				return
			}
			_ = json.NewEncoder(w).Encode(Result{Asset: Asset{AssetURL: "https://cdn/anon", AssetID: "a2"}})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	backend := NewHTTPBackend(HTTPConfig{BaseURL: srv.URL})
	up := NewUploader(backend, Options{})

	asset, err := up.Upload(context.Background(), png, Credentials{AuthToken: "tok"})
	require.NoError(t, err)
	assert.Equal(t, "https://cdn/a.png", asset.AssetURL)

	asset, err = up.Upload(context.Background(), png, Credentials{SessionID: "s", OwnerID: "o"})
	require.NoError(t, err)
	assert.Equal(t, "a2", asset.AssetID)

	_, err = up.Upload(context.Background(), png, Credentials{AuthToken: "bad"})
	require.Error(t, err)
	assert.Equal(t, int32(3), hits.Load(), "no retries expected")
}

func TestHTTPBackendRateLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"resultCode":0,"asset":{"assetID":"x"}}`))
	}))
	defer srv.Close()

	backend := NewHTTPBackend(HTTPConfig{BaseURL: srv.URL, RatePerSecond: 20})
	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := backend.UploadAuthenticated(context.Background(), "a.png", "data:", "tok")
		require.NoError(t, err)
	}
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}
