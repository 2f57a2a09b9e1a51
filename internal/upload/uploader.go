package upload

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"attachflow/internal/logger"
)

var ErrMissingCredentials = errors.New("upload requires an auth token or a session and owner id")

// Credentials pick the upload path: a non-empty AuthToken selects the
// authenticated operation, otherwise SessionID and OwnerID are required.
type Credentials struct {
	AuthToken string
	SessionID string
	OwnerID   string
}

func (c Credentials) Authenticated() bool { return c.AuthToken != "" }

type Asset struct {
	AssetURL string `json:"assetURL"`
	AssetID  string `json:"assetID"`
	MimeType string `json:"mimeType"`
}

// Result is the backend reply. ResultCode 0 is success.
type Result struct {
	ResultCode    int    `json:"resultCode"`
	ResultMessage string `json:"resultMessage"`
	Asset         Asset  `json:"asset"`
}

// Backend is the remote asset store.
type Backend interface {
	UploadAuthenticated(ctx context.Context, filename, dataURL, token string) (*Result, error)
	UploadUnlogged(ctx context.Context, filename, dataURL, ownerID, sessionID string) (*Result, error)
}

// UploadError is any failure of one image upload.
type UploadError struct {
	File    string
	Code    int
	Message string
	Cause   error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("upload %s: %s", e.File, e.Reason())
}

// Reason is the user-facing part of the error.
func (e *UploadError) Reason() string {
	switch {
	case e.Message != "":
		return e.Message
	case e.Cause != nil:
		return e.Cause.Error()
	default:
		return fmt.Sprintf("backend returned code %d", e.Code)
	}
}

func (e *UploadError) Unwrap() error { return e.Cause }

// Image is a validated image ready for upload.
type Image struct {
	Name     string
	MimeType string
	Data     []byte
}

type Options struct {
	// Timeout bounds one upload. Zero means no timeout.
	Timeout time.Duration
	Logger  logger.Logger
}

type Uploader struct {
	backend Backend
	timeout time.Duration
	log     logger.Logger
}

func NewUploader(backend Backend, opts Options) *Uploader {
	log := opts.Logger
	if log == nil {
		log = logger.Discard()
	}
	return &Uploader{
		backend: backend,
		timeout: opts.Timeout,
		log:     log.With("component", "upload"),
	}
}

// Upload sends img as a data URL and returns the stored asset.
func (u *Uploader) Upload(ctx context.Context, img Image, creds Credentials) (Asset, error) {
	if u.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, u.timeout)
		defer cancel()
	}
	dataURL := DataURL(img.MimeType, img.Data)

	var (
		res *Result
		err error
	)
	switch {
	case creds.Authenticated():
		res, err = u.backend.UploadAuthenticated(ctx, img.Name, dataURL, creds.AuthToken)
	case creds.SessionID != "" && creds.OwnerID != "":
		res, err = u.backend.UploadUnlogged(ctx, img.Name, dataURL, creds.OwnerID, creds.SessionID)
	default:
		return Asset{}, &UploadError{File: img.Name, Cause: ErrMissingCredentials}
	}
	if err != nil {
		return Asset{}, &UploadError{File: img.Name, Cause: err}
	}
	if res == nil {
		return Asset{}, &UploadError{File: img.Name, Cause: errors.New("empty backend response")}
	}
	if res.ResultCode != 0 {
		return Asset{}, &UploadError{File: img.Name, Code: res.ResultCode, Message: res.ResultMessage}
	}
	asset := res.Asset
	if asset.MimeType == "" {
		asset.MimeType = img.MimeType
	}
	u.log.Debug("image uploaded", "file", img.Name, "asset_id", asset.AssetID, "authenticated", creds.Authenticated())
	return asset, nil
}

// DataURL encodes data as a base64 data URL.
func DataURL(mimeType string, data []byte) string {
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
}
