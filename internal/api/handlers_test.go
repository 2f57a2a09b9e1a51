package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"

	"github.com/gin-gonic/gin"

	"attachflow/internal/auth"
	"attachflow/internal/drafts"
	"attachflow/internal/extract"
	"attachflow/internal/ingest"
	"attachflow/internal/models"
	"attachflow/internal/upload"
)

var authHeader = map[string]string{"Authorization": "Bearer test-token"}

type uploaderFunc func(ctx context.Context, img upload.Image, creds upload.Credentials) (upload.Asset, error)

func (fn uploaderFunc) Upload(ctx context.Context, img upload.Image, creds upload.Credentials) (upload.Asset, error) {
	return fn(ctx, img, creds)
}

func okUpload(_ context.Context, img upload.Image, creds upload.Credentials) (upload.Asset, error) {
	if creds.AuthToken != "test-token" {
		return upload.Asset{}, errors.New("unexpected token " + creds.AuthToken)
	}
	return upload.Asset{AssetURL: "https://cdn.test/" + img.Name, AssetID: "asset-" + img.Name, MimeType: img.MimeType}, nil
}

func newTestServer(t *testing.T, uploader ingest.ImageUploader) (*gin.Engine, *ingest.Manager) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	manager := ingest.NewManager(ingest.ManagerOptions{
		Template: ingest.Options{
			Extractor: extract.NewExtractor(extract.NewEngines(), nil),
			Uploader:  uploader,
		},
		MediaAccepted: true,
		Store:         drafts.NewMemory(),
	})
	t.Cleanup(func() { _ = manager.Close(context.Background()) })

	handler := NewHandler(manager, auth.NewService(), nil)
	router := gin.New()
	handler.RegisterRoutes(router)
	return router, manager
}

type part struct {
	field        string
	name         string
	contentType  string
	data         string
	lastModified string
}

func doMultipart(t *testing.T, router *gin.Engine, path, source string, parts []part, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if source != "" {
		if err := w.WriteField("source", source); err != nil {
			t.Fatalf("write source: %v", err)
		}
	}
	for _, p := range parts {
		h := textproto.MIMEHeader{}
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, p.field, p.name))
		if p.contentType != "" {
			h.Set("Content-Type", p.contentType)
		}
		fw, err := w.CreatePart(h)
		if err != nil {
			t.Fatalf("create part: %v", err)
		}
		if _, err := fw.Write([]byte(p.data)); err != nil {
			t.Fatalf("write part: %v", err)
		}
		if p.lastModified != "" {
			if err := w.WriteField(p.field+"_last_modified", p.lastModified); err != nil {
				t.Fatalf("write last modified: %v", err)
			}
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func doJSONRequest(t *testing.T, router *gin.Engine, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeJSON(t *testing.T, data []byte, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("decode json: %v", err)
	}
}

func assertStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("unexpected status %d, body: %s", rec.Code, rec.Body.String())
	}
}

type ingestBody struct {
	Added       []models.PendingAttachment `json:"added"`
	Alerts      []models.Alert             `json:"alerts"`
	Attachments []models.PendingAttachment `json:"attachments"`
}

type listBody struct {
	Attachments   []models.PendingAttachment `json:"attachments"`
	MediaAccepted bool                       `json:"media_accepted"`
	DragActive    bool                       `json:"drag_active"`
}

func waitUploads(t *testing.T, manager *ingest.Manager, sessionID string) {
	t.Helper()
	coord, ok := manager.Lookup(sessionID)
	if !ok {
		t.Fatalf("session %s not loaded", sessionID)
	}
	coord.Wait()
}

func TestAttachmentLifecycle(t *testing.T) {
	router, manager := newTestServer(t, uploaderFunc(okUpload))
	base := "/api/sessions/s1"

	resp := doMultipart(t, router, base+"/attachments", "chooser", []part{
		{field: "files", name: "notes.txt", contentType: "text/plain", data: "hello"},
		{field: "files", name: "photo.png", contentType: "image/png", data: "\x89PNG\r\n\x1a\nrest"},
		{field: "files", name: "letter.docx", data: "PK"},
	}, authHeader)
	assertStatus(t, resp, http.StatusOK)
	var body ingestBody
	decodeJSON(t, resp.Body.Bytes(), &body)
	if len(body.Added) != 2 || body.Added[0].Name != "notes.txt" || body.Added[1].Name != "photo.png" {
		t.Fatalf("unexpected added list: %#v", body.Added)
	}
	if body.Added[0].Content != "hello" {
		t.Fatalf("document content not extracted: %q", body.Added[0].Content)
	}
	if len(body.Alerts) != 1 || body.Alerts[0].Code != ingest.CodeUnsupportedType {
		t.Fatalf("expected one unsupported_type alert, got %#v", body.Alerts)
	}
	waitUploads(t, manager, "s1")

	resp = doJSONRequest(t, router, http.MethodGet, base+"/attachments", nil, authHeader)
	assertStatus(t, resp, http.StatusOK)
	var list listBody
	decodeJSON(t, resp.Body.Bytes(), &list)
	if len(list.Attachments) != 2 || !list.MediaAccepted {
		t.Fatalf("unexpected list: %#v", list)
	}
	img := list.Attachments[1]
	if img.Status != models.StatusReady || img.RemoteURL != "https://cdn.test/photo.png" {
		t.Fatalf("image not uploaded: %#v", img)
	}

	resp = doJSONRequest(t, router, http.MethodDelete, base+"/attachments/"+img.ID, nil, authHeader)
	assertStatus(t, resp, http.StatusNoContent)
	resp = doJSONRequest(t, router, http.MethodDelete, base+"/attachments/"+img.ID, nil, authHeader)
	assertStatus(t, resp, http.StatusNotFound)

	resp = doJSONRequest(t, router, http.MethodPost, base+"/attachments/take", nil, authHeader)
	assertStatus(t, resp, http.StatusOK)
	var taken struct {
		Attachments []models.PendingAttachment `json:"attachments"`
	}
	decodeJSON(t, resp.Body.Bytes(), &taken)
	if len(taken.Attachments) != 1 || taken.Attachments[0].Name != "notes.txt" {
		t.Fatalf("unexpected take result: %#v", taken.Attachments)
	}

	resp = doJSONRequest(t, router, http.MethodGet, base+"/attachments", nil, authHeader)
	decodeJSON(t, resp.Body.Bytes(), &list)
	if len(list.Attachments) != 0 {
		t.Fatalf("list should be empty after take, got %d", len(list.Attachments))
	}
}

func TestPasteFallsBackToItemsAndDedupes(t *testing.T) {
	router, manager := newTestServer(t, uploaderFunc(okUpload))
	resp := doMultipart(t, router, "/api/sessions/s1/attachments", "paste", []part{
		{field: "items", name: "image", contentType: "image/png", data: "\x89PNG\r\n\x1a\nclip", lastModified: "1700000000000"},
		{field: "items", name: "image", contentType: "image/png", data: "\x89PNG\r\n\x1a\nclip", lastModified: "1700000000000"},
	}, authHeader)
	assertStatus(t, resp, http.StatusOK)
	var body ingestBody
	decodeJSON(t, resp.Body.Bytes(), &body)
	if len(body.Added) != 1 || body.Added[0].Kind != models.KindImage {
		t.Fatalf("expected one pasted image, got %#v", body.Added)
	}
	if body.Added[0].MimeType != "image/png" {
		t.Fatalf("unexpected mime type %q", body.Added[0].MimeType)
	}
	waitUploads(t, manager, "s1")
}

func TestIngestRejectsBadRequests(t *testing.T) {
	router, _ := newTestServer(t, uploaderFunc(okUpload))

	resp := doMultipart(t, router, "/api/sessions/s1/attachments", "clipboard", nil, authHeader)
	assertStatus(t, resp, http.StatusBadRequest)

	resp = doJSONRequest(t, router, http.MethodPost, "/api/sessions/s1/attachments", map[string]string{}, authHeader)
	assertStatus(t, resp, http.StatusBadRequest)

	resp = doMultipart(t, router, "/api/sessions/s1/attachments", "chooser", []part{
		{field: "files", name: "a.txt", data: "a", lastModified: "yesterday"},
	}, authHeader)
	assertStatus(t, resp, http.StatusBadRequest)

	resp = doMultipart(t, router, "/api/sessions/s1/attachments", "chooser", nil, nil)
	assertStatus(t, resp, http.StatusUnauthorized)
}

func TestMediaToggle(t *testing.T) {
	router, _ := newTestServer(t, uploaderFunc(okUpload))
	base := "/api/sessions/s1"

	resp := doJSONRequest(t, router, http.MethodPut, base+"/media", map[string]any{"accepted": false}, authHeader)
	assertStatus(t, resp, http.StatusOK)

	resp = doMultipart(t, router, base+"/attachments", "drop", []part{
		{field: "files", name: "photo.jpg", contentType: "image/jpeg", data: "\xff\xd8\xff"},
	}, authHeader)
	assertStatus(t, resp, http.StatusOK)
	var body ingestBody
	decodeJSON(t, resp.Body.Bytes(), &body)
	if len(body.Added) != 0 || len(body.Alerts) != 1 || body.Alerts[0].Code != ingest.CodeMediaNotAccepted {
		t.Fatalf("images must be refused while media is off: %#v", body)
	}

	resp = doJSONRequest(t, router, http.MethodPut, base+"/media", map[string]any{}, authHeader)
	assertStatus(t, resp, http.StatusBadRequest)
}

func TestDragEvents(t *testing.T) {
	router, _ := newTestServer(t, uploaderFunc(okUpload))
	path := "/api/sessions/s1/drag"
	send := func(event string) bool {
		t.Helper()
		resp := doJSONRequest(t, router, http.MethodPost, path, map[string]string{"event": event}, authHeader)
		assertStatus(t, resp, http.StatusOK)
		var body struct {
			Active bool `json:"active"`
		}
		decodeJSON(t, resp.Body.Bytes(), &body)
		return body.Active
	}
	if !send("enter") || !send("enter") || !send("leave") {
		t.Fatalf("zone should stay active while nested")
	}
	if send("leave") {
		t.Fatalf("zone should be inactive after matching leaves")
	}
	resp := doJSONRequest(t, router, http.MethodPost, path, map[string]string{"event": "hover"}, authHeader)
	assertStatus(t, resp, http.StatusBadRequest)
}

func TestBackgroundUploadAlerts(t *testing.T) {
	router, manager := newTestServer(t, uploaderFunc(func(context.Context, upload.Image, upload.Credentials) (upload.Asset, error) {
		return upload.Asset{}, &upload.UploadError{File: "photo.png", Code: 500, Message: "storage offline"}
	}))
	resp := doMultipart(t, router, "/api/sessions/s1/attachments", "chooser", []part{
		{field: "files", name: "photo.png", contentType: "image/png", data: "\x89PNG\r\n\x1a\n"},
	}, authHeader)
	assertStatus(t, resp, http.StatusOK)
	waitUploads(t, manager, "s1")

	resp = doJSONRequest(t, router, http.MethodGet, "/api/sessions/s1/alerts", nil, authHeader)
	assertStatus(t, resp, http.StatusOK)
	var body struct {
		Alerts []models.Alert `json:"alerts"`
	}
	decodeJSON(t, resp.Body.Bytes(), &body)
	if len(body.Alerts) != 1 || body.Alerts[0].Code != ingest.CodeUploadFailed {
		t.Fatalf("expected an upload_failed alert, got %#v", body.Alerts)
	}
}

func TestPurgeSession(t *testing.T) {
	router, _ := newTestServer(t, uploaderFunc(okUpload))
	base := "/api/sessions/s1"
	resp := doMultipart(t, router, base+"/attachments", "chooser", []part{
		{field: "files", name: "a.md", data: "# a"},
	}, authHeader)
	assertStatus(t, resp, http.StatusOK)

	resp = doJSONRequest(t, router, http.MethodDelete, base, nil, authHeader)
	assertStatus(t, resp, http.StatusNoContent)

	resp = doJSONRequest(t, router, http.MethodGet, base+"/attachments", nil, authHeader)
	var list listBody
	decodeJSON(t, resp.Body.Bytes(), &list)
	if len(list.Attachments) != 0 {
		t.Fatalf("purged session should start empty, got %d", len(list.Attachments))
	}
}
