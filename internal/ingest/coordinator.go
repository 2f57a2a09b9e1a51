package ingest

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"attachflow/internal/logger"
	"attachflow/internal/models"
	"attachflow/internal/upload"
	"attachflow/internal/worker"
)

const (
	defaultHookTimeout = 10 * time.Second
	extractParallelism = 4
	sniffLen           = 512
)

var errNoUploader = errors.New("no image uploader configured")

type DocumentExtractor interface {
	Extract(ctx context.Context, f *models.File) (string, error)
}

type ImageUploader interface {
	Upload(ctx context.Context, img upload.Image, creds upload.Credentials) (upload.Asset, error)
}

// Scheduler runs upload jobs. *worker.Dispatcher satisfies it.
type Scheduler interface {
	Submit(job worker.Job) error
}

type Options struct {
	SessionID      string
	Limits         Limits
	ExtendedImages bool
	MediaAccepted  bool

	Extractor DocumentExtractor
	Uploader  ImageUploader
	// Scheduler is optional; without one every upload gets its own goroutine.
	Scheduler Scheduler
	Hooks     []PostCommitHook
	Alerts    AlertSink
	// OnChange is called with the coordinator lock held after every committed
	// change. It must not call back into the coordinator.
	OnChange    func(models.Draft)
	HookTimeout time.Duration
	Logger      logger.Logger

	Now   func() time.Time
	NewID func() string
}

// Coordinator owns one conversation's pending attachment list.
type Coordinator struct {
	sessionID   string
	classifier  Classifier
	gate        Gate
	extractor   DocumentExtractor
	uploader    ImageUploader
	scheduler   Scheduler
	hooks       []PostCommitHook
	alerts      AlertSink
	onChange    func(models.Draft)
	hookTimeout time.Duration
	log         logger.Logger
	now         func() time.Time
	newID       func() string

	// ingestMu serializes batches; mu guards the list itself.
	ingestMu      sync.Mutex
	mu            sync.Mutex
	list          []models.PendingAttachment
	mediaAccepted bool
	detached      bool

	drag  DragTracker
	tasks sync.WaitGroup
}

type imageJob struct {
	id  string
	img upload.Image
}

type docResult struct {
	attachment models.PendingAttachment
	warning    *models.Alert
	err        error
}

func NewCoordinator(opts Options) *Coordinator {
	log := opts.Logger
	if log == nil {
		log = logger.Discard()
	}
	c := &Coordinator{
		sessionID:     opts.SessionID,
		classifier:    NewClassifier(opts.ExtendedImages),
		gate:          NewGate(opts.Limits),
		extractor:     opts.Extractor,
		uploader:      opts.Uploader,
		scheduler:     opts.Scheduler,
		hooks:         opts.Hooks,
		alerts:        opts.Alerts,
		onChange:      opts.OnChange,
		hookTimeout:   opts.HookTimeout,
		log:           log.With("component", "ingest", "session", opts.SessionID),
		now:           opts.Now,
		newID:         opts.NewID,
		mediaAccepted: opts.MediaAccepted,
	}
	if c.hookTimeout <= 0 {
		c.hookTimeout = defaultHookTimeout
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.newID == nil {
		c.newID = uuid.NewString
	}
	return c
}

// Result is what one Ingest call admitted and reported.
type Result struct {
	Added  []models.PendingAttachment `json:"added"`
	Alerts []models.Alert             `json:"alerts"`
}

// Ingest classifies, validates and admits a batch. Documents are extracted
// before it returns; images are inserted as pending placeholders and uploaded
// in the background.
func (c *Coordinator) Ingest(ctx context.Context, req IngestRequest) Result {
	c.ingestMu.Lock()
	defer c.ingestMu.Unlock()

	var res Result
	report := func(a models.Alert) {
		res.Alerts = append(res.Alerts, a)
		c.report(a)
	}

	var (
		images, docs []*models.File
		candidates   []string
	)
	for _, f := range req.Files {
		if f == nil {
			continue
		}
		kind, err := c.classifier.Classify(f.Name, f.MimeType)
		if err != nil {
			report(alertFor(f.Name, err))
			continue
		}
		candidates = append(candidates, f.Name)
		if kind == models.KindImage {
			images = append(images, f)
		} else {
			docs = append(docs, f)
		}
	}
	if len(images)+len(docs) == 0 {
		return res
	}

	if err := c.gate.CheckCount(c.count(), len(images)+len(docs)); err != nil {
		report(batchAlert(err, candidates))
		return res
	}

	var (
		placeholders []models.PendingAttachment
		jobs         []imageJob
	)
	if len(images) > 0 {
		if !c.MediaAccepted() {
			report(alertFor("", ErrMediaNotAccepted))
		} else {
			placeholders, jobs = c.prepareImages(images, report)
		}
	}

	results := c.extractDocuments(ctx, docs)
	newDocs := make([]models.PendingAttachment, 0, len(results))
	var warnings []models.Alert
	for i, r := range results {
		if r.err != nil {
			report(alertFor(docs[i].Name, r.err))
			continue
		}
		newDocs = append(newDocs, r.attachment)
		if r.warning != nil {
			warnings = append(warnings, *r.warning)
		}
	}

	admitted, placed, payloadErr := c.commit(newDocs, placeholders)
	if payloadErr != nil {
		// truncation warnings are moot once the documents are vetoed
		report(batchAlert(payloadErr, attachmentNames(newDocs)))
	} else {
		for _, w := range warnings {
			report(w)
		}
	}
	res.Added = append(res.Added, admitted...)
	res.Added = append(res.Added, placed...)

	if len(placed) > 0 {
		for _, job := range jobs {
			c.startUpload(ctx, req.Credentials, job)
		}
	}
	c.log.Debug("batch ingested", "source", string(req.Source), "files", len(req.Files),
		"documents", len(admitted), "images", len(placed), "alerts", len(res.Alerts))
	return res
}

func (c *Coordinator) prepareImages(images []*models.File, report func(models.Alert)) ([]models.PendingAttachment, []imageJob) {
	placeholders := make([]models.PendingAttachment, 0, len(images))
	jobs := make([]imageJob, 0, len(images))
	for _, f := range images {
		if err := c.gate.CheckFile(f); err != nil {
			report(alertFor(f.Name, err))
			continue
		}
		data, err := models.ReadAll(f, c.gate.Limits().MaxFileBytes)
		if err != nil {
			report(alertFor(f.Name, &FileError{Name: f.Name, Err: err}))
			continue
		}
		mimeType := c.classifier.resolveMIME(f, models.KindImage, head(data))
		p := models.PendingAttachment{
			ID:        c.newID(),
			Name:      f.Name,
			Kind:      models.KindImage,
			MimeType:  mimeType,
			Status:    models.StatusPending,
			Size:      int64(len(data)),
			CreatedAt: c.now(),
		}
		placeholders = append(placeholders, p)
		jobs = append(jobs, imageJob{id: p.ID, img: upload.Image{Name: f.Name, MimeType: mimeType, Data: data}})
	}
	return placeholders, jobs
}

// extractDocuments runs every document independently; results keep batch order.
func (c *Coordinator) extractDocuments(ctx context.Context, docs []*models.File) []docResult {
	results := make([]docResult, len(docs))
	if len(docs) == 0 {
		return results
	}
	var g errgroup.Group
	g.SetLimit(extractParallelism)
	for i, f := range docs {
		g.Go(func() error {
			results[i] = c.extractOne(ctx, f)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (c *Coordinator) extractOne(ctx context.Context, f *models.File) docResult {
	if err := c.gate.CheckFile(f); err != nil {
		return docResult{err: err}
	}
	if c.extractor == nil {
		return docResult{err: errors.New("no document extractor configured")}
	}
	data, err := models.ReadAll(f, c.gate.Limits().MaxFileBytes)
	if err != nil {
		return docResult{err: &FileError{Name: f.Name, Err: err}}
	}
	text, err := c.extractor.Extract(ctx, models.BytesFile(f.Name, f.MimeType, data, f.LastModified))
	if err != nil {
		return docResult{err: err}
	}
	text, warning := c.gate.Truncate(f.Name, text)
	return docResult{
		attachment: models.PendingAttachment{
			ID:        c.newID(),
			Name:      f.Name,
			Kind:      models.KindDocument,
			Content:   text,
			MimeType:  c.classifier.resolveMIME(f, models.KindDocument, head(data)),
			Status:    models.StatusReady,
			Size:      int64(len(data)),
			CreatedAt: c.now(),
		},
		warning: warning,
	}
}

// commit merges the batch as one replacement: existing documents, new
// documents, existing images, new images. The payload budget is checked
// against the list as it is at commit time; on breach no new document is
// admitted while images still go in. A detached coordinator admits nothing.
func (c *Coordinator) commit(newDocs, newImages []models.PendingAttachment) (docs, images []models.PendingAttachment, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.detached {
		return nil, nil, nil
	}

	var payloadErr error
	if len(newDocs) > 0 {
		if err := c.gate.CheckPayload(c.list, newDocs); err != nil {
			payloadErr = err
			newDocs = nil
		}
	}
	if len(newDocs) == 0 && len(newImages) == 0 {
		return nil, nil, payloadErr
	}

	merged := make([]models.PendingAttachment, 0, len(c.list)+len(newDocs)+len(newImages))
	for _, a := range c.list {
		if a.Kind == models.KindDocument {
			merged = append(merged, a)
		}
	}
	merged = append(merged, newDocs...)
	for _, a := range c.list {
		if a.Kind == models.KindImage {
			merged = append(merged, a)
		}
	}
	merged = append(merged, newImages...)
	c.setLocked(merged)
	return newDocs, newImages, payloadErr
}

func (c *Coordinator) startUpload(ctx context.Context, creds upload.Credentials, job imageJob) {
	// uploads outlive the request that started them
	uctx := context.WithoutCancel(ctx)
	c.tasks.Add(1)
	run := func() {
		defer c.tasks.Done()
		c.runUpload(uctx, creds, job)
	}
	if c.scheduler == nil {
		go run()
		return
	}
	err := c.scheduler.Submit(worker.Job{Key: c.sessionID, Name: "upload " + job.img.Name, Run: run})
	if err != nil {
		c.tasks.Done()
		c.failUpload(job, &upload.UploadError{File: job.img.Name, Cause: err})
	}
}

func (c *Coordinator) runUpload(ctx context.Context, creds upload.Credentials, job imageJob) {
	started := c.update(job.id, func(a *models.PendingAttachment) bool {
		if a.Status != models.StatusPending {
			return false
		}
		a.Status = models.StatusUploading
		return true
	})
	if !started {
		// removed before it got a worker
		return
	}
	if c.uploader == nil {
		c.failUpload(job, &upload.UploadError{File: job.img.Name, Cause: errNoUploader})
		return
	}
	asset, err := c.uploader.Upload(ctx, job.img, creds)
	if err != nil {
		c.failUpload(job, err)
		return
	}

	var ready models.PendingAttachment
	ok := c.update(job.id, func(a *models.PendingAttachment) bool {
		if a.Status != models.StatusUploading {
			return false
		}
		a.Status = models.StatusReady
		a.RemoteURL = asset.AssetURL
		a.RemoteID = asset.AssetID
		a.Content = asset.AssetURL
		if mt := normalizeMIME(asset.MimeType); mt != "" {
			a.MimeType = mt
		}
		ready = *a
		return true
	})
	if !ok {
		c.log.Info("upload finished after the attachment was removed", "file", job.img.Name, "asset_id", asset.AssetID)
		return
	}
	c.fireHooks("ready", ready, func(ctx context.Context, h PostCommitHook) error {
		return h.AttachmentReady(ctx, c.sessionID, ready)
	})
}

func (c *Coordinator) failUpload(job imageJob, err error) {
	alert := alertFor(job.img.Name, err)
	ok := c.update(job.id, func(a *models.PendingAttachment) bool {
		if a.Settled() {
			return false
		}
		a.Status = models.StatusFailed
		a.Error = alert.Message
		return true
	})
	c.log.Warn("image upload failed", "file", job.img.Name, "err", err)
	if ok {
		c.report(alert)
	}
}

// update patches one entry against the latest list. fn returns false to leave it alone.
func (c *Coordinator) update(id string, fn func(*models.PendingAttachment) bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.list {
		if c.list[i].ID != id {
			continue
		}
		next := make([]models.PendingAttachment, len(c.list))
		copy(next, c.list)
		if !fn(&next[i]) {
			return false
		}
		c.setLocked(next)
		return true
	}
	return false
}

// RemoveFile drops an attachment. Removing an uploaded image fires the
// removed hooks so the remote side can deselect it.
func (c *Coordinator) RemoveFile(id string) bool {
	c.mu.Lock()
	var removed *models.PendingAttachment
	next := make([]models.PendingAttachment, 0, len(c.list))
	for _, a := range c.list {
		if a.ID == id && removed == nil {
			removed = &a
			continue
		}
		next = append(next, a)
	}
	if removed == nil {
		c.mu.Unlock()
		return false
	}
	c.setLocked(next)
	c.mu.Unlock()

	if removed.Kind == models.KindImage && removed.RemoteID != "" {
		gone := *removed
		c.fireHooks("removed", gone, func(ctx context.Context, h PostCommitHook) error {
			return h.AttachmentRemoved(ctx, c.sessionID, gone)
		})
	}
	return true
}

// Files returns a snapshot of the pending list.
func (c *Coordinator) Files() []models.PendingAttachment {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.PendingAttachment, len(c.list))
	copy(out, c.list)
	return out
}

// Take hands the list over to the message being sent and clears it.
func (c *Coordinator) Take() []models.PendingAttachment {
	c.ingestMu.Lock()
	defer c.ingestMu.Unlock()
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.list
	c.setLocked(nil)
	if out == nil {
		out = []models.PendingAttachment{}
	}
	return out
}

// Restore replaces the list with a persisted one. Images that never settled
// cannot resume and are marked failed.
func (c *Coordinator) Restore(draft models.Draft) {
	c.ingestMu.Lock()
	defer c.ingestMu.Unlock()

	list := make([]models.PendingAttachment, 0, len(draft.Attachments))
	for _, a := range draft.Attachments {
		if a.Kind == models.KindImage && !a.Settled() {
			a.Status = models.StatusFailed
			a.Error = ErrUploadInterrupted.Error()
		}
		list = append(list, a)
	}
	c.mu.Lock()
	c.mediaAccepted = draft.MediaAccepted
	c.setLocked(list)
	c.mu.Unlock()
}

func (c *Coordinator) SetMediaAccepted(accepted bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mediaAccepted == accepted {
		return
	}
	c.mediaAccepted = accepted
	c.notifyLocked()
}

func (c *Coordinator) MediaAccepted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mediaAccepted
}

// Drag returns the drop zone tracker of this conversation.
func (c *Coordinator) Drag() *DragTracker { return &c.drag }

// Wait blocks until every in-flight upload and hook has finished.
func (c *Coordinator) Wait() { c.tasks.Wait() }

// WaitContext is Wait bounded by ctx. It returns ctx.Err() when the
// uploads are still running at the deadline.
func (c *Coordinator) WaitContext(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		c.tasks.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// detach cuts the coordinator off its session: the list is emptied, change
// notifications stop and later batches admit nothing. Uploads still in
// flight complete as no-ops.
func (c *Coordinator) detach() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.detached = true
	c.list = nil
	c.onChange = nil
}

func (c *Coordinator) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.list)
}

func (c *Coordinator) setLocked(list []models.PendingAttachment) {
	c.list = list
	c.notifyLocked()
}

func (c *Coordinator) notifyLocked() {
	if c.onChange == nil {
		return
	}
	snapshot := make([]models.PendingAttachment, len(c.list))
	copy(snapshot, c.list)
	c.onChange(models.Draft{
		SessionID:     c.sessionID,
		Attachments:   snapshot,
		MediaAccepted: c.mediaAccepted,
		UpdatedAt:     c.now(),
	})
}

func (c *Coordinator) report(a models.Alert) {
	if c.alerts != nil {
		c.alerts.Report(a)
	}
}

func (c *Coordinator) fireHooks(event string, a models.PendingAttachment, call func(context.Context, PostCommitHook) error) {
	for _, h := range c.hooks {
		c.tasks.Add(1)
		go func(h PostCommitHook) {
			defer c.tasks.Done()
			ctx, cancel := context.WithTimeout(context.Background(), c.hookTimeout)
			defer cancel()
			if err := call(ctx, h); err != nil {
				c.log.Warn("post-commit hook failed", "event", event, "attachment", a.ID, "file", a.Name, "err", err)
			}
		}(h)
	}
}

func head(data []byte) []byte {
	if len(data) > sniffLen {
		return data[:sniffLen]
	}
	return data
}
