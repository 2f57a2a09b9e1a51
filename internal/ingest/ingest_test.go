package ingest

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"attachflow/internal/models"
)

func TestClassify(t *testing.T) {
	base := NewClassifier(false)
	extended := NewClassifier(true)

	cases := []struct {
		name     string
		mime     string
		c        Classifier
		want     models.Kind
		rejected bool
	}{
		{name: "report.pdf", c: base, want: models.KindDocument},
		{name: "Notes.MD", c: base, want: models.KindDocument},
		{name: "sheet.xlsx", mime: "application/octet-stream", c: base, want: models.KindDocument},
		{name: "photo.JPG", c: base, want: models.KindImage},
		{name: "photo.png", mime: "text/plain", c: base, want: models.KindImage},
		{name: "anim.gif", c: base, rejected: true},
		{name: "anim.gif", c: extended, want: models.KindImage},
		{name: "icon.svg", c: extended, want: models.KindImage},
		{name: "image", mime: "image/png", c: base, want: models.KindImage},
		{name: "image", mime: "IMAGE/PNG; charset=binary", c: base, want: models.KindImage},
		{name: "photo.bmp", mime: "image/bmp", c: base, rejected: true},
		{name: "letter.docx", c: base, rejected: true},
		{name: "blob", mime: "application/zip", c: base, rejected: true},
	}
	for _, tc := range cases {
		kind, err := tc.c.Classify(tc.name, tc.mime)
		if tc.rejected {
			require.ErrorIs(t, err, ErrUnsupportedType, tc.name)
			var fe *FileError
			require.ErrorAs(t, err, &fe)
			assert.Equal(t, tc.name, fe.Name)
			continue
		}
		require.NoError(t, err, tc.name)
		assert.Equal(t, tc.want, kind, tc.name)
	}
}

func TestResolveMIME(t *testing.T) {
	c := NewClassifier(false)
	pngHead := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

	t.Run("Should prefer the declared type", func(t *testing.T) {
		f := models.BytesFile("a.txt", "text/plain; charset=utf-8", nil, time.Time{})
		assert.Equal(t, "text/plain", c.resolveMIME(f, models.KindDocument, nil))
	})
	t.Run("Should fall back to the extension table", func(t *testing.T) {
		f := models.BytesFile("a.pdf", "", nil, time.Time{})
		assert.Equal(t, "application/pdf", c.resolveMIME(f, models.KindDocument, nil))
		f = models.BytesFile("a.jpeg", "application/octet-stream", nil, time.Time{})
		assert.Equal(t, "image/jpeg", c.resolveMIME(f, models.KindImage, nil))
	})
	t.Run("Should sniff extension-less content", func(t *testing.T) {
		f := models.BytesFile("image", "", pngHead, time.Time{})
		assert.Equal(t, "image/png", c.resolveMIME(f, models.KindImage, pngHead))
	})
	t.Run("Should end at octet-stream", func(t *testing.T) {
		f := models.BytesFile("image", "", nil, time.Time{})
		assert.Equal(t, octetStream, c.resolveMIME(f, models.KindImage, nil))
	})
}

func TestGate(t *testing.T) {
	g := NewGate(Limits{MaxAttachments: 3, MaxFileBytes: 10, MaxDocChars: 4, MaxTotalPayload: 20})

	t.Run("Should fill defaults for zero limits", func(t *testing.T) {
		assert.Equal(t, DefaultLimits(), NewGate(Limits{}).Limits())
	})

	t.Run("Should reject files above the size ceiling", func(t *testing.T) {
		require.NoError(t, g.CheckFile(models.BytesFile("ok.txt", "", make([]byte, 10), time.Time{})))
		err := g.CheckFile(models.BytesFile("big.txt", "", make([]byte, 11), time.Time{}))
		require.ErrorIs(t, err, ErrFileTooLarge)
		assert.Contains(t, err.Error(), "big.txt")
	})

	t.Run("Should count pending plus incoming", func(t *testing.T) {
		require.NoError(t, g.CheckCount(1, 2))
		require.ErrorIs(t, g.CheckCount(2, 2), ErrTooManyAttachments)
	})

	t.Run("Should truncate by characters and warn", func(t *testing.T) {
		text, alert := g.Truncate("short.txt", "abcd")
		assert.Equal(t, "abcd", text)
		assert.Nil(t, alert)

		text, alert = g.Truncate("long.txt", "日本語テキスト")
		assert.Equal(t, "日本語テ"+TruncationSuffix, text)
		require.NotNil(t, alert)
		assert.Equal(t, models.SeverityWarning, alert.Severity)
		assert.Equal(t, CodeTruncated, alert.Code)
		assert.Equal(t, "long.txt", alert.File)
	})

	t.Run("Should count only documents toward the payload", func(t *testing.T) {
		existing := []models.PendingAttachment{
			{Kind: models.KindDocument, Content: strings.Repeat("x", 12)},
			{Kind: models.KindImage, Content: strings.Repeat("u", 100)},
		}
		require.NoError(t, g.CheckPayload(existing, []models.PendingAttachment{
			{Kind: models.KindDocument, Content: strings.Repeat("y", 8)},
		}))
		require.ErrorIs(t, g.CheckPayload(existing, []models.PendingAttachment{
			{Kind: models.KindDocument, Content: strings.Repeat("y", 9)},
		}), ErrPayloadTooLarge)
	})
}

func TestFromPaste(t *testing.T) {
	stamp := time.Unix(1700000000, 0)
	a := models.BytesFile("a.png", "image/png", []byte("aaaa"), stamp)
	aCopy := models.BytesFile("a.png", "image/png", []byte("aaaa"), stamp)
	b := models.BytesFile("b.txt", "text/plain", []byte("b"), stamp)

	t.Run("Should prefer the direct file list", func(t *testing.T) {
		req := FromPaste(PasteEvent{
			Files: []*models.File{a},
			Items: []PasteItem{{Kind: "file", File: b}},
		})
		assert.Equal(t, SourcePaste, req.Source)
		assert.Equal(t, []*models.File{a}, req.Files)
	})

	t.Run("Should fall back to file items", func(t *testing.T) {
		req := FromPaste(PasteEvent{Items: []PasteItem{
			{Kind: "string", Type: "text/plain"},
			{Kind: "file", File: b},
			{Kind: "file"},
		}})
		assert.Equal(t, []*models.File{b}, req.Files)
	})

	t.Run("Should drop repeated files", func(t *testing.T) {
		req := FromPaste(PasteEvent{Files: []*models.File{a, aCopy, b}})
		assert.Equal(t, []*models.File{a, b}, req.Files)
	})

	t.Run("Should yield nothing for a text-only paste", func(t *testing.T) {
		req := FromPaste(PasteEvent{Items: []PasteItem{{Kind: "string", Type: "text/plain"}}})
		assert.Empty(t, req.Files)
	})
}

func TestDragTracker(t *testing.T) {
	var d DragTracker
	assert.True(t, d.Enter())
	assert.True(t, d.Enter())
	assert.True(t, d.Leave(), "leaving a nested element keeps the zone active")
	assert.False(t, d.Leave())
	assert.False(t, d.Leave(), "counter must not go negative")
	assert.True(t, d.Enter(), "one enter after excess leaves reactivates")

	d.Enter()
	f := models.BytesFile("a.txt", "", []byte("x"), time.Time{})
	req := d.Drop([]*models.File{f})
	assert.False(t, d.Active())
	assert.Equal(t, SourceDrop, req.Source)
	assert.Len(t, req.Files, 1)
}

func TestSourceValid(t *testing.T) {
	assert.True(t, SourceChooser.Valid())
	assert.True(t, SourcePaste.Valid())
	assert.False(t, Source("clipboard").Valid())
}
