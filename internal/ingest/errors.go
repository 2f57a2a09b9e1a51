package ingest

import (
	"errors"
	"fmt"
	"strings"

	"attachflow/internal/extract"
	"attachflow/internal/models"
	"attachflow/internal/upload"
)

var (
	ErrUnsupportedType    = errors.New("unsupported file type")
	ErrFileTooLarge       = models.ErrFileTooLarge
	ErrTooManyAttachments = errors.New("too many attachments")
	ErrPayloadTooLarge    = errors.New("documents exceed the total content budget")
	ErrMediaNotAccepted   = errors.New("images are not accepted in this conversation")
	ErrUploadInterrupted  = errors.New("upload interrupted")
)

// FileError ties a per-file failure to the offending file name.
type FileError struct {
	Name string
	Err  error
}

func (e *FileError) Error() string {
	return fmt.Sprintf("%s: %v", e.Name, e.Err)
}

func (e *FileError) Unwrap() error { return e.Err }

// Alert codes, stable for clients.
const (
	CodeUnsupportedType    = "unsupported_type"
	CodeFileTooLarge       = "file_too_large"
	CodeTooManyAttachments = "too_many_attachments"
	CodePayloadTooLarge    = "payload_too_large"
	CodeExtractionFailed   = "extraction_failed"
	CodeUploadFailed       = "upload_failed"
	CodeMediaNotAccepted   = "media_not_accepted"
	CodeTruncated          = "content_truncated"
	CodeInternal           = "internal"
)

// alertFor maps a failure onto the alert shown to the user.
func alertFor(file string, err error) models.Alert {
	a := models.Alert{
		Severity: models.SeverityError,
		File:     file,
		Message:  describe(file, err),
	}
	var extErr *extract.ExtractionError
	var upErr *upload.UploadError
	switch {
	case errors.Is(err, ErrUnsupportedType):
		a.Code = CodeUnsupportedType
	case errors.Is(err, ErrFileTooLarge):
		a.Code = CodeFileTooLarge
	case errors.Is(err, ErrTooManyAttachments):
		a.Code = CodeTooManyAttachments
	case errors.Is(err, ErrPayloadTooLarge):
		a.Code = CodePayloadTooLarge
	case errors.Is(err, ErrMediaNotAccepted):
		a.Code = CodeMediaNotAccepted
		a.Severity = models.SeverityInfo
	case errors.As(err, &extErr):
		a.Code = CodeExtractionFailed
		a.Message = fmt.Sprintf("could not read %s: %v", file, extErr.Cause)
	case errors.As(err, &upErr):
		a.Code = CodeUploadFailed
		a.Message = fmt.Sprintf("could not upload %s: %s", file, upErr.Reason())
	default:
		a.Code = CodeInternal
	}
	return a
}

func describe(file string, err error) string {
	var fe *FileError
	if errors.As(err, &fe) || file == "" {
		return err.Error()
	}
	return fmt.Sprintf("%s: %v", file, err)
}

// batchAlert is alertFor for rejections that hit several files at once; the
// message lists every rejected file.
func batchAlert(err error, names []string) models.Alert {
	a := alertFor("", err)
	if len(names) > 0 {
		a.Message = fmt.Sprintf("%s (rejected: %s)", a.Message, strings.Join(names, ", "))
	}
	return a
}

func attachmentNames(list []models.PendingAttachment) []string {
	out := make([]string, 0, len(list))
	for _, a := range list {
		out = append(out, a.Name)
	}
	return out
}
