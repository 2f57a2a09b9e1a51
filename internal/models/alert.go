package models

type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// Alert is a user-visible failure or notice raised while ingesting files.
type Alert struct {
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
	Code     string   `json:"code"`
	File     string   `json:"file,omitempty"`
}
