package domain

import "time"

// Severity grades an advisory check finding.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// CheckConfig defines an advisory underwriting check.
// Expression is CEL and must evaluate to a bool; true raises the finding.
type CheckConfig struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Expression  string    `json:"expression"`
	Severity    Severity  `json:"severity"`
	Message     string    `json:"message"`
	Enabled     bool      `json:"enabled"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// CheckResult is the outcome of one check against one application.
type CheckResult struct {
	CheckID   string   `json:"checkId"`
	Name      string   `json:"name"`
	Severity  Severity `json:"severity"`
	Triggered bool     `json:"triggered"`
	Message   string   `json:"message,omitempty"`
	Error     string   `json:"error,omitempty"`
}
