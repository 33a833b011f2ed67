package resilience

import (
	"time"

	"github.com/freightwise/logistics-cli/internal/model"
)

// DLQEntry is a report whose CRM persist failed and can be replayed later.
// Persistence failures never fail a run; they land here instead.
type DLQEntry struct {
	ID           string       `json:"id"`
	Report       model.Report `json:"report"`
	Error        string       `json:"error"`
	ErrorType    string       `json:"error_type"` // "transient" or "permanent"
	RetryCount   int          `json:"retry_count"`
	MaxRetries   int          `json:"max_retries"`
	NextRetryAt  time.Time    `json:"next_retry_at"`
	CreatedAt    time.Time    `json:"created_at"`
	LastFailedAt time.Time    `json:"last_failed_at"`
}

// DLQFilter specifies criteria for querying the dead letter queue.
type DLQFilter struct {
	ErrorType string `json:"error_type,omitempty"` // "transient", "permanent", or "" for all
	Limit     int    `json:"limit,omitempty"`
}

// CanRetry reports whether this entry has retry budget left.
func (e *DLQEntry) CanRetry() bool {
	return e.RetryCount < e.MaxRetries
}

// ClassifyError categorizes an error as "transient" or "permanent" for DLQ
// replay eligibility.
func ClassifyError(err error) string {
	if err != nil && Retryable(Classify(err).Kind) {
		return "transient"
	}
	return "permanent"
}
