package ingest

import (
	"errors"

	"github.com/joseph-ayodele/recetas-tracker/internal/common"
	"github.com/joseph-ayodele/recetas-tracker/internal/entity"
)

// AuthExpiredMessage is shown to the user when the mailbox link must be redone.
const AuthExpiredMessage = "El acceso a Gmail expiró. Volvé a iniciar sesión con Google."

var (
	// ErrAuthExpired means the mailbox credential was rejected. The stored
	// credential has been cleared when this is returned.
	ErrAuthExpired = common.NewAppError("GMAIL_AUTH_EXPIRED", AuthExpiredMessage, common.ErrUnauthorized)

	// ErrScanInProgress means another scan for the same user holds the lock.
	ErrScanInProgress = errors.New("a mailbox scan is already running for this user")
)

// Failure reasons reported in ItemFailure.Reason.
const (
	ReasonBodyUnreadable   = "body_unreadable"
	ReasonEmptyBody        = "empty_body"
	ReasonNoLinks          = "no_links"
	ReasonFetchFailed      = "fetch_failed"
	ReasonStoreFailed      = "store_failed"
	ReasonExtractionFailed = "extraction_failed"
	ReasonUpdateConflict   = "update_conflict"
)

// ItemFailure describes one message or link that was counted under errors.
type ItemFailure struct {
	MessageID string `json:"message_id"`
	Link      string `json:"link,omitempty"`
	Reason    string `json:"reason"`
	Detail    string `json:"detail,omitempty"`
}

// RunResult aggregates one scan.
type RunResult struct {
	Found       int                   `json:"found"`
	Imported    int                   `json:"imported"`
	Reprocessed int                   `json:"reprocessed"`
	Skipped     int                   `json:"skipped"`
	Errors      int                   `json:"errors"`
	Recetas     []entity.Prescription `json:"recetas"`
	Failures    []ItemFailure         `json:"failures"`
}

// outcome is what one message contributes to the run. Each worker owns one.
type outcome struct {
	imported    int
	reprocessed int
	skipped     int
	errors      int
	records     []entity.Prescription
	failures    []ItemFailure
}

func (o *outcome) fail(f ItemFailure) {
	o.errors++
	o.failures = append(o.failures, f)
}

func (r *RunResult) add(o outcome) {
	r.Imported += o.imported
	r.Reprocessed += o.reprocessed
	r.Skipped += o.skipped
	r.Errors += o.errors
	r.Recetas = append(r.Recetas, o.records...)
	r.Failures = append(r.Failures, o.failures...)
}
