package mailbox

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

const (
	// DefaultQuery matches the insurer's practice/study order notifications.
	DefaultQuery = `from:noreply@osde.com.ar "órdenes de prácticas y estudios"`
	PageSize     = 20
)

// Candidate is a message with the document links found in its body.
type Candidate struct {
	ID      string
	Links   []string
	HasBody bool
}

type Locator struct {
	query    string
	pageSize int64
	logger   *slog.Logger
}

func NewLocator(logger *slog.Logger) *Locator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Locator{query: DefaultQuery, pageSize: PageSize, logger: logger}
}

// Query returns the search query, bounded below by after when set.
func (l *Locator) Query(after *time.Time) string {
	if after == nil || after.IsZero() {
		return l.query
	}
	return fmt.Sprintf("%s after:%s", l.query, after.Format("2006/01/02"))
}

// Candidates lists matching messages in mailbox order.
func (l *Locator) Candidates(ctx context.Context, s Session, after *time.Time) ([]MessageRef, error) {
	q := l.Query(after)
	refs, err := s.Search(ctx, q, l.pageSize)
	if err != nil {
		l.logger.Error("mailbox search failed", "error", err)
		return nil, err
	}
	if int64(len(refs)) > l.pageSize {
		refs = refs[:l.pageSize]
	}
	l.logger.Info("mailbox search complete", "query", q, "found", len(refs))
	return refs, nil
}

// Locate fetches a message body and extracts its links. A missing body or no
// links is not an error; an unreadable body is a *LocatorError unless the
// credential expired.
func (l *Locator) Locate(ctx context.Context, s Session, messageID string) (Candidate, error) {
	c := Candidate{ID: messageID}
	root, err := s.Body(ctx, messageID)
	if err != nil {
		if IsAuthExpired(err) {
			return c, err
		}
		return c, &LocatorError{MessageID: messageID, Err: err}
	}
	body := BodyHTML(root)
	c.HasBody = body != ""
	c.Links = ExtractLinks(body)
	l.logger.Debug("message located", "message_id", messageID, "body_len", len(body), "links", len(c.Links))
	return c, nil
}
