package mailbox

import "context"

// MessageRef identifies a candidate message.
type MessageRef struct {
	ID       string
	ThreadID string
}

// Session is an authenticated mailbox connection for one user and one run.
type Session interface {
	Search(ctx context.Context, query string, max int64) ([]MessageRef, error)
	Body(ctx context.Context, messageID string) (*Part, error)
}

// SessionFactory opens a Session from a stored refresh credential.
type SessionFactory interface {
	Open(ctx context.Context, refreshToken string) (Session, error)
}
