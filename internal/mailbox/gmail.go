package mailbox

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

const gmailUser = "me"

// GmailFactory builds a Gmail session per run from a user's refresh token.
type GmailFactory struct {
	oauth  oauth2.Config
	opts   []option.ClientOption
	logger *slog.Logger
}

func NewGmailFactory(clientID, clientSecret string, logger *slog.Logger, opts ...option.ClientOption) *GmailFactory {
	if logger == nil {
		logger = slog.Default()
	}
	return &GmailFactory{
		oauth: oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint:     google.Endpoint,
			Scopes:       []string{gmail.GmailReadonlyScope},
		},
		opts:   opts,
		logger: logger,
	}
}

func (f *GmailFactory) Open(ctx context.Context, refreshToken string) (Session, error) {
	ts := f.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	opts := append([]option.ClientOption{option.WithTokenSource(ts)}, f.opts...)
	return NewGmailSession(ctx, f.logger, opts...)
}

// GmailSession implements Session over the Gmail REST API.
type GmailSession struct {
	svc    *gmail.Service
	logger *slog.Logger
}

func NewGmailSession(ctx context.Context, logger *slog.Logger, opts ...option.ClientOption) (*GmailSession, error) {
	if logger == nil {
		logger = slog.Default()
	}
	svc, err := gmail.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("gmail service: %w", err)
	}
	return &GmailSession{svc: svc, logger: logger}, nil
}

func (s *GmailSession) Search(ctx context.Context, query string, max int64) ([]MessageRef, error) {
	res, err := s.svc.Users.Messages.List(gmailUser).Q(query).MaxResults(max).Context(ctx).Do()
	if err != nil {
		return nil, classify(fmt.Errorf("gmail list: %w", err))
	}
	out := make([]MessageRef, 0, len(res.Messages))
	for _, m := range res.Messages {
		out = append(out, MessageRef{ID: m.Id, ThreadID: m.ThreadId})
	}
	s.logger.Debug("gmail search done", "query", query, "results", len(out))
	return out, nil
}

func (s *GmailSession) Body(ctx context.Context, messageID string) (*Part, error) {
	msg, err := s.svc.Users.Messages.Get(gmailUser, messageID).Format("full").Context(ctx).Do()
	if err != nil {
		return nil, classify(fmt.Errorf("gmail get: %w", err))
	}
	return convertPart(msg.Payload)
}

func convertPart(mp *gmail.MessagePart) (*Part, error) {
	if mp == nil {
		return nil, nil
	}
	p := &Part{MimeType: mp.MimeType}
	if mp.Body != nil && mp.Body.Data != "" {
		data, err := decodeBase64URL(mp.Body.Data)
		if err != nil {
			return nil, fmt.Errorf("decode %s part: %w", mp.MimeType, err)
		}
		p.Data = data
	}
	for _, child := range mp.Parts {
		c, err := convertPart(child)
		if err != nil {
			return nil, err
		}
		if c != nil {
			p.Parts = append(p.Parts, c)
		}
	}
	return p, nil
}

// decodeBase64URL accepts padded and unpadded base64url.
func decodeBase64URL(s string) ([]byte, error) {
	s = strings.TrimRight(s, "=")
	return base64.RawURLEncoding.DecodeString(s)
}
