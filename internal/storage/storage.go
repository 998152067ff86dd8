package storage

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Object is a stored blob.
type Object struct {
	Key string
	URL string
}

// Store is the opaque blob store for prescription PDFs. A returned object is durable.
type Store interface {
	Put(ctx context.Context, data []byte, name string, ownerID uuid.UUID) (Object, error)
	PublicURL(ctx context.Context, key string) (string, error)
}

// ObjectKey builds "<owner>/<unix millis>-<name>".
func ObjectKey(ownerID uuid.UUID, name string, now time.Time) string {
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	if name == "." || name == "/" || name == "" {
		name = "document.pdf"
	}
	return fmt.Sprintf("%s/%d-%s", ownerID, now.UnixMilli(), name)
}

func joinURL(base, bucket, key string) string {
	return strings.TrimRight(base, "/") + "/" + bucket + "/" + key
}
