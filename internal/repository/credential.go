package repository

import (
	"context"
	stdsql "database/sql"
	"log/slog"
	"time"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/recetas-tracker/internal/common"
)

// CredentialRepository stores one mailbox refresh token per user.
type CredentialRepository interface {
	// Get returns the plaintext refresh token or common.ErrMailboxNotConnected.
	Get(ctx context.Context, userID uuid.UUID) (string, error)
	Save(ctx context.Context, userID uuid.UUID, refreshToken string) error
	Clear(ctx context.Context, userID uuid.UUID) error
}

type credentialRepo struct {
	db     *DB
	cipher *TokenCipher
	log    *slog.Logger
}

func NewCredentialRepository(db *DB, cipher *TokenCipher, log *slog.Logger) CredentialRepository {
	if log == nil {
		log = slog.Default()
	}
	return &credentialRepo{db: db, cipher: cipher, log: log}
}

func (r *credentialRepo) Get(ctx context.Context, userID uuid.UUID) (string, error) {
	b := entsql.Dialect(r.db.Dialect())
	q, args := b.Select("refresh_token_sealed").
		From(b.Table(tableCredentials)).
		Where(entsql.EQ("user_id", userID)).
		Query()
	rows := &entsql.Rows{}
	if err := r.db.drv.Query(ctx, q, args, rows); err != nil {
		return "", common.Persistence("get credential", err)
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return "", common.Persistence("get credential", err)
		}
		return "", common.ErrMailboxNotConnected
	}
	var sealed string
	if err := rows.Scan(&sealed); err != nil {
		return "", common.Persistence("get credential", err)
	}
	token, err := r.cipher.Open(sealed)
	if err != nil {
		r.log.Error("stored credential cannot be decrypted", "user_id", userID, "error", err)
		return "", common.NewAppError("CREDENTIAL_ERROR", "stored credential unreadable", err)
	}
	return token, nil
}

func (r *credentialRepo) Save(ctx context.Context, userID uuid.UUID, refreshToken string) error {
	sealed, err := r.cipher.Seal(refreshToken)
	if err != nil {
		return err
	}
	q, args := entsql.Dialect(r.db.Dialect()).Insert(tableCredentials).
		Columns("user_id", "refresh_token_sealed", "connected_at").
		Values(userID, sealed, time.Now().UTC()).
		OnConflict(entsql.ConflictColumns("user_id"), entsql.ResolveWithNewValues()).
		Query()
	if err := r.db.drv.Exec(ctx, q, args, nil); err != nil {
		r.log.Error("credential save failed", "user_id", userID, "error", err)
		return common.Persistence("save credential", err)
	}
	r.log.Info("mailbox credential stored", "user_id", userID)
	return nil
}

func (r *credentialRepo) Clear(ctx context.Context, userID uuid.UUID) error {
	q, args := entsql.Dialect(r.db.Dialect()).Delete(tableCredentials).
		Where(entsql.EQ("user_id", userID)).
		Query()
	var res stdsql.Result
	if err := r.db.drv.Exec(ctx, q, args, &res); err != nil {
		r.log.Error("credential clear failed", "user_id", userID, "error", err)
		return common.Persistence("clear credential", err)
	}
	r.log.Warn("mailbox credential cleared", "user_id", userID)
	return nil
}
