package repository

import (
	stdsql "database/sql"
	"encoding/json"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"
)

func nullString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func nullUUID(id *uuid.UUID) any {
	if id == nil {
		return nil
	}
	return *id
}

func nullRaw(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

func stringPtr(ns stdsql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func setNullable(u *entsql.UpdateBuilder, column string, v *string) {
	if v == nil {
		u.SetNull(column)
		return
	}
	u.Set(column, *v)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
