package repository

import (
	"context"
	stdsql "database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/recetas-tracker/constants"
	"github.com/joseph-ayodele/recetas-tracker/internal/common"
	"github.com/joseph-ayodele/recetas-tracker/internal/entity"
)

// ErrDuplicate is returned by Create when (user, message, link) already has a record.
var ErrDuplicate = errors.New("prescription already exists for message link")

// Correction is a manual edit of parsed fields. Nil fields are left unchanged.
type Correction struct {
	Physician *string
	Specialty *string
	IssuedOn  *string
	Diagnosis *string
	Studies   []string // nil = unchanged
}

type PrescriptionRepository interface {
	Create(ctx context.Context, p *entity.Prescription) error
	GetByID(ctx context.Context, id uuid.UUID) (*entity.Prescription, error)
	ListByUser(ctx context.Context, userID uuid.UUID, from, to *time.Time) ([]*entity.Prescription, error)
	ListMailboxStates(ctx context.Context, userID uuid.UUID) ([]entity.MailboxState, error)
	MarkParsed(ctx context.Context, id uuid.UUID, version int, parsed entity.Parsed) (*entity.Prescription, error)
	MarkFailed(ctx context.Context, id uuid.UUID, version int, message string) (*entity.Prescription, error)
	ApplyCorrection(ctx context.Context, id uuid.UUID, version int, c Correction) (*entity.Prescription, error)
	CountByState(ctx context.Context) (map[constants.RecordState]int, error)
}

type prescriptionRepo struct {
	db  *DB
	log *slog.Logger
}

func NewPrescriptionRepository(db *DB, log *slog.Logger) PrescriptionRepository {
	if log == nil {
		log = slog.Default()
	}
	return &prescriptionRepo{db: db, log: log}
}

var prescriptionColumns = []string{
	"id", "user_id", "pdf_url", "pdf_object_key", "pdf_original_name",
	"physician", "specialty", "issued_on", "studies", "diagnosis",
	"state", "message_id", "link_index", "appointment_id", "error_message",
	"extracted_json", "version", "created_at", "updated_at",
}

func (r *prescriptionRepo) builder() *entsql.DialectBuilder {
	return entsql.Dialect(r.db.Dialect())
}

// Create inserts p in its current state. ID, version and timestamps are assigned here.
func (r *prescriptionRepo) Create(ctx context.Context, p *entity.Prescription) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.State == "" {
		p.State = constants.StateProcessing
	}
	now := time.Now().UTC()
	p.CreatedAt, p.UpdatedAt, p.Version = now, now, 1
	if p.Studies == nil {
		p.Studies = []string{}
	}
	studies, err := json.Marshal(p.Studies)
	if err != nil {
		return err
	}

	q, args := r.builder().Insert(tablePrescriptions).
		Columns(prescriptionColumns...).
		Values(
			p.ID, p.UserID, p.PDFURL, p.PDFObjectKey, p.PDFOriginalName,
			nullString(p.Physician), nullString(p.Specialty), nullString(p.IssuedOn), string(studies), nullString(p.Diagnosis),
			string(p.State), nullString(p.MessageID), p.LinkIndex, nullUUID(p.AppointmentID), nullString(p.ErrorMessage),
			nullRaw(p.ExtractedJSON), p.Version, p.CreatedAt, p.UpdatedAt,
		).
		OnConflict(entsql.ConflictColumns("user_id", "message_id", "link_index"), entsql.DoNothing()).
		Query()

	var res stdsql.Result
	if err := r.db.drv.Exec(ctx, q, args, &res); err != nil {
		r.log.Error("prescription create failed", "user_id", p.UserID, "error", err)
		return common.Persistence("create prescription", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return common.Persistence("create prescription", err)
	}
	if n == 0 {
		r.log.Info("prescription already exists, insert skipped", "user_id", p.UserID, "message_id", deref(p.MessageID), "link_index", p.LinkIndex)
		return ErrDuplicate
	}
	r.log.Info("prescription created", "record_id", p.ID, "user_id", p.UserID, "state", p.State)
	return nil
}

func (r *prescriptionRepo) GetByID(ctx context.Context, id uuid.UUID) (*entity.Prescription, error) {
	b := r.builder()
	q, args := b.Select(prescriptionColumns...).
		From(b.Table(tablePrescriptions)).
		Where(entsql.EQ("id", id)).
		Limit(1).
		Query()
	out, err := r.query(ctx, q, args)
	if err != nil {
		return nil, common.Persistence("get prescription", err)
	}
	if len(out) == 0 {
		return nil, common.ErrNotFound
	}
	return out[0], nil
}

// ListByUser returns the user's records, newest first, optionally bounded by creation date (inclusive).
func (r *prescriptionRepo) ListByUser(ctx context.Context, userID uuid.UUID, from, to *time.Time) ([]*entity.Prescription, error) {
	b := r.builder()
	preds := []*entsql.Predicate{entsql.EQ("user_id", userID)}
	if from != nil {
		preds = append(preds, entsql.GTE("created_at", from.UTC()))
	}
	if to != nil {
		preds = append(preds, entsql.LTE("created_at", to.UTC()))
	}
	q, args := b.Select(prescriptionColumns...).
		From(b.Table(tablePrescriptions)).
		Where(entsql.And(preds...)).
		OrderBy(entsql.Desc("created_at")).
		Query()
	out, err := r.query(ctx, q, args)
	if err != nil {
		r.log.Error("prescription list failed", "user_id", userID, "error", err)
		return nil, common.Persistence("list prescriptions", err)
	}
	return out, nil
}

// ListMailboxStates returns every mailbox-sourced record for the user, oldest first.
func (r *prescriptionRepo) ListMailboxStates(ctx context.Context, userID uuid.UUID) ([]entity.MailboxState, error) {
	b := r.builder()
	q, args := b.Select("id", "message_id", "link_index", "state", "pdf_url", "pdf_object_key", "version").
		From(b.Table(tablePrescriptions)).
		Where(entsql.And(entsql.EQ("user_id", userID), entsql.NotNull("message_id"))).
		OrderBy("created_at", "link_index").
		Query()

	rows := &entsql.Rows{}
	if err := r.db.drv.Query(ctx, q, args, rows); err != nil {
		r.log.Error("mailbox state query failed", "user_id", userID, "error", err)
		return nil, common.Persistence("list mailbox states", err)
	}
	defer rows.Close()

	var out []entity.MailboxState
	for rows.Next() {
		var (
			s     entity.MailboxState
			state string
		)
		if err := rows.Scan(&s.ID, &s.MessageID, &s.LinkIndex, &state, &s.PDFURL, &s.ObjectKey, &s.Version); err != nil {
			return nil, common.Persistence("scan mailbox state", err)
		}
		s.State = constants.RecordState(state)
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, common.Persistence("list mailbox states", err)
	}
	return out, nil
}

// MarkParsed stores parsed fields and moves the record to pending.
func (r *prescriptionRepo) MarkParsed(ctx context.Context, id uuid.UUID, version int, parsed entity.Parsed) (*entity.Prescription, error) {
	studies := parsed.Studies
	if studies == nil {
		studies = []string{}
	}
	studiesJSON, err := json.Marshal(studies)
	if err != nil {
		return nil, err
	}
	u := r.builder().Update(tablePrescriptions).
		Set("state", string(constants.StatePending)).
		Set("studies", string(studiesJSON)).
		SetNull("error_message")
	setNullable(u, "physician", parsed.Physician)
	setNullable(u, "specialty", parsed.Specialty)
	setNullable(u, "issued_on", parsed.IssuedOn)
	setNullable(u, "diagnosis", parsed.Diagnosis)
	if len(parsed.RawJSON) > 0 {
		u.Set("extracted_json", string(parsed.RawJSON))
	}
	rec, err := r.update(ctx, id, version, u)
	if err != nil {
		return nil, err
	}
	r.log.Info("prescription parsed", "record_id", id, "state", rec.State, "studies", len(rec.Studies))
	return rec, nil
}

// MarkFailed moves the record to ocr_error; parsed fields are left as they are.
func (r *prescriptionRepo) MarkFailed(ctx context.Context, id uuid.UUID, version int, message string) (*entity.Prescription, error) {
	u := r.builder().Update(tablePrescriptions).
		Set("state", string(constants.StateOCRError)).
		Set("error_message", message)
	rec, err := r.update(ctx, id, version, u)
	if err != nil {
		return nil, err
	}
	r.log.Warn("prescription marked ocr_error", "record_id", id, "error", message)
	return rec, nil
}

func (r *prescriptionRepo) ApplyCorrection(ctx context.Context, id uuid.UUID, version int, c Correction) (*entity.Prescription, error) {
	u := r.builder().Update(tablePrescriptions)
	if c.Physician != nil {
		u.Set("physician", *c.Physician)
	}
	if c.Specialty != nil {
		u.Set("specialty", *c.Specialty)
	}
	if c.IssuedOn != nil {
		u.Set("issued_on", *c.IssuedOn)
	}
	if c.Diagnosis != nil {
		u.Set("diagnosis", *c.Diagnosis)
	}
	if c.Studies != nil {
		b, err := json.Marshal(c.Studies)
		if err != nil {
			return nil, err
		}
		u.Set("studies", string(b))
	}
	return r.update(ctx, id, version, u)
}

// update applies u guarded by the optimistic version and returns the fresh row.
func (r *prescriptionRepo) update(ctx context.Context, id uuid.UUID, version int, u *entsql.UpdateBuilder) (*entity.Prescription, error) {
	q, args := u.
		Set("version", version+1).
		Set("updated_at", time.Now().UTC()).
		Where(entsql.And(entsql.EQ("id", id), entsql.EQ("version", version))).
		Query()

	var res stdsql.Result
	if err := r.db.drv.Exec(ctx, q, args, &res); err != nil {
		r.log.Error("prescription update failed", "record_id", id, "error", err)
		return nil, common.Persistence("update prescription", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, common.Persistence("update prescription", err)
	}
	if n == 0 {
		if _, err := r.GetByID(ctx, id); err != nil {
			return nil, err
		}
		r.log.Warn("prescription version conflict", "record_id", id, "version", version)
		return nil, common.ErrConflict
	}
	return r.GetByID(ctx, id)
}

func (r *prescriptionRepo) CountByState(ctx context.Context) (map[constants.RecordState]int, error) {
	b := r.builder()
	q, args := b.Select("state", entsql.Count("*")).
		From(b.Table(tablePrescriptions)).
		GroupBy("state").
		Query()
	rows := &entsql.Rows{}
	if err := r.db.drv.Query(ctx, q, args, rows); err != nil {
		return nil, common.Persistence("count prescriptions", err)
	}
	defer rows.Close()
	out := make(map[constants.RecordState]int)
	for rows.Next() {
		var (
			state string
			n     int
		)
		if err := rows.Scan(&state, &n); err != nil {
			return nil, common.Persistence("count prescriptions", err)
		}
		out[constants.RecordState(state)] = n
	}
	return out, rows.Err()
}

func (r *prescriptionRepo) query(ctx context.Context, q string, args []any) ([]*entity.Prescription, error) {
	rows := &entsql.Rows{}
	if err := r.db.drv.Query(ctx, q, args, rows); err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*entity.Prescription
	for rows.Next() {
		p, err := scanPrescription(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanPrescription(rows *entsql.Rows) (*entity.Prescription, error) {
	var p entity.Prescription
	var physician, specialty, issuedOn, diagnosis stdsql.NullString
	var messageID, errorMessage, extracted stdsql.NullString
	var studies, state string
	var appointment uuid.NullUUID
	if err := rows.Scan(
		&p.ID, &p.UserID, &p.PDFURL, &p.PDFObjectKey, &p.PDFOriginalName,
		&physician, &specialty, &issuedOn, &studies, &diagnosis,
		&state, &messageID, &p.LinkIndex, &appointment, &errorMessage,
		&extracted, &p.Version, &p.CreatedAt, &p.UpdatedAt,
	); err != nil {
		return nil, err
	}
	p.Physician = stringPtr(physician)
	p.Specialty = stringPtr(specialty)
	p.IssuedOn = stringPtr(issuedOn)
	p.Diagnosis = stringPtr(diagnosis)
	p.MessageID = stringPtr(messageID)
	p.ErrorMessage = stringPtr(errorMessage)
	p.State = constants.RecordState(state)
	if appointment.Valid {
		id := appointment.UUID
		p.AppointmentID = &id
	}
	if extracted.Valid && extracted.String != "" {
		p.ExtractedJSON = json.RawMessage(extracted.String)
	}
	p.Studies = []string{}
	if studies != "" {
		if err := json.Unmarshal([]byte(studies), &p.Studies); err != nil {
			return nil, err
		}
	}
	return &p, nil
}
