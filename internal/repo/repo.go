package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"rosterline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// Querier is satisfied by *sql.DB and *sql.Tx. Reads issued while a
// transaction is open must go through the transaction: the pool holds a
// single connection.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (r Repo) q(tx *sql.Tx) Querier {
	if tx != nil {
		return tx
	}
	return r.DB
}

// IsUniqueViolation reports whether err came from a UNIQUE constraint.
func IsUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

const sessionColumns = `id,user_id,type,status,total_steps,completed_steps,COALESCE(context_ref,''),COALESCE(metadata_json,''),created_at,updated_at,completed_at,cancelled_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (domain.OnboardingSession, error) {
	var (
		s           domain.OnboardingSession
		sessionType string
		status      string
		meta        string
		completedAt sql.NullString
		cancelledAt sql.NullString
	)
	err := row.Scan(&s.ID, &s.UserID, &sessionType, &status, &s.TotalSteps, &s.CompletedSteps,
		&s.ContextRef, &meta, &s.CreatedAt, &s.UpdatedAt, &completedAt, &cancelledAt)
	if errors.Is(err, sql.ErrNoRows) {
		return s, ErrNotFound
	}
	if err != nil {
		return s, err
	}
	s.Type = domain.FlowType(sessionType)
	s.Status = domain.Status(status)
	if completedAt.Valid {
		s.CompletedAt = &completedAt.String
	}
	if cancelledAt.Valid {
		s.CancelledAt = &cancelledAt.String
	}
	if s.Metadata, err = decodeMeta(meta); err != nil {
		return s, fmt.Errorf("session %s metadata: %w", s.ID, err)
	}
	return s, nil
}

// InsertSession stores the session row and its ordered steps.
func (r Repo) InsertSession(ctx context.Context, tx *sql.Tx, s domain.OnboardingSession) error {
	q := r.q(tx)
	meta, err := encodeMeta(s.Metadata)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx, `INSERT INTO onboarding_sessions(id,user_id,type,status,total_steps,completed_steps,context_ref,metadata_json,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		s.ID, s.UserID, string(s.Type), string(s.Status), s.TotalSteps, s.CompletedSteps, nullable(s.ContextRef), meta, s.CreatedAt, s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	for i, st := range s.Steps {
		stepMeta, err := encodeMeta(st.Metadata)
		if err != nil {
			return err
		}
		if _, err := q.ExecContext(ctx, `INSERT INTO onboarding_steps(session_id,position,id,title,description,metadata_json) VALUES (?,?,?,?,?,?)`,
			s.ID, i, st.ID, st.Title, nullable(st.Description), stepMeta); err != nil {
			return fmt.Errorf("insert step %s: %w", st.ID, err)
		}
	}
	return nil
}

func (r Repo) GetSession(ctx context.Context, tx *sql.Tx, id string) (domain.OnboardingSession, error) {
	q := r.q(tx)
	s, err := scanSession(q.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM onboarding_sessions WHERE id=?`, id))
	if err != nil {
		return s, err
	}
	s.Steps, err = r.listSteps(ctx, q, s.ID)
	return s, err
}

// ActiveSession returns the user's in-progress session or ErrNotFound.
func (r Repo) ActiveSession(ctx context.Context, tx *sql.Tx, userID string) (domain.OnboardingSession, error) {
	q := r.q(tx)
	s, err := scanSession(q.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM onboarding_sessions WHERE user_id=? AND status=? LIMIT 1`,
		userID, string(domain.StatusInProgress)))
	if err != nil {
		return s, err
	}
	s.Steps, err = r.listSteps(ctx, q, s.ID)
	return s, err
}

type SessionFilters struct {
	UserID string
	Status string
	Type   string
}

// ListSessions returns sessions newest first.
func (r Repo) ListSessions(ctx context.Context, f SessionFilters) ([]domain.OnboardingSession, error) {
	var (
		where []string
		args  []any
	)
	if f.UserID != "" {
		where = append(where, "user_id=?")
		args = append(args, f.UserID)
	}
	if f.Status != "" {
		where = append(where, "status=?")
		args = append(args, f.Status)
	}
	if f.Type != "" {
		where = append(where, "type=?")
		args = append(args, f.Type)
	}
	query := `SELECT ` + sessionColumns + ` FROM onboarding_sessions`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	var res []domain.OnboardingSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		res = append(res, s)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()
	for i := range res {
		if res[i].Steps, err = r.listSteps(ctx, r.DB, res[i].ID); err != nil {
			return nil, err
		}
	}
	return res, nil
}

// UpdateSessionProgress persists the mutable fields of a session.
func (r Repo) UpdateSessionProgress(ctx context.Context, tx *sql.Tx, s domain.OnboardingSession) error {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE onboarding_sessions SET status=?, completed_steps=?, updated_at=?, completed_at=?, cancelled_at=? WHERE id=?`,
		string(s.Status), s.CompletedSteps, s.UpdatedAt, nullablePtr(s.CompletedAt), nullablePtr(s.CancelledAt), s.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) listSteps(ctx context.Context, q Querier, sessionID string) ([]domain.Step, error) {
	rows, err := q.QueryContext(ctx, `SELECT id,title,COALESCE(description,''),COALESCE(metadata_json,'') FROM onboarding_steps WHERE session_id=? ORDER BY position`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	steps := []domain.Step{}
	for rows.Next() {
		var st domain.Step
		var meta string
		if err := rows.Scan(&st.ID, &st.Title, &st.Description, &meta); err != nil {
			return nil, err
		}
		if st.Metadata, err = decodeMeta(meta); err != nil {
			return nil, fmt.Errorf("step %s metadata: %w", st.ID, err)
		}
		steps = append(steps, st)
	}
	return steps, rows.Err()
}

// ListSessionEvents returns events for a session, oldest first.
func (r Repo) ListSessionEvents(ctx context.Context, sessionID string, limit int) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT id,ts,type,COALESCE(session_id,''),actor_id,payload_json FROM events WHERE session_id=? ORDER BY id LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.SessionID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func encodeMeta(meta map[string]any) (any, error) {
	if len(meta) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}
	return string(b), nil
}

func decodeMeta(raw string) (map[string]any, error) {
	if raw == "" {
		return nil, nil
	}
	var meta map[string]any
	if err := json.Unmarshal([]byte(raw), &meta); err != nil {
		return nil, err
	}
	return meta, nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullablePtr(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}
