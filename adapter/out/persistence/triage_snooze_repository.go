// Package persistence implements the SQL and Redis backed adapters.
package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"triage_server/core/domain"
	"triage_server/core/port/out"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const snoozeSchema = `
CREATE TABLE IF NOT EXISTS snooze_logs (
	id                UUID PRIMARY KEY,
	user_id           TEXT        NOT NULL,
	message_id        TEXT        NOT NULL,
	wake_up_time      TIMESTAMPTZ NOT NULL,
	status            TEXT        NOT NULL,
	snoozed_label_id  TEXT        NOT NULL DEFAULT '',
	restore_label_ids TEXT[]      NOT NULL DEFAULT '{}',
	attempts          INT         NOT NULL DEFAULT 0,
	next_attempt_at   TIMESTAMPTZ,
	last_error        TEXT        NOT NULL DEFAULT '',
	created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_snooze_logs_due ON snooze_logs (status, wake_up_time, next_attempt_at);
CREATE INDEX IF NOT EXISTS idx_snooze_logs_user ON snooze_logs (user_id, status, wake_up_time);
CREATE UNIQUE INDEX IF NOT EXISTS uq_snooze_logs_open ON snooze_logs (user_id, message_id)
	WHERE status IN ('PENDING', 'ACTIVE');
`

const snoozeColumns = `id, user_id, message_id, wake_up_time, status, snoozed_label_id,
	restore_label_ids, attempts, next_attempt_at, last_error, created_at, updated_at`

// SnoozeRepository implements out.SnoozeRepository on Postgres.
type SnoozeRepository struct {
	db *sqlx.DB
}

func NewSnoozeRepository(db *sqlx.DB) *SnoozeRepository {
	return &SnoozeRepository{db: db}
}

// EnsureSchema creates the table and indexes when missing.
func (r *SnoozeRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, snoozeSchema); err != nil {
		return fmt.Errorf("ensure snooze schema: %w", err)
	}
	return nil
}

type snoozeRow struct {
	ID              string         `db:"id"`
	UserID          string         `db:"user_id"`
	MessageID       string         `db:"message_id"`
	WakeUpTime      time.Time      `db:"wake_up_time"`
	Status          string         `db:"status"`
	SnoozedLabelID  string         `db:"snoozed_label_id"`
	RestoreLabelIDs pq.StringArray `db:"restore_label_ids"`
	Attempts        int            `db:"attempts"`
	NextAttemptAt   *time.Time     `db:"next_attempt_at"`
	LastError       string         `db:"last_error"`
	CreatedAt       time.Time      `db:"created_at"`
	UpdatedAt       time.Time      `db:"updated_at"`
}

func (r *snoozeRow) toDomain() *domain.SnoozeLog {
	return &domain.SnoozeLog{
		ID:              r.ID,
		UserID:          r.UserID,
		MessageID:       r.MessageID,
		WakeUpTime:      r.WakeUpTime,
		Status:          domain.SnoozeStatus(r.Status),
		SnoozedLabelID:  r.SnoozedLabelID,
		RestoreLabelIDs: []string(r.RestoreLabelIDs),
		Attempts:        r.Attempts,
		NextAttemptAt:   r.NextAttemptAt,
		LastError:       r.LastError,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
}

func (r *SnoozeRepository) Create(ctx context.Context, log *domain.SnoozeLog) error {
	if log.ID == "" {
		log.ID = uuid.New().String()
	}
	labels := log.RestoreLabelIDs
	if labels == nil {
		labels = []string{}
	}

	now := time.Now().UTC()
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO snooze_logs (id, user_id, message_id, wake_up_time, status, snoozed_label_id,
		                         restore_label_ids, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)`,
		log.ID, log.UserID, log.MessageID, log.WakeUpTime.UTC(), string(log.Status),
		log.SnoozedLabelID, pq.Array(labels), now)
	if err != nil {
		return fmt.Errorf("create snooze log: %w", translatePgError(err))
	}
	log.CreatedAt = now
	log.UpdatedAt = now
	return nil
}

func (r *SnoozeRepository) GetByID(ctx context.Context, id string) (*domain.SnoozeLog, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, nil
	}
	return r.getOne(ctx, `SELECT `+snoozeColumns+` FROM snooze_logs WHERE id = $1`, id)
}

func (r *SnoozeRepository) FindActive(ctx context.Context, userID, messageID string) (*domain.SnoozeLog, error) {
	return r.getOne(ctx, `
		SELECT `+snoozeColumns+` FROM snooze_logs
		WHERE user_id = $1 AND message_id = $2 AND status = $3`,
		userID, messageID, string(domain.SnoozeStatusActive))
}

func (r *SnoozeRepository) Transition(ctx context.Context, id string, from, to domain.SnoozeStatus) (bool, error) {
	return r.execMatched(ctx, `
		UPDATE snooze_logs SET status = $3, updated_at = NOW()
		WHERE id = $1 AND status = $2`,
		id, string(from), string(to))
}

func (r *SnoozeRepository) Reschedule(ctx context.Context, id string, wakeUpTime time.Time, snoozedLabelID string) (bool, error) {
	return r.execMatched(ctx, `
		UPDATE snooze_logs
		SET wake_up_time = $3, snoozed_label_id = $4, attempts = 0,
		    next_attempt_at = NULL, last_error = '', updated_at = NOW()
		WHERE id = $1 AND status = $2`,
		id, string(domain.SnoozeStatusActive), wakeUpTime.UTC(), snoozedLabelID)
}

func (r *SnoozeRepository) RecordAttempt(ctx context.Context, id string, from domain.SnoozeStatus, attempt domain.WakeAttempt) (bool, error) {
	return r.execMatched(ctx, `
		UPDATE snooze_logs
		SET status = $3, attempts = $4, next_attempt_at = $5, last_error = $6, updated_at = NOW()
		WHERE id = $1 AND status = $2`,
		id, string(from), string(attempt.Status), attempt.Attempts,
		attempt.NextAttemptAt.UTC(), attempt.LastError)
}

func (r *SnoozeRepository) DeletePending(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return nil
	}
	_, err := r.db.ExecContext(ctx, `DELETE FROM snooze_logs WHERE id = $1 AND status = $2`,
		id, string(domain.SnoozeStatusPending))
	if err != nil {
		return fmt.Errorf("delete snooze intent: %w", err)
	}
	return nil
}

func (r *SnoozeRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]*domain.SnoozeLog, error) {
	return r.list(ctx, `
		SELECT `+snoozeColumns+` FROM snooze_logs
		WHERE status = $1 AND wake_up_time <= $2
		  AND (next_attempt_at IS NULL OR next_attempt_at <= $2)
		ORDER BY wake_up_time ASC
		LIMIT $3`,
		string(domain.SnoozeStatusActive), now.UTC(), limit)
}

func (r *SnoozeRepository) ListStalePending(ctx context.Context, olderThan, now time.Time, limit int) ([]*domain.SnoozeLog, error) {
	return r.list(ctx, `
		SELECT `+snoozeColumns+` FROM snooze_logs
		WHERE status = $1 AND created_at < $2
		  AND (next_attempt_at IS NULL OR next_attempt_at <= $3)
		ORDER BY created_at ASC
		LIMIT $4`,
		string(domain.SnoozeStatusPending), olderThan.UTC(), now.UTC(), limit)
}

func (r *SnoozeRepository) ListActiveByUser(ctx context.Context, userID string, skip, limit int) ([]*domain.SnoozeLog, int64, error) {
	var total int64
	err := r.db.GetContext(ctx, &total,
		`SELECT COUNT(*) FROM snooze_logs WHERE user_id = $1 AND status = $2`,
		userID, string(domain.SnoozeStatusActive))
	if err != nil {
		return nil, 0, fmt.Errorf("count snooze logs: %w", err)
	}
	if total == 0 {
		return nil, 0, nil
	}

	logs, err := r.list(ctx, `
		SELECT `+snoozeColumns+` FROM snooze_logs
		WHERE user_id = $1 AND status = $2
		ORDER BY wake_up_time ASC
		LIMIT $3 OFFSET $4`,
		userID, string(domain.SnoozeStatusActive), limit, skip)
	if err != nil {
		return nil, 0, err
	}
	return logs, total, nil
}

func (r *SnoozeRepository) getOne(ctx context.Context, query string, args ...any) (*domain.SnoozeLog, error) {
	var row snoozeRow
	if err := r.db.GetContext(ctx, &row, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get snooze log: %w", err)
	}
	return row.toDomain(), nil
}

func (r *SnoozeRepository) list(ctx context.Context, query string, args ...any) ([]*domain.SnoozeLog, error) {
	var rows []snoozeRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list snooze logs: %w", err)
	}
	logs := make([]*domain.SnoozeLog, len(rows))
	for i := range rows {
		logs[i] = rows[i].toDomain()
	}
	return logs, nil
}

func (r *SnoozeRepository) execMatched(ctx context.Context, query string, args ...any) (bool, error) {
	if _, err := uuid.Parse(fmt.Sprint(args[0])); err != nil {
		return false, nil
	}
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("update snooze log: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update snooze log: %w", err)
	}
	return n == 1, nil
}

const uniqueViolation = "23505"

// translatePgError maps unique violations to out.ErrDuplicateKey. Both driver
// error types are checked so the store works behind pgx or lib/pq.
func translatePgError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%w: %s", out.ErrDuplicateKey, pgErr.ConstraintName)
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
		return fmt.Errorf("%w: %s", out.ErrDuplicateKey, pqErr.Constraint)
	}
	return err
}

var _ out.SnoozeRepository = (*SnoozeRepository)(nil)
