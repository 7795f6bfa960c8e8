package queue

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// ErrEmpty is returned by Dequeue when no ready message is available.
var ErrEmpty = errors.New("queue empty")

// ErrNotFound is returned when an operation references a message id that
// does not exist.
var ErrNotFound = errors.New("message not found")

// Store persists queue messages. Grounded on
// lib/persistedretry/writeback/store.go's sqlx usage, adapted from a
// single pending/failed table pair to one table shared by multiple named
// queues, with a dispatch order of priority then age (see
// storage/migrations/00004_queue_init.go's idx_queue_message_dispatch).
type Store interface {
	Enqueue(m *Message) error
	Dequeue(queue string, now time.Time) (*Message, error)
	MarkDone(id string) error
	MarkFailed(id string, reason string) error
	Requeue(id string) error
	ListInFlight(queue string) ([]*Message, error)
	ExpirePending(now time.Time) (int64, error)
}

type sqlStore struct {
	db *sqlx.DB
}

// NewStore creates a Store backed by db.
func NewStore(db *sqlx.DB) Store {
	return &sqlStore{db: db}
}

type messageRow struct {
	ID          string       `db:"id"`
	Queue       string       `db:"queue"`
	Payload     string       `db:"payload"`
	Priority    int          `db:"priority"`
	Status      string       `db:"status"`
	CreatedAt   time.Time    `db:"created_at"`
	ExpiresAt   time.Time    `db:"expires_at"`
	Failures    int          `db:"failures"`
	LastAttempt sql.NullTime `db:"last_attempt"`
}

func (r *messageRow) toMessage() *Message {
	m := &Message{
		ID:        r.ID,
		Queue:     r.Queue,
		Payload:   r.Payload,
		Priority:  r.Priority,
		Status:    Status(r.Status),
		CreatedAt: r.CreatedAt,
		ExpiresAt: r.ExpiresAt,
		Failures:  r.Failures,
	}
	if r.LastAttempt.Valid {
		t := r.LastAttempt.Time
		m.LastAttempt = &t
	}
	return m
}

func (s *sqlStore) Enqueue(m *Message) error {
	_, err := s.db.NamedExec(`
		INSERT INTO queue_message (id, queue, payload, priority, status, expires_at)
		VALUES (:id, :queue, :payload, :priority, :status, :expires_at)
	`, map[string]interface{}{
		"id":         m.ID,
		"queue":      m.Queue,
		"payload":    m.Payload,
		"priority":   m.Priority,
		"status":     string(StatusPending),
		"expires_at": m.ExpiresAt,
	})
	return err
}

// Dequeue atomically claims the highest-priority, oldest, unexpired
// pending message on queue, marking it PROCESSING. Returns ErrEmpty if
// none is available.
func (s *sqlStore) Dequeue(queue string, now time.Time) (*Message, error) {
	tx, err := s.db.Beginx()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var r messageRow
	err = tx.Get(&r, `
		SELECT * FROM queue_message
		WHERE queue = ? AND status = ? AND expires_at > ?
		ORDER BY priority DESC, created_at ASC
		LIMIT 1
	`, queue, string(StatusPending), now)
	if err == sql.ErrNoRows {
		return nil, ErrEmpty
	}
	if err != nil {
		return nil, err
	}

	res, err := tx.Exec(`
		UPDATE queue_message
		SET status = ?, last_attempt = ?
		WHERE id = ? AND status = ?
	`, string(StatusProcessing), now, r.ID, string(StatusPending))
	if err != nil {
		return nil, err
	}
	if n, err := res.RowsAffected(); err != nil {
		return nil, err
	} else if n == 0 {
		// Claimed by a concurrent dequeue between the SELECT and UPDATE.
		return nil, ErrEmpty
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	r.Status = string(StatusProcessing)
	return r.toMessage(), nil
}

func (s *sqlStore) MarkDone(id string) error {
	return s.updateStatus(id, StatusDone, "")
}

func (s *sqlStore) MarkFailed(id string, reason string) error {
	res, err := s.db.Exec(`
		UPDATE queue_message
		SET status = ?, failures = failures + 1
		WHERE id = ?
	`, string(StatusFailed), id)
	if err != nil {
		return err
	}
	return checkRowsAffected(res)
}

func (s *sqlStore) Requeue(id string) error {
	return s.updateStatus(id, StatusPending, "")
}

func (s *sqlStore) updateStatus(id string, to Status, _ string) error {
	res, err := s.db.Exec(`UPDATE queue_message SET status = ? WHERE id = ?`, string(to), id)
	if err != nil {
		return err
	}
	return checkRowsAffected(res)
}

func checkRowsAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListInFlight returns messages left PROCESSING on queue -- used at
// startup to recover work orphaned by a crash (spec section 4.8).
func (s *sqlStore) ListInFlight(queue string) ([]*Message, error) {
	var rows []messageRow
	if err := s.db.Select(&rows, `
		SELECT * FROM queue_message WHERE queue = ? AND status = ?
	`, queue, string(StatusProcessing)); err != nil {
		return nil, err
	}
	messages := make([]*Message, len(rows))
	for i, r := range rows {
		messages[i] = r.toMessage()
	}
	return messages, nil
}

// ExpirePending marks every still-pending message whose TTL has elapsed
// as EXPIRED, returning the count affected.
func (s *sqlStore) ExpirePending(now time.Time) (int64, error) {
	res, err := s.db.Exec(`
		UPDATE queue_message
		SET status = ?
		WHERE status = ? AND expires_at <= ?
	`, string(StatusExpired), string(StatusPending), now)
	if err != nil {
		return 0, fmt.Errorf("expire pending: %w", err)
	}
	return res.RowsAffected()
}
