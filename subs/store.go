package subs

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/junctive/contexd/errors"
)

// Store persists subscriptions to SQLite. Subject and notification
// blocks are stored as JSON columns; delivery accounting lives in
// dedicated columns so it can be updated without rewriting the rule.
type Store struct {
	db *sql.DB
}

// NewStore creates a store over an already-migrated database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Create inserts a new subscription.
func (s *Store) Create(sub *Subscription) error {
	subjectJSON, notificationJSON, err := marshalBlocks(sub)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	sub.CreatedAt = now
	sub.ModifiedAt = now

	_, err = s.db.Exec(`
		INSERT INTO subscriptions (
			id, description, subject, notification, expires,
			throttling_seconds, fails_counter, times_sent, created_at, modified_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		sub.ID,
		nullableString(sub.Description),
		subjectJSON,
		notificationJSON,
		nullableTime(sub.Expires),
		sub.Throttling,
		sub.FailsCounter,
		sub.TimesSent,
		now.Format(time.RFC3339Nano),
		now.Format(time.RFC3339Nano),
	)
	if err != nil {
		return errors.Wrapf(err, "create subscription %s", sub.ID)
	}
	return nil
}

// Get returns one subscription by id.
func (s *Store) Get(id string) (*Subscription, error) {
	row := s.db.QueryRow(selectColumns+" FROM subscriptions WHERE id = ?", id)
	sub, err := scanSubscription(row)
	if err == sql.ErrNoRows {
		return nil, errors.NotFoundf("subscription %s not found", id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get subscription %s", id)
	}
	return sub, nil
}

// List returns a page of subscriptions in creation order, plus the
// total count.
func (s *Store) List(limit, offset int) ([]*Subscription, int, error) {
	var total int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM subscriptions").Scan(&total); err != nil {
		return nil, 0, errors.Wrap(err, "count subscriptions")
	}

	q := selectColumns + " FROM subscriptions ORDER BY rowid"
	args := []interface{}{}
	if limit > 0 {
		q += " LIMIT ? OFFSET ?"
		args = append(args, limit, offset)
	} else if offset > 0 {
		q += " LIMIT -1 OFFSET ?"
		args = append(args, offset)
	}

	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, 0, errors.Wrap(err, "list subscriptions")
	}
	defer rows.Close()

	var out []*Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, 0, errors.Wrap(err, "scan subscription row")
		}
		out = append(out, sub)
	}
	return out, total, rows.Err()
}

// Update rewrites the subscription rule fields and bumps modified_at.
// The failure counter resets so a failed subscription comes back to
// life when its owner updates it.
func (s *Store) Update(sub *Subscription) error {
	subjectJSON, notificationJSON, err := marshalBlocks(sub)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	result, err := s.db.Exec(`
		UPDATE subscriptions SET
			description = ?, subject = ?, notification = ?, expires = ?,
			throttling_seconds = ?, fails_counter = 0, modified_at = ?
		WHERE id = ?
	`,
		nullableString(sub.Description),
		subjectJSON,
		notificationJSON,
		nullableTime(sub.Expires),
		sub.Throttling,
		now.Format(time.RFC3339Nano),
		sub.ID,
	)
	if err != nil {
		return errors.Wrapf(err, "update subscription %s", sub.ID)
	}
	return requireRow(result, sub.ID)
}

// Delete removes a subscription unconditionally.
func (s *Store) Delete(id string) error {
	result, err := s.db.Exec("DELETE FROM subscriptions WHERE id = ?", id)
	if err != nil {
		return errors.Wrapf(err, "delete subscription %s", id)
	}
	return requireRow(result, id)
}

// RecordNotification accounts a successful delivery: increments the
// sent counter, stamps the delivery times and resets the consecutive
// failure counter.
func (s *Store) RecordNotification(id string, at time.Time) error {
	ts := at.UTC().Format(time.RFC3339Nano)
	result, err := s.db.Exec(`
		UPDATE subscriptions SET
			times_sent = times_sent + 1,
			last_notification = ?,
			last_success = ?,
			fails_counter = 0
		WHERE id = ?
	`, ts, ts, id)
	if err != nil {
		return errors.Wrapf(err, "record notification for %s", id)
	}
	return requireRow(result, id)
}

// RecordFailure accounts a failed delivery attempt.
func (s *Store) RecordFailure(id string, at time.Time) error {
	result, err := s.db.Exec(`
		UPDATE subscriptions SET
			fails_counter = fails_counter + 1,
			last_failure = ?
		WHERE id = ?
	`, at.UTC().Format(time.RFC3339Nano), id)
	if err != nil {
		return errors.Wrapf(err, "record failure for %s", id)
	}
	return requireRow(result, id)
}

const selectColumns = `SELECT
	id, description, subject, notification, expires,
	throttling_seconds, fails_counter, times_sent,
	last_notification, last_failure, last_success,
	created_at, modified_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSubscription(row rowScanner) (*Subscription, error) {
	var (
		sub              Subscription
		description      sql.NullString
		subjectJSON      string
		notificationJSON string
		expires          sql.NullString
		lastNotification sql.NullString
		lastFailure      sql.NullString
		lastSuccess      sql.NullString
		createdAt        string
		modifiedAt       string
	)

	err := row.Scan(
		&sub.ID, &description, &subjectJSON, &notificationJSON, &expires,
		&sub.Throttling, &sub.FailsCounter, &sub.TimesSent,
		&lastNotification, &lastFailure, &lastSuccess,
		&createdAt, &modifiedAt,
	)
	if err != nil {
		return nil, err
	}

	sub.Description = description.String
	if err := json.Unmarshal([]byte(subjectJSON), &sub.Subject); err != nil {
		return nil, errors.Wrapf(err, "decode subject of %s", sub.ID)
	}
	if err := json.Unmarshal([]byte(notificationJSON), &sub.Notification); err != nil {
		return nil, errors.Wrapf(err, "decode notification of %s", sub.ID)
	}

	if sub.Expires, err = parseNullableTime(expires); err != nil {
		return nil, errors.Wrapf(err, "decode expires of %s", sub.ID)
	}
	if sub.LastNotification, err = parseNullableTime(lastNotification); err != nil {
		return nil, errors.Wrapf(err, "decode last_notification of %s", sub.ID)
	}
	if sub.LastFailure, err = parseNullableTime(lastFailure); err != nil {
		return nil, errors.Wrapf(err, "decode last_failure of %s", sub.ID)
	}
	if sub.LastSuccess, err = parseNullableTime(lastSuccess); err != nil {
		return nil, errors.Wrapf(err, "decode last_success of %s", sub.ID)
	}
	if sub.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, errors.Wrapf(err, "decode created_at of %s", sub.ID)
	}
	if sub.ModifiedAt, err = time.Parse(time.RFC3339Nano, modifiedAt); err != nil {
		return nil, errors.Wrapf(err, "decode modified_at of %s", sub.ID)
	}
	return &sub, nil
}

func marshalBlocks(sub *Subscription) (string, string, error) {
	subjectJSON, err := json.Marshal(sub.Subject)
	if err != nil {
		return "", "", errors.Wrapf(err, "marshal subject of %s", sub.ID)
	}
	notificationJSON, err := json.Marshal(sub.Notification)
	if err != nil {
		return "", "", errors.Wrapf(err, "marshal notification of %s", sub.ID)
	}
	return string(subjectJSON), string(notificationJSON), nil
}

func requireRow(result sql.Result, id string) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return errors.Wrapf(err, "rows affected for %s", id)
	}
	if affected == 0 {
		return errors.NotFoundf("subscription %s not found", id)
	}
	return nil
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullableTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseNullableTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
