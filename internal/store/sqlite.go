package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/nhle/rebootreminder/internal/model"
)

// SQLiteStore implements the Store interface using a local SQLite database.
type SQLiteStore struct {
	db *sqlx.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath,
// enables WAL mode, and runs any pending schema migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dbPath != ":memory:" {
		if dir := filepath.Dir(dbPath); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("creating database directory %s: %w", dir, err)
			}
		}
	}

	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	// One connection: the agent is the only writer, and an in-memory
	// database exists per connection.
	db.SetMaxOpenConns(1)

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// runMigrations checks the current schema version and applies any
// outstanding migrations in order.
func (s *SQLiteStore) runMigrations() error {
	currentVersion := 0

	// Check if schema_version table exists.
	var tableCount int
	err := s.db.Get(
		&tableCount,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	)
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}

	if tableCount > 0 {
		err = s.db.Get(&currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_version")
		if err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
	}

	return nil
}

// Update runs fn inside one transaction scoped to host.
func (s *SQLiteStore) Update(ctx context.Context, host string, fn func(tx Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&sqliteTx{ctx: ctx, q: tx, host: host}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// Requirement reads the host's requirement outside of a transaction.
func (s *SQLiteStore) Requirement(ctx context.Context, host string) (model.RebootRequirement, error) {
	return getRequirement(ctx, s.db, host)
}

// Deferral reads the host's deferral outside of a transaction.
func (s *SQLiteStore) Deferral(ctx context.Context, host string) (model.DeferralState, error) {
	return getDeferral(ctx, s.db, host)
}

// ListNotificationEvents returns history rows newest first.
func (s *SQLiteStore) ListNotificationEvents(
	ctx context.Context,
	filter EventFilter,
) ([]model.NotificationEvent, error) {
	query := `SELECT * FROM notification_events WHERE host = ?`
	args := []interface{}{filter.Host}

	if filter.Kind != "" {
		query += ` AND kind = ?`
		args = append(args, string(filter.Kind))
	}
	if filter.Since != nil {
		query += ` AND sent_at >= ?`
		args = append(args, filter.Since.UTC())
	}
	query += ` ORDER BY sent_at DESC, rowid DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	var rows []eventRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("listing notification events: %w", err)
	}

	events := make([]model.NotificationEvent, 0, len(rows))
	for _, r := range rows {
		events = append(events, r.toModel())
	}
	return events, nil
}

// ListRebootHistory returns restart records newest first.
func (s *SQLiteStore) ListRebootHistory(
	ctx context.Context,
	host string,
	limit int,
) ([]model.RebootRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	var records []model.RebootRecord
	err := s.db.SelectContext(ctx, &records, `
		SELECT * FROM reboot_history
		WHERE host = ?
		ORDER BY finished_at DESC, rowid DESC
		LIMIT ?`, host, limit)
	if err != nil {
		return nil, fmt.Errorf("listing reboot history: %w", err)
	}
	return records, nil
}

// PruneEvents deletes notification history sent before the cutoff.
func (s *SQLiteStore) PruneEvents(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM notification_events WHERE sent_at < ?`, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("pruning notification events: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting pruned events: %w", err)
	}
	return n, nil
}

// sqliteTx implements Tx on top of an open sqlx transaction.
type sqliteTx struct {
	ctx  context.Context
	q    sqlx.ExtContext
	host string
}

func (t *sqliteTx) Requirement() (model.RebootRequirement, error) {
	return getRequirement(t.ctx, t.q, t.host)
}

func (t *sqliteTx) SaveRequirement(req model.RebootRequirement) error {
	methods := req.ContributingMethods
	if methods == nil {
		methods = []model.ProbeName{}
	}
	encoded, err := json.Marshal(methods)
	if err != nil {
		return fmt.Errorf("marshaling contributing methods: %w", err)
	}

	_, err = t.q.ExecContext(t.ctx, `
		INSERT INTO reboot_requirement (
			host, required, hard, first_detected_at, last_checked_at, contributing_methods
		) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(host) DO UPDATE SET
			required = excluded.required,
			hard = excluded.hard,
			first_detected_at = excluded.first_detected_at,
			last_checked_at = excluded.last_checked_at,
			contributing_methods = excluded.contributing_methods`,
		t.host, boolToInt(req.Required), boolToInt(req.Hard),
		nullTime(req.FirstDetectedAt), req.LastCheckedAt.UTC(), string(encoded),
	)
	if err != nil {
		return fmt.Errorf("saving requirement for %s: %w", t.host, err)
	}
	return nil
}

func (t *sqliteTx) Deferral() (model.DeferralState, error) {
	return getDeferral(t.ctx, t.q, t.host)
}

func (t *sqliteTx) SaveDeferral(d model.DeferralState) error {
	_, err := t.q.ExecContext(t.ctx, `
		INSERT INTO deferral_state (host, active_until, postpone_count)
		VALUES (?, ?, ?)
		ON CONFLICT(host) DO UPDATE SET
			active_until = excluded.active_until,
			postpone_count = excluded.postpone_count`,
		t.host, nullTime(d.ActiveUntil), d.PostponeCount,
	)
	if err != nil {
		return fmt.Errorf("saving deferral for %s: %w", t.host, err)
	}
	return nil
}

func (t *sqliteTx) LastReminder() (*model.NotificationEvent, error) {
	var row eventRow
	err := sqlx.GetContext(t.ctx, t.q, &row, `
		SELECT * FROM notification_events
		WHERE host = ? AND kind = ?
		ORDER BY sent_at DESC, rowid DESC
		LIMIT 1`, t.host, string(model.EventReminder))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading last reminder: %w", err)
	}
	evt := row.toModel()
	return &evt, nil
}

func (t *sqliteTx) AppendEvent(evt model.NotificationEvent) error {
	var chosen sql.NullInt64
	if evt.DeferralChosen != nil {
		chosen = sql.NullInt64{Int64: int64(*evt.DeferralChosen), Valid: true}
	}
	interaction := evt.Interaction
	if interaction == "" {
		interaction = model.InteractionNoneYet
	}

	_, err := t.q.ExecContext(t.ctx, `
		INSERT INTO notification_events (
			id, host, sent_at, kind, severity, message_key, channel,
			user_identity, interaction, deferral_chosen_ns, bucket_index, ref_id
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		evt.ID, t.host, evt.SentAt.UTC(), string(evt.Kind), string(evt.Severity),
		string(evt.MessageKey), evt.Channel, evt.UserIdentity, string(interaction),
		chosen, evt.BucketIndex, evt.RefID,
	)
	if err != nil {
		return fmt.Errorf("appending %s event %s: %w", evt.Kind, evt.ID, err)
	}
	return nil
}

func (t *sqliteTx) EventByID(id string) (*model.NotificationEvent, error) {
	var row eventRow
	err := sqlx.GetContext(t.ctx, t.q, &row,
		`SELECT * FROM notification_events WHERE id = ? AND host = ?`, id, t.host)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("event %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("reading event %s: %w", id, err)
	}
	evt := row.toModel()
	return &evt, nil
}

func (t *sqliteTx) AppendRebootRecord(rec model.RebootRecord) error {
	_, err := t.q.ExecContext(t.ctx, `
		INSERT INTO reboot_history (
			id, host, requested_at, finished_at, outcome, requested_by, error
		) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, t.host, rec.RequestedAt.UTC(), rec.FinishedAt.UTC(),
		string(rec.Outcome), rec.RequestedBy, rec.Error,
	)
	if err != nil {
		return fmt.Errorf("appending reboot record %s: %w", rec.ID, err)
	}
	return nil
}

func (t *sqliteTx) LastRebootRecord() (*model.RebootRecord, error) {
	var rec model.RebootRecord
	err := sqlx.GetContext(t.ctx, t.q, &rec, `
		SELECT * FROM reboot_history
		WHERE host = ?
		ORDER BY finished_at DESC, rowid DESC
		LIMIT 1`, t.host)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading last reboot record: %w", err)
	}
	return &rec, nil
}

func getRequirement(ctx context.Context, q sqlx.QueryerContext, host string) (model.RebootRequirement, error) {
	var row requirementRow
	err := sqlx.GetContext(ctx, q, &row,
		`SELECT * FROM reboot_requirement WHERE host = ?`, host)
	if errors.Is(err, sql.ErrNoRows) {
		return model.RebootRequirement{Host: host}, nil
	}
	if err != nil {
		return model.RebootRequirement{}, fmt.Errorf("reading requirement for %s: %w", host, err)
	}
	return row.toModel()
}

func getDeferral(ctx context.Context, q sqlx.QueryerContext, host string) (model.DeferralState, error) {
	var row deferralRow
	err := sqlx.GetContext(ctx, q, &row,
		`SELECT * FROM deferral_state WHERE host = ?`, host)
	if errors.Is(err, sql.ErrNoRows) {
		return model.DeferralState{Host: host}, nil
	}
	if err != nil {
		return model.DeferralState{}, fmt.Errorf("reading deferral for %s: %w", host, err)
	}
	return row.toModel(), nil
}

// requirementRow mirrors the reboot_requirement table.
type requirementRow struct {
	Host                string       `db:"host"`
	Required            bool         `db:"required"`
	Hard                bool         `db:"hard"`
	FirstDetectedAt     sql.NullTime `db:"first_detected_at"`
	LastCheckedAt       time.Time    `db:"last_checked_at"`
	ContributingMethods string       `db:"contributing_methods"`
}

func (r requirementRow) toModel() (model.RebootRequirement, error) {
	req := model.RebootRequirement{
		Host:          r.Host,
		Required:      r.Required,
		Hard:          r.Hard,
		LastCheckedAt: r.LastCheckedAt,
	}
	if r.FirstDetectedAt.Valid {
		t := r.FirstDetectedAt.Time
		req.FirstDetectedAt = &t
	}
	if r.ContributingMethods != "" {
		if err := json.Unmarshal([]byte(r.ContributingMethods), &req.ContributingMethods); err != nil {
			return model.RebootRequirement{}, fmt.Errorf("decoding contributing methods for %s: %w", r.Host, err)
		}
	}
	return req, nil
}

// deferralRow mirrors the deferral_state table.
type deferralRow struct {
	Host          string       `db:"host"`
	ActiveUntil   sql.NullTime `db:"active_until"`
	PostponeCount int          `db:"postpone_count"`
}

func (r deferralRow) toModel() model.DeferralState {
	d := model.DeferralState{Host: r.Host, PostponeCount: r.PostponeCount}
	if r.ActiveUntil.Valid {
		t := r.ActiveUntil.Time
		d.ActiveUntil = &t
	}
	return d
}

// eventRow mirrors the notification_events table.
type eventRow struct {
	ID               string        `db:"id"`
	Host             string        `db:"host"`
	SentAt           time.Time     `db:"sent_at"`
	Kind             string        `db:"kind"`
	Severity         string        `db:"severity"`
	MessageKey       string        `db:"message_key"`
	Channel          string        `db:"channel"`
	UserIdentity     string        `db:"user_identity"`
	Interaction      string        `db:"interaction"`
	DeferralChosenNs sql.NullInt64 `db:"deferral_chosen_ns"`
	BucketIndex      int           `db:"bucket_index"`
	RefID            string        `db:"ref_id"`
}

func (r eventRow) toModel() model.NotificationEvent {
	evt := model.NotificationEvent{
		ID:           r.ID,
		Host:         r.Host,
		SentAt:       r.SentAt,
		Kind:         model.EventKind(r.Kind),
		Severity:     model.Severity(r.Severity),
		MessageKey:   model.MessageKey(r.MessageKey),
		Channel:      r.Channel,
		UserIdentity: r.UserIdentity,
		Interaction:  model.Interaction(r.Interaction),
		BucketIndex:  r.BucketIndex,
		RefID:        r.RefID,
	}
	if r.DeferralChosenNs.Valid {
		d := time.Duration(r.DeferralChosenNs.Int64)
		evt.DeferralChosen = &d
	}
	return evt
}

func nullTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
