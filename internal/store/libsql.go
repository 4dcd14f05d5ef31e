package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/rendis/playbook/pkg/schema"
)

// LibSQLStore implements the Store interface using libSQL (embedded SQLite fork).
type LibSQLStore struct {
	db *sql.DB
}

// NewLibSQLStore opens a libSQL database at the given path and returns a Store.
// The path should be a file URI, e.g. "file:/path/to/playbook.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Apply connection-level PRAGMAs. Some PRAGMAs return rows so we use QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLStore{db: db}, nil
}

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

// Migrate runs all pending database migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.db)
}

// --- Templates ---

func (s *LibSQLStore) StoreTemplate(ctx context.Context, tpl *schema.Template) error {
	if tpl == nil || tpl.Key == "" {
		return schema.NewError(schema.ErrCodeValidation, "template key is empty")
	}
	def, err := json.Marshal(tpl.Definition)
	if err != nil {
		return fmt.Errorf("marshal template definition: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO templates (key, id, name, description, category, definition) VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET id=excluded.id, name=excluded.name,
		   description=excluded.description, category=excluded.category, definition=excluded.definition`,
		tpl.Key, tpl.ID, tpl.Name, tpl.Description, tpl.Category, string(def),
	)
	return err
}

func (s *LibSQLStore) GetTemplate(ctx context.Context, key string) (*schema.Template, error) {
	tpl := &schema.Template{}
	var def string
	err := s.db.QueryRowContext(ctx,
		`SELECT key, id, name, description, category, definition FROM templates WHERE key = ?`, key,
	).Scan(&tpl.Key, &tpl.ID, &tpl.Name, &tpl.Description, &tpl.Category, &def)
	if err == sql.ErrNoRows {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "template not found: %s", key)
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(def), &tpl.Definition); err != nil {
		return nil, fmt.Errorf("unmarshal template definition: %w", err)
	}
	return tpl, nil
}

func (s *LibSQLStore) ListTemplates(ctx context.Context) ([]*schema.Template, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, id, name, description, category, definition FROM templates ORDER BY key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*schema.Template
	for rows.Next() {
		tpl := &schema.Template{}
		var def string
		if err := rows.Scan(&tpl.Key, &tpl.ID, &tpl.Name, &tpl.Description, &tpl.Category, &def); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(def), &tpl.Definition); err != nil {
			return nil, fmt.Errorf("unmarshal template definition: %w", err)
		}
		out = append(out, tpl)
	}
	return out, rows.Err()
}

// --- Routines ---

func (s *LibSQLStore) CreateRoutine(ctx context.Context, r *Routine) error {
	if r == nil || r.ID == "" {
		return schema.NewError(schema.ErrCodeValidation, "routine ID is empty")
	}
	cfg, err := nullableJSON(r.Configuration)
	if err != nil {
		return fmt.Errorf("marshal routine configuration: %w", err)
	}
	def, err := json.Marshal(r.Definition)
	if err != nil {
		return fmt.Errorf("marshal routine definition: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO routines (id, template_id, scope_id, name, status, current_version, configuration, definition, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.TemplateID, r.ScopeID, r.Name, string(r.Status), r.CurrentVersion,
		cfg, string(def), timeOrNow(r.CreatedAt), timeOrNow(r.UpdatedAt),
	)
	return err
}

func (s *LibSQLStore) GetRoutine(ctx context.Context, id string) (*Routine, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, template_id, scope_id, name, status, current_version, configuration, definition, created_at, updated_at
		 FROM routines WHERE id = ?`, id)
	r, err := scanRoutine(row)
	if err == sql.ErrNoRows {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "routine not found: %s", id)
	}
	return r, err
}

func (s *LibSQLStore) ListRoutines(ctx context.Context, filter RoutineFilter) ([]*Routine, error) {
	query := `SELECT id, template_id, scope_id, name, status, current_version, configuration, definition, created_at, updated_at
		 FROM routines WHERE 1=1`
	var args []any
	if filter.ScopeID != "" {
		query += ` AND scope_id = ?`
		args = append(args, filter.ScopeID)
	}
	if filter.Status != nil {
		query += ` AND status = ?`
		args = append(args, string(*filter.Status))
	}
	query += ` ORDER BY created_at`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Routine
	for rows.Next() {
		r, err := scanRoutine(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *LibSQLStore) UpdateRoutineStatus(ctx context.Context, id string, status schema.RoutineStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE routines SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().UTC(), id)
	if err != nil {
		return err
	}
	return requireRowAffected(res, "routine", id)
}

func (s *LibSQLStore) UpdateRoutineDefinition(ctx context.Context, id string, version int, def schema.GraphDefinition) error {
	raw, err := json.Marshal(def)
	if err != nil {
		return fmt.Errorf("marshal routine definition: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE routines SET current_version = ?, definition = ?, updated_at = ? WHERE id = ?`,
		version, string(raw), time.Now().UTC(), id)
	if err != nil {
		return err
	}
	return requireRowAffected(res, "routine", id)
}

// --- Version snapshots ---

func (s *LibSQLStore) AppendSnapshot(ctx context.Context, snap *VersionSnapshot) error {
	if snap == nil || snap.RoutineID == "" {
		return schema.NewError(schema.ErrCodeValidation, "snapshot routine ID is empty")
	}
	def, err := json.Marshal(snap.Definition)
	if err != nil {
		return fmt.Errorf("marshal snapshot definition: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO version_snapshots (routine_id, version, definition, created_at, created_by)
		 VALUES (?, ?, ?, ?, ?)`,
		snap.RoutineID, snap.Version, string(def), timeOrNow(snap.CreatedAt), snap.CreatedBy,
	)
	return err
}

func (s *LibSQLStore) GetSnapshot(ctx context.Context, routineID string, version int) (*VersionSnapshot, error) {
	snap := &VersionSnapshot{}
	var def string
	err := s.db.QueryRowContext(ctx,
		`SELECT routine_id, version, definition, created_at, created_by
		 FROM version_snapshots WHERE routine_id = ? AND version = ?`, routineID, version,
	).Scan(&snap.RoutineID, &snap.Version, &def, &snap.CreatedAt, &snap.CreatedBy)
	if err == sql.ErrNoRows {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound,
			"snapshot version %d not found for routine %s", version, routineID)
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(def), &snap.Definition); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot definition: %w", err)
	}
	return snap, nil
}

func (s *LibSQLStore) ListSnapshots(ctx context.Context, routineID string) ([]*VersionSnapshot, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT routine_id, version, definition, created_at, created_by
		 FROM version_snapshots WHERE routine_id = ? ORDER BY version`, routineID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*VersionSnapshot
	for rows.Next() {
		snap := &VersionSnapshot{}
		var def string
		if err := rows.Scan(&snap.RoutineID, &snap.Version, &def, &snap.CreatedAt, &snap.CreatedBy); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(def), &snap.Definition); err != nil {
			return nil, fmt.Errorf("unmarshal snapshot definition: %w", err)
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}

// --- Execution audit trail ---

func (s *LibSQLStore) AppendExecution(ctx context.Context, rec *ExecutionRecord) error {
	if rec == nil || rec.RoutineID == "" {
		return schema.NewError(schema.ErrCodeValidation, "execution record routine ID is empty")
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	output, err := nullableRaw(rec.OutputData)
	if err != nil {
		return fmt.Errorf("marshal execution output: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO executions (routine_id, execution_id, step_id, step_label, status, success, narrative_log, output_data, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RoutineID, rec.ExecutionID, rec.StepID, rec.StepLabel, string(rec.Status),
		boolToInt(rec.Success), rec.NarrativeLog, output, rec.CreatedAt,
	)
	if err != nil {
		return err
	}
	if id, err := res.LastInsertId(); err == nil {
		rec.ID = id
	}
	return nil
}

func (s *LibSQLStore) ListExecutions(ctx context.Context, routineID string) ([]*ExecutionRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, routine_id, execution_id, step_id, step_label, status, success, narrative_log, output_data, created_at
		 FROM executions WHERE routine_id = ? ORDER BY id`, routineID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*ExecutionRecord
	for rows.Next() {
		rec := &ExecutionRecord{}
		var status string
		var success int
		var output sql.NullString
		if err := rows.Scan(&rec.ID, &rec.RoutineID, &rec.ExecutionID, &rec.StepID, &rec.StepLabel,
			&status, &success, &rec.NarrativeLog, &output, &rec.CreatedAt); err != nil {
			return nil, err
		}
		rec.Status = schema.ExecutionStatus(status)
		rec.Success = success != 0
		rec.OutputData = jsonOrNil(output)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// --- Lifecycle event log ---

// AppendEvent appends an event with a monotonically increasing per-routine
// sequence. The store is opened with a single connection so sequence reads and
// writes cannot interleave.
func (s *LibSQLStore) AppendEvent(ctx context.Context, event *Event) error {
	if event == nil || event.RoutineID == "" {
		return schema.NewError(schema.ErrCodeValidation, "event routine ID is empty")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var seq int64
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), 0) + 1 FROM events WHERE routine_id = ?`, event.RoutineID,
	).Scan(&seq)
	if err != nil {
		return fmt.Errorf("get next sequence: %w", err)
	}
	event.Sequence = seq

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	payload, err := nullableRaw(event.Payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO events (routine_id, step_id, event_type, payload, timestamp, sequence)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		event.RoutineID, event.StepID, event.Type, payload, event.Timestamp, event.Sequence,
	)
	if err != nil {
		return err
	}
	if id, err := res.LastInsertId(); err == nil {
		event.ID = id
	}
	return tx.Commit()
}

func (s *LibSQLStore) GetEvents(ctx context.Context, routineID string, since int64) ([]*Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, routine_id, step_id, event_type, payload, timestamp, sequence
		 FROM events WHERE routine_id = ? AND sequence > ? ORDER BY sequence`, routineID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Event
	for rows.Next() {
		ev := &Event{}
		var stepID, payload sql.NullString
		if err := rows.Scan(&ev.ID, &ev.RoutineID, &stepID, &ev.Type, &payload, &ev.Timestamp, &ev.Sequence); err != nil {
			return nil, err
		}
		ev.StepID = stepID.String
		ev.Payload = jsonOrNil(payload)
		out = append(out, ev)
	}
	return out, rows.Err()
}

// --- Chat transcripts ---

func (s *LibSQLStore) AppendMessage(ctx context.Context, sessionID string, msg *schema.ChatMessage) error {
	if sessionID == "" || msg == nil {
		return schema.NewError(schema.ErrCodeValidation, "session ID or message is empty")
	}
	metadata, err := nullableJSON(msg.Metadata)
	if err != nil {
		return fmt.Errorf("marshal message metadata: %w", err)
	}
	ts := msg.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO messages (session_id, message_id, role, content, metadata, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		sessionID, msg.ID, string(msg.Role), msg.Content, metadata, ts,
	)
	return err
}

func (s *LibSQLStore) ListMessages(ctx context.Context, sessionID string) ([]*schema.ChatMessage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT message_id, role, content, metadata, timestamp
		 FROM messages WHERE session_id = ? ORDER BY id`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*schema.ChatMessage
	for rows.Next() {
		msg := &schema.ChatMessage{}
		var role string
		var metadata sql.NullString
		if err := rows.Scan(&msg.ID, &role, &msg.Content, &metadata, &msg.Timestamp); err != nil {
			return nil, err
		}
		msg.Role = schema.MessageRole(role)
		if metadata.Valid && metadata.String != "" {
			if err := json.Unmarshal([]byte(metadata.String), &msg.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshal message metadata: %w", err)
			}
		}
		out = append(out, msg)
	}
	return out, rows.Err()
}

// --- Scheduled triggers ---

func (s *LibSQLStore) CreateScheduledTrigger(ctx context.Context, st *ScheduledTrigger) error {
	if st == nil || st.ID == "" {
		return schema.NewError(schema.ErrCodeValidation, "scheduled trigger ID is empty")
	}
	payload, err := nullableRaw(st.Payload)
	if err != nil {
		return fmt.Errorf("marshal trigger payload: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO scheduled_triggers (id, trigger_key, scope_id, cron_expression, payload, enabled, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		st.ID, st.TriggerKey, st.ScopeID, st.CronExpr, payload, boolToInt(st.Enabled), timeOrNow(st.CreatedAt),
	)
	return err
}

func (s *LibSQLStore) ListScheduledTriggers(ctx context.Context, enabledOnly bool) ([]*ScheduledTrigger, error) {
	query := `SELECT id, trigger_key, scope_id, cron_expression, payload, enabled, last_fired_at, created_at
		 FROM scheduled_triggers`
	if enabledOnly {
		query += ` WHERE enabled = 1`
	}
	query += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*ScheduledTrigger
	for rows.Next() {
		st := &ScheduledTrigger{}
		var payload sql.NullString
		var enabled int
		var lastFired sql.NullTime
		if err := rows.Scan(&st.ID, &st.TriggerKey, &st.ScopeID, &st.CronExpr, &payload, &enabled, &lastFired, &st.CreatedAt); err != nil {
			return nil, err
		}
		st.Payload = jsonOrNil(payload)
		st.Enabled = enabled != 0
		if lastFired.Valid {
			st.LastFiredAt = &lastFired.Time
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func (s *LibSQLStore) MarkTriggerFired(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE scheduled_triggers SET last_fired_at = ? WHERE id = ?`, at, id)
	if err != nil {
		return err
	}
	return requireRowAffected(res, "scheduled trigger", id)
}

// --- Helpers ---

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRoutine(row rowScanner) (*Routine, error) {
	r := &Routine{}
	var status, def string
	var cfg sql.NullString
	err := row.Scan(&r.ID, &r.TemplateID, &r.ScopeID, &r.Name, &status, &r.CurrentVersion,
		&cfg, &def, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	r.Status = schema.RoutineStatus(status)
	if cfg.Valid && cfg.String != "" {
		if err := json.Unmarshal([]byte(cfg.String), &r.Configuration); err != nil {
			return nil, fmt.Errorf("unmarshal routine configuration: %w", err)
		}
	}
	if err := json.Unmarshal([]byte(def), &r.Definition); err != nil {
		return nil, fmt.Errorf("unmarshal routine definition: %w", err)
	}
	return r, nil
}

func requireRowAffected(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return schema.NewErrorf(schema.ErrCodeNotFound, "%s not found: %s", kind, id)
	}
	return nil
}

func nullableJSON(m map[string]any) (any, error) {
	if m == nil {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func nullableRaw(raw json.RawMessage) (any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	if !json.Valid(raw) {
		return nil, fmt.Errorf("invalid JSON payload")
	}
	return string(raw), nil
}

func jsonOrNil(ns sql.NullString) json.RawMessage {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	return json.RawMessage(ns.String)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}
