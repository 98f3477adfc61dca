package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/rendis/flowmap/pkg/schema"
)

// LibSQLStore implements the Store interface using libSQL (embedded SQLite fork).
type LibSQLStore struct {
	db *sql.DB
}

// NewLibSQLStore opens a libSQL database at the given path and returns a Store.
// The path should be a file URI, e.g. "file:/path/to/flowmap.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Some PRAGMAs return rows, so they go through QueryRow.
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

// DB returns the underlying *sql.DB for advanced usage (e.g. event log).
func (s *LibSQLStore) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

// Migrate runs all pending database migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.db)
}

// SchemaVersion returns the highest applied migration version.
func (s *LibSQLStore) SchemaVersion(ctx context.Context) (int, error) {
	return schemaVersion(ctx, s.db)
}

// Vacuum runs VACUUM on the database.
func (s *LibSQLStore) Vacuum(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// --- Maps ---

// mapDocument is the JSON body of a stored map. Identity and bookkeeping
// columns live outside it.
type mapDocument struct {
	Items         []schema.WorkItem     `json:"items"`
	Relationships []schema.Relationship `json:"relationships"`
	Metadata      map[string]any        `json:"metadata,omitempty"`
}

func encodeDocument(m *schema.WorkflowMap) (string, error) {
	doc := mapDocument{Items: m.Items, Relationships: m.Relationships, Metadata: m.Metadata}
	if doc.Items == nil {
		doc.Items = []schema.WorkItem{}
	}
	if doc.Relationships == nil {
		doc.Relationships = []schema.Relationship{}
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("marshal map document: %w", err)
	}
	return string(raw), nil
}

// CreateMap inserts a new map at version 1. An existing id is a CONFLICT.
func (s *LibSQLStore) CreateMap(ctx context.Context, m *schema.WorkflowMap) error {
	doc, err := encodeDocument(m)
	if err != nil {
		return err
	}
	m.CreatedAt = timeOrNow(m.CreatedAt)
	m.UpdatedAt = timeOrNow(m.UpdatedAt)
	m.Version = 1

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO maps (id, name, description, document, agent_id, version, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.Name, nullStr(m.Description), doc, nullStr(m.AgentID), m.Version, m.CreatedAt, m.UpdatedAt,
	)
	if err != nil {
		if exists, _ := s.mapExists(ctx, m.ID); exists {
			return schema.NewErrorf(schema.ErrCodeConflict, "map %q already exists", m.ID)
		}
		return err
	}
	return nil
}

func (s *LibSQLStore) GetMap(ctx context.Context, id string) (*schema.WorkflowMap, error) {
	m := &schema.WorkflowMap{}
	var desc, agentID sql.NullString
	var doc string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, description, document, agent_id, version, created_at, updated_at
		 FROM maps WHERE id = ?`, id,
	).Scan(&m.ID, &m.Name, &desc, &doc, &agentID, &m.Version, &m.CreatedAt, &m.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("map", id)
	}
	if err != nil {
		return nil, err
	}
	m.Description = desc.String
	m.AgentID = agentID.String

	var d mapDocument
	if err := json.Unmarshal([]byte(doc), &d); err != nil {
		return nil, fmt.Errorf("unmarshal map document: %w", err)
	}
	m.Items = d.Items
	m.Relationships = d.Relationships
	m.Metadata = d.Metadata
	return m, nil
}

// UpdateMap replaces the stored snapshot of m. m.Version must match the
// stored version; on success it is incremented in place. A mismatch is a
// CONFLICT, so concurrent writers cannot silently overwrite each other.
func (s *LibSQLStore) UpdateMap(ctx context.Context, m *schema.WorkflowMap) error {
	doc, err := encodeDocument(m)
	if err != nil {
		return err
	}
	now := time.Now().UTC()

	res, err := s.db.ExecContext(ctx,
		`UPDATE maps SET name = ?, description = ?, document = ?, version = version + 1, updated_at = ?
		 WHERE id = ? AND version = ?`,
		m.Name, nullStr(m.Description), doc, now, m.ID, m.Version,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		exists, err := s.mapExists(ctx, m.ID)
		if err != nil {
			return err
		}
		if !exists {
			return storeNotFound("map", m.ID)
		}
		return schema.NewErrorf(schema.ErrCodeConflict, "map %q was modified concurrently (version %d is stale)", m.ID, m.Version)
	}
	m.Version++
	m.UpdatedAt = now
	return nil
}

func (s *LibSQLStore) ListMaps(ctx context.Context, filter MapFilter) ([]*MapSummary, error) {
	var where []string
	var args []any

	if filter.AgentID != "" {
		where = append(where, "agent_id = ?")
		args = append(args, filter.AgentID)
	}
	if filter.Name != "" {
		where = append(where, "name LIKE ?")
		args = append(args, "%"+filter.Name+"%")
	}

	query := `SELECT id, name, description, agent_id, version, created_at, updated_at FROM maps`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY updated_at DESC, id"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
		if filter.Offset > 0 {
			query += fmt.Sprintf(" OFFSET %d", filter.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var maps []*MapSummary
	for rows.Next() {
		ms := &MapSummary{}
		var desc, agentID sql.NullString
		if err := rows.Scan(&ms.ID, &ms.Name, &desc, &agentID, &ms.Version, &ms.CreatedAt, &ms.UpdatedAt); err != nil {
			return nil, err
		}
		ms.Description = desc.String
		ms.AgentID = agentID.String
		maps = append(maps, ms)
	}
	return maps, rows.Err()
}

// DeleteMap removes a map and its report jobs. Its events are kept.
func (s *LibSQLStore) DeleteMap(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM report_jobs WHERE map_id = ?`, id); err != nil {
		return fmt.Errorf("delete report jobs: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM maps WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if err := checkRowsAffected(res, "map", id); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *LibSQLStore) mapExists(ctx context.Context, id string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM maps WHERE id = ?`, id).Scan(&n)
	return n > 0, err
}

// --- Events ---

// AppendEvent stores event with the next per-map sequence number and sets
// event.Sequence and event.Timestamp.
func (s *LibSQLStore) AppendEvent(ctx context.Context, event *Event) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var seq int64
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), 0) + 1 FROM events WHERE map_id = ?`, event.MapID,
	).Scan(&seq)
	if err != nil {
		return fmt.Errorf("get next sequence: %w", err)
	}
	event.Sequence = seq
	event.Timestamp = timeOrNow(event.Timestamp)

	res, err := tx.ExecContext(ctx,
		`INSERT INTO events (map_id, item_id, event_type, payload, agent_id, timestamp, sequence)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		event.MapID, nullStr(event.ItemID), event.Type, nullRaw(event.Payload), nullStr(event.AgentID), event.Timestamp, seq,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		event.ID = id
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit event: %w", err)
	}
	return nil
}

// GetEvents returns events for a map with sequence > since, ordered by sequence ASC.
func (s *LibSQLStore) GetEvents(ctx context.Context, mapID string, since int64) ([]*Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, map_id, item_id, event_type, payload, agent_id, timestamp, sequence
		 FROM events WHERE map_id = ? AND sequence > ? ORDER BY sequence ASC`,
		mapID, since,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

// GetEventsByType returns the newest events of one type, optionally narrowed by filter.
func (s *LibSQLStore) GetEventsByType(ctx context.Context, eventType string, filter EventFilter) ([]*Event, error) {
	where := []string{"event_type = ?"}
	args := []any{eventType}

	if filter.MapID != "" {
		where = append(where, "map_id = ?")
		args = append(args, filter.MapID)
	}
	if filter.ItemID != "" {
		where = append(where, "item_id = ?")
		args = append(args, filter.ItemID)
	}
	if filter.Since != nil {
		where = append(where, "timestamp >= ?")
		args = append(args, *filter.Since)
	}

	query := `SELECT id, map_id, item_id, event_type, payload, agent_id, timestamp, sequence FROM events WHERE ` +
		strings.Join(where, " AND ") + " ORDER BY timestamp DESC, id DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]*Event, error) {
	var events []*Event
	for rows.Next() {
		e := &Event{}
		var itemID, agentID, payload sql.NullString
		if err := rows.Scan(&e.ID, &e.MapID, &itemID, &e.Type, &payload, &agentID, &e.Timestamp, &e.Sequence); err != nil {
			return nil, err
		}
		e.ItemID = itemID.String
		e.AgentID = agentID.String
		e.Payload = rawOrNil(payload)
		events = append(events, e)
	}
	return events, rows.Err()
}

// --- Agents ---

func (s *LibSQLStore) RegisterAgent(ctx context.Context, agent *Agent) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO agents (id, name, type, metadata, created_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET name=excluded.name, type=excluded.type, metadata=excluded.metadata`,
		agent.ID, agent.Name, agent.Type, nullRaw(agent.Metadata), timeOrNow(agent.CreatedAt),
	)
	return err
}

func (s *LibSQLStore) GetAgent(ctx context.Context, id string) (*Agent, error) {
	a := &Agent{}
	var metadata sql.NullString
	var lastSeen sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, type, metadata, created_at, last_seen_at FROM agents WHERE id = ?`, id,
	).Scan(&a.ID, &a.Name, &a.Type, &metadata, &a.CreatedAt, &lastSeen)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("agent", id)
	}
	if err != nil {
		return nil, err
	}
	a.Metadata = rawOrNil(metadata)
	if lastSeen.Valid {
		a.LastSeenAt = &lastSeen.Time
	}
	return a, nil
}

func (s *LibSQLStore) UpdateAgentSeen(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE agents SET last_seen_at = ? WHERE id = ?`, time.Now().UTC(), id,
	)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "agent", id)
}

// --- Report Jobs ---

func (s *LibSQLStore) CreateReportJob(ctx context.Context, job *ReportJob) error {
	job.CreatedAt = timeOrNow(job.CreatedAt)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO report_jobs (id, map_id, cron_expression, agent_id, enabled, last_run_at, next_run_at, last_run_status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.MapID, job.CronExpression, nullStr(job.AgentID), job.Enabled,
		nullTime(job.LastRunAt), nullTime(job.NextRunAt), nullStr(job.LastRunStatus), job.CreatedAt,
	)
	if err != nil {
		if exists, _ := s.mapExists(ctx, job.MapID); !exists {
			return storeNotFound("map", job.MapID)
		}
	}
	return err
}

func (s *LibSQLStore) GetReportJob(ctx context.Context, id string) (*ReportJob, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, map_id, cron_expression, agent_id, enabled, last_run_at, next_run_at, last_run_status, created_at
		 FROM report_jobs WHERE id = ?`, id)
	job, err := scanReportJob(row)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("report job", id)
	}
	return job, err
}

func (s *LibSQLStore) UpdateReportJob(ctx context.Context, id string, update ReportJobUpdate) error {
	var sets []string
	var args []any

	if update.CronExpression != "" {
		sets = append(sets, "cron_expression = ?")
		args = append(args, update.CronExpression)
	}
	if update.Enabled != nil {
		sets = append(sets, "enabled = ?")
		args = append(args, *update.Enabled)
	}
	if update.LastRunAt != nil {
		sets = append(sets, "last_run_at = ?")
		args = append(args, *update.LastRunAt)
	}
	if update.NextRunAt != nil {
		sets = append(sets, "next_run_at = ?")
		args = append(args, *update.NextRunAt)
	}
	if update.LastRunStatus != "" {
		sets = append(sets, "last_run_status = ?")
		args = append(args, update.LastRunStatus)
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, id)

	query := fmt.Sprintf("UPDATE report_jobs SET %s WHERE id = ?", strings.Join(sets, ", "))
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "report job", id)
}

func (s *LibSQLStore) ListReportJobs(ctx context.Context, filter ReportJobFilter) ([]*ReportJob, error) {
	var where []string
	var args []any

	if filter.MapID != "" {
		where = append(where, "map_id = ?")
		args = append(args, filter.MapID)
	}
	if filter.Enabled != nil {
		where = append(where, "enabled = ?")
		args = append(args, *filter.Enabled)
	}
	if filter.AgentID != "" {
		where = append(where, "agent_id = ?")
		args = append(args, filter.AgentID)
	}

	query := `SELECT id, map_id, cron_expression, agent_id, enabled, last_run_at, next_run_at, last_run_status, created_at FROM report_jobs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at ASC, id"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*ReportJob
	for rows.Next() {
		job, err := scanReportJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func (s *LibSQLStore) DeleteReportJob(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM report_jobs WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "report job", id)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReportJob(row rowScanner) (*ReportJob, error) {
	job := &ReportJob{}
	var agentID, lastStatus sql.NullString
	var lastRun, nextRun sql.NullTime
	if err := row.Scan(&job.ID, &job.MapID, &job.CronExpression, &agentID, &job.Enabled,
		&lastRun, &nextRun, &lastStatus, &job.CreatedAt); err != nil {
		return nil, err
	}
	job.AgentID = agentID.String
	job.LastRunStatus = lastStatus.String
	if lastRun.Valid {
		job.LastRunAt = &lastRun.Time
	}
	if nextRun.Valid {
		job.NextRunAt = &nextRun.Time
	}
	return job, nil
}

// --- Helpers ---

func storeNotFound(resource, id string) *schema.FlowmapError {
	return schema.NewErrorf(schema.ErrCodeNotFound, "%s %q not found", resource, id)
}

func checkRowsAffected(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storeNotFound(resource, id)
	}
	return nil
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullRaw(r json.RawMessage) any {
	if len(r) == 0 {
		return nil
	}
	return string(r)
}

func rawOrNil(ns sql.NullString) json.RawMessage {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	return json.RawMessage(ns.String)
}
