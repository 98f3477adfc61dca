package store

import (
	"encoding/json"
	"time"
)

// MapSummary is the listing view of a stored map, without its document.
type MapSummary struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	AgentID     string    `json:"agent_id,omitempty"`
	Version     int64     `json:"version"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Event is an immutable entry in the event sourcing log.
type Event struct {
	ID        int64           `json:"id"`
	MapID     string          `json:"map_id"`
	ItemID    string          `json:"item_id,omitempty"`
	Type      string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	AgentID   string          `json:"agent_id,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Sequence  int64           `json:"sequence"`
}

// Agent represents a registered agent identity.
type Agent struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Type       string          `json:"type"` // llm, system, human, service
	Metadata   json.RawMessage `json:"metadata,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	LastSeenAt *time.Time      `json:"last_seen_at,omitempty"`
}

// ReportJob is a cron-triggered analysis snapshot of one map.
type ReportJob struct {
	ID             string     `json:"id"`
	MapID          string     `json:"map_id"`
	CronExpression string     `json:"cron_expression"`
	AgentID        string     `json:"agent_id,omitempty"`
	Enabled        bool       `json:"enabled"`
	LastRunAt      *time.Time `json:"last_run_at,omitempty"`
	NextRunAt      *time.Time `json:"next_run_at,omitempty"`
	LastRunStatus  string     `json:"last_run_status,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// --- Filter and update types ---

// MapFilter specifies criteria for listing maps.
type MapFilter struct {
	AgentID string `json:"agent_id,omitempty"`
	Name    string `json:"name,omitempty"` // substring match
	Limit   int    `json:"limit,omitempty"`
	Offset  int    `json:"offset,omitempty"`
}

// EventFilter specifies criteria for listing events.
type EventFilter struct {
	MapID  string     `json:"map_id,omitempty"`
	ItemID string     `json:"item_id,omitempty"`
	Since  *time.Time `json:"since,omitempty"`
	Limit  int        `json:"limit,omitempty"`
}

// ReportJobUpdate specifies mutable fields of a report job.
type ReportJobUpdate struct {
	CronExpression string     `json:"cron_expression,omitempty"`
	Enabled        *bool      `json:"enabled,omitempty"`
	LastRunAt      *time.Time `json:"last_run_at,omitempty"`
	NextRunAt      *time.Time `json:"next_run_at,omitempty"`
	LastRunStatus  string     `json:"last_run_status,omitempty"`
}

// ReportJobFilter specifies criteria for listing report jobs.
type ReportJobFilter struct {
	MapID   string `json:"map_id,omitempty"`
	Enabled *bool  `json:"enabled,omitempty"`
	AgentID string `json:"agent_id,omitempty"`
	Limit   int    `json:"limit,omitempty"`
}
