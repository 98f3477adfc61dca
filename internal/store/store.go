package store

import (
	"context"

	"github.com/rendis/flowmap/pkg/schema"
)

// Store defines the persistence layer contract.
// All implementations must be safe for concurrent use.
type Store interface {
	// Maps
	CreateMap(ctx context.Context, m *schema.WorkflowMap) error
	GetMap(ctx context.Context, id string) (*schema.WorkflowMap, error)
	UpdateMap(ctx context.Context, m *schema.WorkflowMap) error
	ListMaps(ctx context.Context, filter MapFilter) ([]*MapSummary, error)
	DeleteMap(ctx context.Context, id string) error

	// Event Sourcing (append-only)
	AppendEvent(ctx context.Context, event *Event) error
	GetEvents(ctx context.Context, mapID string, since int64) ([]*Event, error)
	GetEventsByType(ctx context.Context, eventType string, filter EventFilter) ([]*Event, error)

	// Agents
	RegisterAgent(ctx context.Context, agent *Agent) error
	GetAgent(ctx context.Context, id string) (*Agent, error)
	UpdateAgentSeen(ctx context.Context, id string) error

	// Report Jobs
	CreateReportJob(ctx context.Context, job *ReportJob) error
	GetReportJob(ctx context.Context, id string) (*ReportJob, error)
	UpdateReportJob(ctx context.Context, id string, update ReportJobUpdate) error
	ListReportJobs(ctx context.Context, filter ReportJobFilter) ([]*ReportJob, error)
	DeleteReportJob(ctx context.Context, id string) error

	// Maintenance
	Migrate(ctx context.Context) error
	Vacuum(ctx context.Context) error

	// Lifecycle
	Close() error
}
