// Package identity registers the agents that define and edit maps. Agent IDs
// are recorded on every event, and the defining agent owns its map.
package identity

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode"

	"github.com/rendis/flowmap/internal/store"
	"github.com/rendis/flowmap/pkg/schema"
)

// Agent kinds.
const (
	KindLLM     = "llm"
	KindHuman   = "human"
	KindService = "service"
	KindSystem  = "system"
)

// SchedulerAgentID acts for report jobs created without an agent.
const SchedulerAgentID = "flowmap-scheduler"

const maxIDLength = 128

// AgentStore is the subset of store.Store identity needs.
type AgentStore interface {
	RegisterAgent(ctx context.Context, agent *store.Agent) error
	GetAgent(ctx context.Context, id string) (*store.Agent, error)
	UpdateAgentSeen(ctx context.Context, id string) error
}

// ValidateID rejects empty, overlong, or whitespace-containing agent IDs.
func ValidateID(id string) error {
	if id == "" {
		return schema.NewError(schema.ErrCodeValidation, "agent id is required")
	}
	if len(id) > maxIDLength {
		return schema.NewErrorf(schema.ErrCodeValidation, "agent id longer than %d characters", maxIDLength)
	}
	if strings.IndexFunc(id, unicode.IsSpace) >= 0 {
		return schema.NewErrorf(schema.ErrCodeValidation, "agent id %q contains whitespace", id)
	}
	return nil
}

// ValidateKind checks kind against the known agent kinds.
func ValidateKind(kind string) error {
	switch kind {
	case KindLLM, KindHuman, KindService, KindSystem:
		return nil
	}
	return schema.NewErrorf(schema.ErrCodeValidation,
		"invalid agent kind %q: must be one of llm, human, service, system", kind)
}

// Ensure returns the stored agent id, touching its last_seen_at, or
// registers it with the given kind when it is unknown.
func Ensure(ctx context.Context, s AgentStore, id, kind string) (*store.Agent, error) {
	if err := ValidateID(id); err != nil {
		return nil, err
	}

	existing, err := s.GetAgent(ctx, id)
	if err == nil {
		if err := s.UpdateAgentSeen(ctx, id); err != nil {
			return nil, err
		}
		return existing, nil
	}
	if !isNotFound(err) {
		return nil, err
	}

	if err := ValidateKind(kind); err != nil {
		return nil, err
	}
	agent := &store.Agent{
		ID:        id,
		Name:      id,
		Type:      kind,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.RegisterAgent(ctx, agent); err != nil {
		// Lost a registration race to another session of the same agent.
		if isConflict(err) {
			return s.GetAgent(ctx, id)
		}
		return nil, err
	}
	return agent, nil
}

func isNotFound(err error) bool {
	var fe *schema.FlowmapError
	return errors.As(err, &fe) && fe.Code == schema.ErrCodeNotFound
}

func isConflict(err error) bool {
	var fe *schema.FlowmapError
	return errors.As(err, &fe) && fe.Code == schema.ErrCodeConflict
}
