// Package session defines the durable snapshot/restore contract for a
// Planning Flow run, generalizing
// _examples/original_source/extensions/session.py's
// load_flow_from_session/save_flow_to_session and structurally grounded on
// _examples/goadesign-goa-ai/runtime/agent/session/session.go's Store
// interface and sentinel-error shape.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/fudanyi/agentflow/internal/model"
	"github.com/fudanyi/agentflow/internal/planmodel"
	"github.com/fudanyi/agentflow/internal/reactagent"
)

// ErrNotFound indicates no snapshot exists for the given session id,
// mirroring session.py's has_session() returning false.
var ErrNotFound = errors.New("session: snapshot not found")

// AgentSnapshot captures one executor (or planning) agent's durable state,
// mirroring session.py's per-agent dict of current_step/state/messages.
type AgentSnapshot struct {
	CurrentStep int                `json:"current_step"`
	State       reactagent.State   `json:"state"`
	Messages    []model.Message    `json:"messages,omitempty"`
}

// Snapshot is the full durable state of a Planning Flow run, mirroring
// save_flow_to_session's session dict: active_plan_id, current_step_index,
// plans, memory, and one entry per agent.
type Snapshot struct {
	SessionID        string                    `json:"session_id"`
	ActivePlanID     string                    `json:"active_plan_id"`
	CurrentStepIndex int                       `json:"current_step_index"`
	Plans            map[string]*planmodel.Plan `json:"plans"`
	Memory           []model.Message           `json:"memory,omitempty"`
	Agents           map[string]AgentSnapshot  `json:"agents,omitempty"`
	SavedAt          time.Time                 `json:"saved_at"`
}

// Store persists and restores Snapshots keyed by session id.
type Store interface {
	// Save writes (overwriting) the snapshot for snap.SessionID.
	Save(ctx context.Context, snap Snapshot) error
	// Load reads the snapshot for sessionID. Returns ErrNotFound when no
	// snapshot has ever been saved for that id, mirroring has_session.
	Load(ctx context.Context, sessionID string) (Snapshot, error)
	// Has reports whether a snapshot exists for sessionID without
	// decoding it, mirroring session.py's has_session.
	Has(ctx context.Context, sessionID string) (bool, error)
}
