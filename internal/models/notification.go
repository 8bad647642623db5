package models

import "time"

// SurfacePriority says how urgently a decision should reach the user.
type SurfacePriority string

const (
	SurfaceInterrupt  SurfacePriority = "interrupt"
	SurfaceNextTurn   SurfacePriority = "next_turn"
	SurfaceBackground SurfacePriority = "background"
)

// ResolvedVia records how a notification was cleared.
type ResolvedVia string

const (
	ResolvedViaDashboard    ResolvedVia = "dashboard"
	ResolvedViaConversation ResolvedVia = "conversation"
	ResolvedViaTimeout      ResolvedVia = "timeout"
)

// ConversationDecision is the pure output of attention policy evaluation.
type ConversationDecision struct {
	ShouldSurface bool            `json:"should_surface"`
	Priority      SurfacePriority `json:"priority"`
	Reason        string          `json:"reason"`
}

// Notification is a persisted surfacing decision for one (task, event) pair.
// Notifications accumulate until explicitly resolved.
type Notification struct {
	ID          string               `json:"id"`
	TaskID      string               `json:"task_id"`
	EventID     string               `json:"event_id"`
	UserID      string               `json:"user_id"`
	Decision    ConversationDecision `json:"decision"`
	Resolved    bool                 `json:"resolved"`
	ResolvedVia ResolvedVia          `json:"resolved_via,omitempty"`
	ResolvedAt  *time.Time           `json:"resolved_at,omitempty"`
	CreatedAt   time.Time            `json:"created_at"`
}
