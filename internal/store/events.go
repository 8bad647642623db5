package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/zphelps/jarvis/internal/models"
)

// --- Event Operations ---

// AppendEvent writes one event to the append-only log. Events are never
// updated or deleted.
func (s *Store) AppendEvent(ev *models.Event) error {
	payload := []byte("{}")
	if ev.Payload != nil {
		b, err := json.Marshal(ev.Payload)
		if err != nil {
			return fmt.Errorf("encode event payload: %w", err)
		}
		payload = b
	}

	_, err := s.db.Exec(
		`INSERT INTO events (id, timestamp, source_kind, source_id, type, task_id, user_id, payload, correlation_id, parent_event_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.Timestamp, ev.SourceKind, ev.SourceID, ev.Type, ev.TaskID, ev.UserID, string(payload), ev.CorrelationID, ev.ParentEventID,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

const eventColumns = `id, timestamp, source_kind, source_id, type, task_id, user_id, payload, correlation_id, parent_event_id`

func scanEvent(row rowScanner) (*models.Event, error) {
	ev := &models.Event{}
	var payload string
	err := row.Scan(
		&ev.ID, &ev.Timestamp, &ev.SourceKind, &ev.SourceID, &ev.Type,
		&ev.TaskID, &ev.UserID, &payload, &ev.CorrelationID, &ev.ParentEventID,
	)
	if err != nil {
		return nil, err
	}

	decoded, err := models.DecodePayload(ev.Type, []byte(payload))
	if err != nil {
		return nil, fmt.Errorf("decode payload for event %s: %w", ev.ID, err)
	}
	ev.Payload = decoded
	return ev, nil
}

func (s *Store) queryEvents(query string, args ...any) ([]models.Event, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []models.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, *ev)
	}
	return events, rows.Err()
}

// ListEvents returns a task's events in timestamp order, oldest first.
func (s *Store) ListEvents(taskID string, limit int) ([]models.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM events WHERE task_id = ? ORDER BY timestamp ASC, id ASC`
	args := []any{taskID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	return s.queryEvents(query, args...)
}

// RecentEvents returns a user's newest events across all tasks.
func (s *Store) RecentEvents(userID string, limit int) ([]models.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.queryEvents(
		`SELECT `+eventColumns+` FROM events WHERE user_id = ? ORDER BY timestamp DESC, id DESC LIMIT ?`,
		userID, limit,
	)
}

// --- Notification Operations ---

// CreateNotification persists one surfacing decision.
func (s *Store) CreateNotification(taskID, eventID, userID string, decision models.ConversationDecision) (*models.Notification, error) {
	n := &models.Notification{
		ID:        uuid.New().String(),
		TaskID:    taskID,
		EventID:   eventID,
		UserID:    userID,
		Decision:  decision,
		CreatedAt: time.Now().UTC(),
	}

	_, err := s.db.Exec(
		`INSERT INTO notifications (id, task_id, event_id, user_id, should_surface, priority, reason, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		n.ID, n.TaskID, n.EventID, n.UserID, n.Decision.ShouldSurface, n.Decision.Priority, n.Decision.Reason, n.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert notification: %w", err)
	}
	return n, nil
}

const notificationColumns = `id, task_id, event_id, user_id, should_surface, priority, reason, resolved, resolved_via, resolved_at, created_at`

func scanNotification(row rowScanner) (*models.Notification, error) {
	n := &models.Notification{}
	var resolvedAt sql.NullTime
	err := row.Scan(
		&n.ID, &n.TaskID, &n.EventID, &n.UserID,
		&n.Decision.ShouldSurface, &n.Decision.Priority, &n.Decision.Reason,
		&n.Resolved, &n.ResolvedVia, &resolvedAt, &n.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if resolvedAt.Valid {
		n.ResolvedAt = &resolvedAt.Time
	}
	return n, nil
}

// GetNotification retrieves a notification by ID. Returns nil, nil when
// missing.
func (s *Store) GetNotification(id string) (*models.Notification, error) {
	n, err := scanNotification(s.db.QueryRow(
		`SELECT `+notificationColumns+` FROM notifications WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query notification: %w", err)
	}
	return n, nil
}

// UnresolvedNotifications returns a user's pending surfacing decisions,
// newest first.
func (s *Store) UnresolvedNotifications(userID string) ([]models.Notification, error) {
	rows, err := s.db.Query(
		`SELECT `+notificationColumns+` FROM notifications WHERE user_id = ? AND resolved = 0 AND should_surface = 1 ORDER BY created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("query notifications: %w", err)
	}
	defer rows.Close()

	var out []models.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		out = append(out, *n)
	}
	return out, rows.Err()
}

// ResolveNotification marks one notification as handled.
func (s *Store) ResolveNotification(id string, via models.ResolvedVia) error {
	result, err := s.db.Exec(
		`UPDATE notifications SET resolved = 1, resolved_via = ?, resolved_at = ? WHERE id = ? AND resolved = 0`,
		via, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("resolve notification: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("notification %s not found or already resolved", id)
	}
	return nil
}

// ResolveTaskNotifications marks all of a task's unresolved notifications as
// handled. Resolving an empty set is not an error.
func (s *Store) ResolveTaskNotifications(taskID string, via models.ResolvedVia) error {
	_, err := s.db.Exec(
		`UPDATE notifications SET resolved = 1, resolved_via = ?, resolved_at = ? WHERE task_id = ? AND resolved = 0`,
		via, time.Now().UTC(), taskID,
	)
	if err != nil {
		return fmt.Errorf("resolve task notifications: %w", err)
	}
	return nil
}
