// Package events writes to the append-only event log.
package events

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/zphelps/jarvis/internal/models"
)

// Log is the slice of the store the publisher needs.
type Log interface {
	AppendEvent(ev *models.Event) error
}

// Publisher stamps and appends events. The event type always comes from the
// payload so a mismatched type/payload pair cannot be written.
type Publisher struct {
	log Log
}

func NewPublisher(log Log) *Publisher {
	return &Publisher{log: log}
}

// Publish appends one event and returns its ID.
func (p *Publisher) Publish(source models.SourceKind, sourceID, taskID, userID string, payload models.EventPayload) (string, error) {
	ev := &models.Event{
		ID:         uuid.New().String(),
		Timestamp:  time.Now().UTC(),
		SourceKind: source,
		SourceID:   sourceID,
		Type:       payload.EventType(),
		TaskID:     taskID,
		UserID:     userID,
		Payload:    payload,
	}
	if err := p.log.AppendEvent(ev); err != nil {
		return "", fmt.Errorf("publish %s: %w", ev.Type, err)
	}
	return ev.ID, nil
}
