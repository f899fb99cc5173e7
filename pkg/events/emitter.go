// Package events handles event emission for contact lifecycle changes
package events

import (
	"context"
	"encoding/json"

	"github.com/Ramsey-B/clover/pkg/kafka"
	"github.com/Ramsey-B/clover/pkg/logging"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

// SchemaVersion is the current event schema version
const SchemaVersion = "1.0"

const (
	EventTypeContactCreated = "contact.created"
	EventTypeContactLinked  = "contact.linked"
	EventTypeContactMerged  = "contact.merged"
)

// Emitter publishes contact lifecycle events after a resolution commits.
// Emission is best-effort: failures are logged, never surfaced to callers.
type Emitter struct {
	producer *kafka.Producer
	logger   logging.Logger
}

// NewEmitter creates a new event emitter
func NewEmitter(producer *kafka.Producer, logger logging.Logger) *Emitter {
	return &Emitter{
		producer: producer,
		logger:   logger,
	}
}

// EmitResolution publishes the events implied by a completed resolution:
// contact.created for a fresh primary, contact.linked for a new secondary,
// and contact.merged for every primary demoted by a cluster collision.
// A nil emitter or a resolution that changed nothing emits nothing.
func (e *Emitter) EmitResolution(ctx context.Context, res *models.Resolution) {
	if e == nil || res == nil || !res.Changed() {
		return
	}

	ctx, span := tracing.StartSpan(ctx, "events.Emitter.EmitResolution")
	defer span.End()

	if res.CreatedContactID != nil {
		eventType := EventTypeContactLinked
		if res.CreatedPrimary {
			eventType = EventTypeContactCreated
		}
		e.publish(ctx, eventType, *res.CreatedContactID, res)
	}

	for _, demotedID := range res.DemotedPrimaryIDs {
		e.publish(ctx, EventTypeContactMerged, demotedID, res)
	}
}

func (e *Emitter) publish(ctx context.Context, eventType string, contactID int64, res *models.Resolution) {
	data, err := json.Marshal(map[string]any{
		"schema_version":        SchemaVersion,
		"emails":                res.View.Emails,
		"phone_numbers":         res.View.PhoneNumbers,
		"secondary_contact_ids": res.View.SecondaryContactIDs,
	})
	if err != nil {
		e.logger.WithContext(ctx).WithError(err).Error("Failed to encode contact event payload")
		return
	}

	event := &kafka.ContactEvent{
		EventType:        eventType,
		ContactID:        contactID,
		PrimaryContactID: res.View.PrimaryContactID,
		Data:             data,
	}

	if err := e.producer.PublishContactEvent(ctx, event); err != nil {
		e.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"event_type": eventType}).Error("Failed to emit contact event")
	}
}
