// Package events handles event emission for contact lifecycle changes
package events

import (
	"context"

	"github.com/Gobusters/ectologger"
	"github.com/Ramsey-B/sorrel/pkg/kafka"
	"github.com/Ramsey-B/sorrel/pkg/models"
	"github.com/Ramsey-B/sorrel/pkg/tracing"
)

// SchemaVersion is the current event schema version
const SchemaVersion = "1.0"

// Emitter handles event emission for Sorrel
type Emitter struct {
	producer *kafka.Producer
	logger   ectologger.Logger
}

// NewEmitter creates a new event emitter
func NewEmitter(producer *kafka.Producer, logger ectologger.Logger) *Emitter {
	return &Emitter{
		producer: producer,
		logger:   logger,
	}
}

// EmitContactCreated emits an event for a newly created primary contact
func (e *Emitter) EmitContactCreated(ctx context.Context, contact *models.Contact) error {
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.EmitContactCreated")
	defer span.End()

	event := &kafka.ContactEvent{
		EventType:        "contact.created",
		ContactID:        contact.ID,
		PrimaryContactID: contact.RootID(),
		Email:            contact.Email,
		PhoneNumber:      contact.PhoneNumber,
	}

	if err := e.producer.PublishContactEvent(ctx, event); err != nil {
		e.logger.WithContext(ctx).WithError(err).Error("Failed to emit contact.created event")
		return err
	}

	return nil
}

// EmitContactLinked emits an event when a secondary contact is attached to an
// existing cluster
func (e *Emitter) EmitContactLinked(ctx context.Context, contact *models.Contact) error {
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.EmitContactLinked")
	defer span.End()

	event := &kafka.ContactEvent{
		EventType:        "contact.linked",
		ContactID:        contact.ID,
		PrimaryContactID: contact.RootID(),
		Email:            contact.Email,
		PhoneNumber:      contact.PhoneNumber,
	}

	if err := e.producer.PublishContactEvent(ctx, event); err != nil {
		e.logger.WithContext(ctx).WithError(err).Error("Failed to emit contact.linked event")
		return err
	}

	return nil
}

// EmitClusterMerged emits an event when clusters are consolidated under a
// single surviving root
func (e *Emitter) EmitClusterMerged(ctx context.Context, rootID int64, demotedIDs []int64, view *models.ClusterView) error {
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.EmitClusterMerged")
	defer span.End()

	event := &kafka.ContactEvent{
		EventType:           "cluster.merged",
		ContactID:           rootID,
		PrimaryContactID:    rootID,
		SecondaryContactIDs: view.SecondaryContactIDs,
		DemotedContactIDs:   demotedIDs,
	}

	if err := e.producer.PublishContactEvent(ctx, event); err != nil {
		e.logger.WithContext(ctx).WithError(err).Error("Failed to emit cluster.merged event")
		return err
	}

	return nil
}
