package events

import (
	"context"

	"github.com/watt29/smart-service-system-backend/internal/models"
)

// Publisher is the outgoing side of the interaction bus. Satisfied by
// Producer.
type Publisher interface {
	PublishInteraction(ctx context.Context, event *models.InteractionEvent) error
}

// InstanceStamper wraps a publisher and marks every outgoing event with the
// local replica's id. The caller-supplied Source label is left untouched;
// consumers use InstanceID to skip events they have already applied locally.
type InstanceStamper struct {
	inner      Publisher
	instanceID string
}

func NewInstanceStamper(inner Publisher, instanceID string) *InstanceStamper {
	return &InstanceStamper{inner: inner, instanceID: instanceID}
}

func (s *InstanceStamper) PublishInteraction(ctx context.Context, event *models.InteractionEvent) error {
	event.InstanceID = s.instanceID
	return s.inner.PublishInteraction(ctx, event)
}
