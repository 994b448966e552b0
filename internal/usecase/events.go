package usecase

import (
	"context"
	"time"

	"go.uber.org/zap"

	"money-service/internal/domain"
	"money-service/internal/pkg/id"
	"money-service/internal/pub"
)

// emitter publishes events after the state change they describe has been stored.
// A failed publish is logged and never undoes the state change.
type emitter struct {
	publisher pub.Publisher
	logger    *zap.Logger
}

func (e emitter) emit(ctx context.Context, typ domain.EventType, actorID, subjectID string, recipients []string, payload map[string]interface{}) {
	if e.publisher == nil {
		return
	}
	evt := &domain.Event{
		ID:         id.New(),
		Type:       typ,
		OccurredAt: time.Now().UTC(),
		ActorID:    actorID,
		SubjectID:  subjectID,
		Recipients: recipients,
		Payload:    payload,
	}
	if err := e.publisher.Publish(ctx, evt); err != nil {
		e.logger.Error("failed to publish event",
			zap.String("type", string(typ)),
			zap.String("subject_id", subjectID),
			zap.Error(err))
	}
}
