package outbox

import (
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/salesmaster/internal/domain"
)

// LogPublisher пишет события в лог. Используется, когда брокер не настроен,
// чтобы backlog outbox не рос бесконечно.
type LogPublisher struct {
	logger *log.Entry
}

// NewLogPublisher создаёт publisher поверх logger.
func NewLogPublisher(logger *log.Entry) *LogPublisher {
	if logger == nil {
		logger = log.WithField("component", "outbox-log-publisher")
	}
	return &LogPublisher{logger: logger}
}

// Publish всегда успешен.
func (p *LogPublisher) Publish(event domain.OutboxMessage) error {
	p.logger.WithFields(log.Fields{
		"outbox_id":      event.ID,
		"aggregate_type": event.AggregateType,
		"aggregate_id":   event.AggregateID,
		"event_type":     event.EventType,
	}).Info(string(event.Payload))
	return nil
}

var _ domain.OutboxPublisher = (*LogPublisher)(nil)
