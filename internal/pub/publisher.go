// Package pub publishes workflow and ledger events for the notification worker.
package pub

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"money-service/internal/domain"
)

var publishErrors = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "event_publish_errors_total",
		Help: "Total number of events that could not be published",
	},
	[]string{"type"},
)

type Publisher interface {
	Publish(ctx context.Context, evt *domain.Event) error
}

type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// KafkaPublisher writes one JSON message per event, keyed by subject id so events for the
// same purchase or payment stay ordered within a partition.
type KafkaPublisher struct {
	writer *kafka.Writer
	logger *zap.Logger
}

func NewKafkaPublisher(cfg KafkaConfig, logger *zap.Logger) *KafkaPublisher {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		MaxAttempts:  3,
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		Logger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			logger.Debug(fmt.Sprintf(msg, args...))
		}),
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			logger.Error(fmt.Sprintf(msg, args...))
		}),
	}
	return &KafkaPublisher{writer: writer, logger: logger}
}

func (p *KafkaPublisher) Publish(ctx context.Context, evt *domain.Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		publishErrors.WithLabelValues(string(evt.Type)).Inc()
		return fmt.Errorf("failed to marshal event %s: %w", evt.ID, err)
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(evt.SubjectID),
		Value: data,
		Time:  evt.OccurredAt,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(evt.Type)},
		},
	})
	if err != nil {
		publishErrors.WithLabelValues(string(evt.Type)).Inc()
		return fmt.Errorf("failed to publish event %s: %w", evt.ID, err)
	}

	p.logger.Debug("event published",
		zap.String("event_id", evt.ID),
		zap.String("type", string(evt.Type)),
		zap.String("subject_id", evt.SubjectID))
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// LogPublisher only logs events. Used when no brokers are configured.
type LogPublisher struct {
	logger *zap.Logger
}

func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(_ context.Context, evt *domain.Event) error {
	p.logger.Info("event",
		zap.String("event_id", evt.ID),
		zap.String("type", string(evt.Type)),
		zap.String("subject_id", evt.SubjectID),
		zap.Strings("recipients", evt.Recipients))
	return nil
}
