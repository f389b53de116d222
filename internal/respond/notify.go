package respond

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/goccy/go-json"
	"github.com/segmentio/kafka-go"
	gobreaker "github.com/sony/gobreaker/v2"

	"cortexsoc/internal/config"
)

// Notifier delivers an operator message to a named channel.
type Notifier interface {
	Notify(ctx context.Context, channel, message string) error
}

// LogNotifier writes notifications to the service log.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(_ context.Context, channel, message string) error {
	if n.logger != nil {
		n.logger.Warn("notification", "channel", channel, "message", message)
	}
	return nil
}

type notification struct {
	Channel string    `json:"channel"`
	Message string    `json:"message"`
	SentAt  time.Time `json:"sent_at"`
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaNotifier publishes notifications as JSON to a topic, keyed by channel.
// Writes go through a circuit breaker so a dead broker fails fast.
type KafkaNotifier struct {
	writer  messageWriter
	breaker *gobreaker.CircuitBreaker[any]
	logger  *slog.Logger
}

func NewKafkaNotifier(cfg config.KafkaNotifyConfig, logger *slog.Logger) *KafkaNotifier {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 50 * time.Millisecond,
	}
	return newKafkaNotifier(writer, logger)
}

func newKafkaNotifier(writer messageWriter, logger *slog.Logger) *KafkaNotifier {
	settings := gobreaker.Settings{
		Name:        "kafka-notifier",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if logger != nil {
				logger.Warn("circuit breaker state change", "name", name, "from", from.String(), "to", to.String())
			}
		},
	}
	return &KafkaNotifier{
		writer:  writer,
		breaker: gobreaker.NewCircuitBreaker[any](settings),
		logger:  logger,
	}
}

func (n *KafkaNotifier) Notify(ctx context.Context, channel, message string) error {
	payload, err := json.Marshal(notification{Channel: channel, Message: message, SentAt: time.Now().UTC()})
	if err != nil {
		return err
	}
	_, err = n.breaker.Execute(func() (any, error) {
		return nil, n.writer.WriteMessages(ctx, kafka.Message{Key: []byte(channel), Value: payload})
	})
	if err != nil {
		return fmt.Errorf("kafka notify: %w", err)
	}
	return nil
}

func (n *KafkaNotifier) State() string {
	return n.breaker.State().String()
}

func (n *KafkaNotifier) Close() error {
	return n.writer.Close()
}

// NewNotifier picks the Kafka notifier when enabled, the log notifier otherwise.
func NewNotifier(cfg config.NotifyConfig, logger *slog.Logger) Notifier {
	if cfg.Kafka.Enabled && len(cfg.Kafka.Brokers) > 0 {
		if logger != nil {
			logger.Info("kafka notifier enabled", "topic", cfg.Kafka.Topic)
		}
		return NewKafkaNotifier(cfg.Kafka, logger)
	}
	return NewLogNotifier(logger)
}
