package events

import (
	"time"

	"github.com/IBM/sarama"

	"github.com/coruscant-bank/beskar-liquidation/pkg/logger"
	"github.com/coruscant-bank/beskar-liquidation/pkg/metrics"
)

// Publisher is the C5 contract: publish returns only after the bus has
// acknowledged the message or the retry policy is exhausted. On
// exhaustion the caller must treat the emission as uncertain.
type Publisher interface {
	Publish(event LoanEvent) error
	Close() error
}

// SaramaPublisher publishes events with a synchronous producer keyed by
// loanId, so Kafka's own per-key ordering reinforces the per-loan
// transition ordering already enforced by the Store's lock (§4.5).
type SaramaPublisher struct {
	producer   sarama.SyncProducer
	topic      string
	maxRetries int
	retryDelay time.Duration
	log        *logger.Logger
}

func NewSaramaPublisher(brokers []string, topic string, log *logger.Logger) (*SaramaPublisher, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 5
	cfg.Producer.Idempotent = false
	cfg.Net.MaxOpenRequests = 1

	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, err
	}

	return &SaramaPublisher{
		producer:   producer,
		topic:      topic,
		maxRetries: 5,
		retryDelay: 200 * time.Millisecond,
		log:        log.Named("event-publisher"),
	}, nil
}

// Publish sends event keyed by loanId, retrying transient bus errors with
// a bounded backoff before reporting the publish as uncertain.
func (p *SaramaPublisher) Publish(event LoanEvent) error {
	payload, err := event.Marshal()
	if err != nil {
		return err
	}

	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(event.LoanID),
		Value: sarama.ByteEncoder(payload),
	}

	var lastErr error
	for attempt := 1; attempt <= p.maxRetries; attempt++ {
		partition, offset, sendErr := p.producer.SendMessage(msg)
		if sendErr == nil {
			metrics.EventsPublishedTotal.WithLabelValues(string(event.EventType), "success").Inc()
			p.log.WithFields(map[string]interface{}{
				"loanId":    event.LoanID,
				"eventType": event.EventType,
				"eventId":   event.EventID,
				"partition": partition,
				"offset":    offset,
			}).Info("published loan event")
			return nil
		}
		lastErr = sendErr
		p.log.WithError(sendErr).WithFields(map[string]interface{}{
			"loanId":    event.LoanID,
			"eventType": event.EventType,
			"attempt":   attempt,
		}).Warn("publish attempt failed, retrying")
		time.Sleep(p.retryDelay)
	}

	metrics.EventsPublishedTotal.WithLabelValues(string(event.EventType), "uncertain").Inc()
	return lastErr
}

func (p *SaramaPublisher) Close() error {
	return p.producer.Close()
}
