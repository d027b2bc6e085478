package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"chaos-organizer/internal/models"

	"github.com/IBM/sarama"
	"github.com/goccy/go-json"
)

// ErrQueueFull is returned by KafkaPublisher.Publish when the local queue
// has no room; the event is dropped.
var ErrQueueFull = errors.New("kafka publish queue full")

var errPublisherClosed = errors.New("kafka publisher closed")

// KafkaOptions tunes the local queue and retry policy of a KafkaPublisher.
type KafkaOptions struct {
	QueueSize   int
	Workers     int
	MaxRetry    int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

func (o KafkaOptions) withDefaults() KafkaOptions {
	if o.QueueSize <= 0 {
		o.QueueSize = 1024
	}
	if o.Workers <= 0 {
		o.Workers = 2
	}
	if o.MaxRetry < 0 {
		o.MaxRetry = 0
	}
	if o.BaseBackoff <= 0 {
		o.BaseBackoff = 100 * time.Millisecond
	}
	if o.MaxBackoff < o.BaseBackoff {
		o.MaxBackoff = 5 * time.Second
	}
	return o
}

// KafkaPublisher queues events locally and sends them from background
// workers, retrying with exponential backoff. Messages are keyed by event
// kind. Publish never waits: when the queue is full the event is dropped, so
// a slow broker never blocks ingestion.
type KafkaPublisher struct {
	producer sarama.SyncProducer
	topic    string
	opts     KafkaOptions

	mu     sync.RWMutex
	closed bool
	queue  chan models.Event
	wg     sync.WaitGroup
}

// NewKafkaPublisher connects a synchronous producer to brokers.
func NewKafkaPublisher(brokers []string, topic string, opts KafkaOptions) (*KafkaPublisher, error) {
	cfg := sarama.NewConfig()
	// SyncProducer requires Return.Successes.
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForLocal
	cfg.ClientID = "chaos-organizer"

	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to kafka %v: %w", brokers, err)
	}
	slog.Info("[KAFKA] Producer connected", "brokers", brokers, "topic", topic)
	return NewKafkaPublisherWithProducer(producer, topic, opts), nil
}

// NewKafkaPublisherWithProducer wraps an existing producer and starts the
// workers. The publisher takes ownership of producer.
func NewKafkaPublisherWithProducer(producer sarama.SyncProducer, topic string, opts KafkaOptions) *KafkaPublisher {
	opts = opts.withDefaults()
	p := &KafkaPublisher{
		producer: producer,
		topic:    topic,
		opts:     opts,
		queue:    make(chan models.Event, opts.QueueSize),
	}
	for i := 0; i < opts.Workers; i++ {
		p.wg.Add(1)
		go p.workerLoop(i)
	}
	return p
}

// Publish enqueues ev without waiting for queue space.
func (p *KafkaPublisher) Publish(_ context.Context, ev models.Event) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return errPublisherClosed
	}

	select {
	case p.queue <- ev:
		return nil
	default:
		return fmt.Errorf("%w: dropped event %d", ErrQueueFull, ev.ID)
	}
}

// Close stops accepting events, waits for queued ones to be sent and closes
// the producer.
func (p *KafkaPublisher) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	p.wg.Wait()
	return p.producer.Close()
}

func (p *KafkaPublisher) workerLoop(workerID int) {
	defer p.wg.Done()
	for ev := range p.queue {
		p.sendWithRetry(workerID, ev)
	}
}

func (p *KafkaPublisher) sendWithRetry(workerID int, ev models.Event) {
	for attempt := 0; attempt <= p.opts.MaxRetry; attempt++ {
		err := p.sendOnce(ev)
		if err == nil {
			return
		}

		if attempt == p.opts.MaxRetry {
			slog.Error("[KAFKA] Send failed, dropping event", "event", ev.ID, "worker", workerID, "attempts", attempt+1, "error", err)
			return
		}

		backoff := p.opts.BaseBackoff * time.Duration(1<<attempt)
		if backoff > p.opts.MaxBackoff {
			backoff = p.opts.MaxBackoff
		}
		slog.Warn("[KAFKA] Send failed, retrying", "event", ev.ID, "worker", workerID, "backoff", backoff, "error", err)
		time.Sleep(backoff)
	}
}

func (p *KafkaPublisher) sendOnce(ev models.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(ev.Type),
		Value: sarama.ByteEncoder(data),
	}
	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		return err
	}
	slog.Debug("[KAFKA] Event sent", "event", ev.ID, "partition", partition, "offset", offset)
	return nil
}
