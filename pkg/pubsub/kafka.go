package pubsub

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/weiawesome/roomchat/pkg/log"
)

const (
	defaultKafkaTopic = "chat-relay"
	pollTimeoutMs     = 500
	flushTimeoutMs    = 5000
)

// KafkaPubSub relays events through a single Kafka topic. Every room relay
// channel maps onto that topic with the room as the message key, so one
// room's events stay ordered within a partition.
type KafkaPubSub struct {
	cfg      KafkaConfig
	producer *kafka.Producer
	reports  chan struct{}

	mu        sync.Mutex
	consumers []*kafka.Consumer
	cancels   []context.CancelFunc
	wg        sync.WaitGroup
}

func NewKafkaPubSub(cfg KafkaConfig) (*KafkaPubSub, error) {
	if cfg.Topic == "" {
		cfg.Topic = defaultKafkaTopic
	}
	if cfg.GroupID == "" {
		cfg.GroupID = "roomchat-relay"
	}

	p, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers": cfg.Brokers,
		"acks":              "1",
		"linger.ms":         5,
		"compression.type":  "snappy",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	k := &KafkaPubSub{
		cfg:      cfg,
		producer: p,
		reports:  make(chan struct{}),
	}
	go k.watchDeliveries()

	if err := k.ensureTopic(); err != nil {
		l := log.L()
		l.Warn().Err(err).Str("topic", cfg.Topic).Msg("failed to ensure kafka topic")
	}
	return k, nil
}

func (k *KafkaPubSub) ensureTopic() error {
	admin, err := kafka.NewAdminClientFromProducer(k.producer)
	if err != nil {
		return fmt.Errorf("failed to create admin client: %w", err)
	}
	defer admin.Close()

	spec := kafka.TopicSpecification{
		Topic:             k.cfg.Topic,
		NumPartitions:     k.cfg.Partitions,
		ReplicationFactor: k.cfg.ReplicationFactor,
	}
	if spec.NumPartitions <= 0 {
		spec.NumPartitions = 4
	}
	if spec.ReplicationFactor <= 0 {
		spec.ReplicationFactor = 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	results, err := admin.CreateTopics(ctx, []kafka.TopicSpecification{spec})
	if err != nil {
		return err
	}
	for _, r := range results {
		if code := r.Error.Code(); code != kafka.ErrNoError && code != kafka.ErrTopicAlreadyExists {
			return r.Error
		}
	}
	return nil
}

func (k *KafkaPubSub) watchDeliveries() {
	defer close(k.reports)
	for e := range k.producer.Events() {
		if m, ok := e.(*kafka.Message); ok && m.TopicPartition.Error != nil {
			l := log.L()
			l.Error().Err(m.TopicPartition.Error).Str(log.FieldRoom, string(m.Key)).Msg("kafka relay delivery failed")
		}
	}
}

func (k *KafkaPubSub) Publish(ctx context.Context, channel string, event *Event) error {
	room, err := RoomFromChannel(channel)
	if err != nil {
		return err
	}
	data, err := encodeEvent(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	topic := k.cfg.Topic
	return k.producer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &topic, Partition: kafka.PartitionAny},
		Key:            []byte(room),
		Value:          data,
	}, nil)
}

// SubscribePattern only understands PatternRoomRelay; it consumes the whole
// relay topic from the latest offset.
func (k *KafkaPubSub) SubscribePattern(ctx context.Context, pattern string) (<-chan *Event, error) {
	if pattern != PatternRoomRelay {
		return nil, fmt.Errorf("unsupported kafka pattern: %q", pattern)
	}

	c, err := kafka.NewConsumer(&kafka.ConfigMap{
		"bootstrap.servers":       k.cfg.Brokers,
		"group.id":                k.cfg.GroupID,
		"auto.offset.reset":       "latest",
		"enable.auto.commit":      true,
		"auto.commit.interval.ms": 5000,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka consumer: %w", err)
	}
	if err := c.Subscribe(k.cfg.Topic, nil); err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to subscribe to topic %s: %w", k.cfg.Topic, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	out := make(chan *Event, eventBuffer)

	k.mu.Lock()
	k.consumers = append(k.consumers, c)
	k.cancels = append(k.cancels, cancel)
	k.mu.Unlock()

	k.wg.Add(1)
	go k.consume(ctx, c, out)
	return out, nil
}

func (k *KafkaPubSub) consume(ctx context.Context, c *kafka.Consumer, out chan<- *Event) {
	defer k.wg.Done()
	defer close(out)

	l := log.L().With().Str("topic", k.cfg.Topic).Str("group", k.cfg.GroupID).Logger()
	for ctx.Err() == nil {
		switch e := c.Poll(pollTimeoutMs).(type) {
		case *kafka.Message:
			event, err := decodeEvent(e.Value)
			if err != nil {
				l.Warn().Err(err).Msg("dropping undecodable event")
				continue
			}
			select {
			case out <- event:
			case <-ctx.Done():
				return
			default:
				l.Warn().Str(log.FieldRoom, event.Room).Msg("event channel full, dropping event")
			}
		case kafka.Error:
			l.Error().Str("error", e.String()).Bool("fatal", e.IsFatal()).Msg("kafka relay consumer error")
			if e.IsFatal() {
				return
			}
		}
	}
}

// Close stops the consumers, flushes pending publishes and closes the producer.
func (k *KafkaPubSub) Close() error {
	k.mu.Lock()
	cancels, consumers := k.cancels, k.consumers
	k.cancels, k.consumers = nil, nil
	k.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	k.wg.Wait()

	var firstErr error
	for _, c := range consumers {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	k.producer.Flush(flushTimeoutMs)
	k.producer.Close()
	<-k.reports
	return firstErr
}
