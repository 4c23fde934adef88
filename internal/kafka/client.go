// Package kafka binds the broker transport to Kafka through sarama: an
// idempotent sync producer and one consumer group per subscription.
package kafka

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/rs/zerolog/log"

	"github.com/example/order-choreography/internal/broker"
)

// Config holds runtime configuration for Kafka.
type Config struct {
	Brokers  []string
	ClientID string
	TLS      bool
	// Oldest makes new groups start from the beginning of each topic.
	Oldest bool
}

func NewSaramaConfig(cfg Config) *sarama.Config {
	scfg := sarama.NewConfig()
	scfg.Version = sarama.V3_7_0_0 // Kafka 3.7 (KRaft)
	if cfg.ClientID != "" {
		scfg.ClientID = cfg.ClientID
	}
	scfg.Producer.Return.Successes = true
	scfg.Producer.Idempotent = true
	scfg.Producer.RequiredAcks = sarama.WaitForAll
	scfg.Producer.Partitioner = sarama.NewHashPartitioner
	scfg.Net.MaxOpenRequests = 1
	scfg.Consumer.Return.Errors = true
	scfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	if cfg.Oldest {
		scfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	}
	scfg.Consumer.Offsets.AutoCommit.Enable = true
	scfg.Metadata.Retry.Max = 5
	scfg.Metadata.Retry.Backoff = 2 * time.Second
	if cfg.TLS {
		scfg.Net.TLS.Enable = true
		scfg.Net.TLS.Config = &tls.Config{InsecureSkipVerify: true}
	}
	return scfg
}

func MustEnv(name string, def string) string {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	return v
}

func LoadConfigFromEnv() Config {
	return Config{
		Brokers:  splitAndTrim(MustEnv("KAFKA_BROKERS", "kafka:9092")),
		ClientID: MustEnv("KAFKA_CLIENT_ID", MustEnv("SERVICE_NAME", "order-choreography")),
		TLS:      MustEnv("KAFKA_TLS", "false") == "true",
		Oldest:   MustEnv("KAFKA_OFFSET_OLDEST", "true") == "true",
	}
}

func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	res := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			res = append(res, p)
		}
	}
	return res
}

// Record headers carrying broker.Message identity.
const (
	HeaderMessageID     = "x-message-id"
	HeaderCorrelationID = "x-correlation-id"
)

// Transport implements broker.Transport on Kafka.
type Transport struct {
	producer sarama.SyncProducer
	newGroup func(group string) (sarama.ConsumerGroup, error)
	retry    time.Duration

	mu     sync.Mutex
	groups []sarama.ConsumerGroup
}

// NewTransport dials the cluster and starts the producer.
func NewTransport(cfg Config) (*Transport, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka: no brokers configured")
	}
	p, err := sarama.NewSyncProducer(cfg.Brokers, NewSaramaConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return NewTransportWith(p, func(group string) (sarama.ConsumerGroup, error) {
		return sarama.NewConsumerGroup(cfg.Brokers, group, NewSaramaConfig(cfg))
	}), nil
}

// NewTransportWith assembles a transport from an existing producer and a
// consumer group factory.
func NewTransportWith(p sarama.SyncProducer, newGroup func(group string) (sarama.ConsumerGroup, error)) *Transport {
	return &Transport{producer: p, newGroup: newGroup, retry: time.Second}
}

// Publish sends msg to its topic keyed by msg.Key.
func (t *Transport) Publish(ctx context.Context, msg broker.Message) error {
	pm := &sarama.ProducerMessage{
		Topic:   msg.Destination,
		Value:   sarama.ByteEncoder(msg.Body),
		Headers: toRecordHeaders(msg),
	}
	if msg.Key != "" {
		pm.Key = sarama.StringEncoder(msg.Key)
	}
	partition, offset, err := t.producer.SendMessage(pm)
	if err != nil {
		return fmt.Errorf("kafka publish %s: %w", msg.Destination, err)
	}
	log.Ctx(ctx).Debug().Str("topic", msg.Destination).Str("key", msg.Key).Int32("partition", partition).Int64("offset", offset).Msg("published")
	return nil
}

// Subscribe joins group on topic and consumes until ctx is done. Sessions
// that end on rebalance or handler failure are rejoined.
func (t *Transport) Subscribe(ctx context.Context, topic, group string, h broker.Handler) error {
	cg, err := t.newGroup(group)
	if err != nil {
		return fmt.Errorf("kafka consumer group %s: %w", group, err)
	}
	t.mu.Lock()
	t.groups = append(t.groups, cg)
	t.mu.Unlock()
	defer cg.Close()

	go func() {
		for err := range cg.Errors() {
			log.Error().Err(err).Str("topic", topic).Str("group", group).Msg("consumer group error")
		}
	}()

	handler := &ConsumerHandler{Handle: h}
	for {
		if err := cg.Consume(ctx, []string{topic}, handler); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return nil
			}
			log.Error().Err(err).Str("topic", topic).Msg("consume error")
		}
		if ctx.Err() != nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(t.retry):
		}
	}
}

func (t *Transport) DeadLetter(topic string) string { return topic + broker.DeadLetterSuffix }

func (t *Transport) Close() error {
	t.mu.Lock()
	groups := t.groups
	t.groups = nil
	t.mu.Unlock()
	var errs []error
	for _, g := range groups {
		if err := g.Close(); err != nil && !errors.Is(err, sarama.ErrClosedConsumerGroup) {
			errs = append(errs, err)
		}
	}
	if err := t.producer.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// ConsumerHandler feeds claimed messages to a broker handler. Offsets are
// marked only after the handler succeeds; a failure ends the claim so the
// session restarts from the last marked offset.
type ConsumerHandler struct {
	Handle broker.Handler
}

func (h *ConsumerHandler) Setup(_ sarama.ConsumerGroupSession) error   { return nil }
func (h *ConsumerHandler) Cleanup(_ sarama.ConsumerGroupSession) error { return nil }
func (h *ConsumerHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case m, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			// started handlers finish even when the session is revoked
			if err := h.Handle(context.WithoutCancel(sess.Context()), FromConsumerMessage(m)); err != nil {
				log.Error().Err(err).Str("topic", m.Topic).Int32("partition", m.Partition).Int64("offset", m.Offset).Msg("consumer handler error")
				return err
			}
			sess.MarkMessage(m, "")
		case <-sess.Context().Done():
			return nil
		}
	}
}

// FromConsumerMessage converts a sarama record into a broker.Message.
func FromConsumerMessage(m *sarama.ConsumerMessage) broker.Message {
	msg := broker.Message{
		Destination: m.Topic,
		Key:         string(m.Key),
		Body:        m.Value,
	}
	for _, rh := range m.Headers {
		if rh == nil {
			continue
		}
		k, v := string(rh.Key), string(rh.Value)
		switch k {
		case HeaderMessageID:
			msg.ID = v
		case HeaderCorrelationID:
			msg.CorrelationID = v
		default:
			if msg.Headers == nil {
				msg.Headers = map[string]string{}
			}
			msg.Headers[k] = v
		}
	}
	return msg
}

func toRecordHeaders(msg broker.Message) []sarama.RecordHeader {
	out := make([]sarama.RecordHeader, 0, len(msg.Headers)+2)
	if msg.ID != "" {
		out = append(out, sarama.RecordHeader{Key: []byte(HeaderMessageID), Value: []byte(msg.ID)})
	}
	if msg.CorrelationID != "" {
		out = append(out, sarama.RecordHeader{Key: []byte(HeaderCorrelationID), Value: []byte(msg.CorrelationID)})
	}
	for k, v := range msg.Headers {
		out = append(out, sarama.RecordHeader{Key: []byte(k), Value: []byte(v)})
	}
	return out
}
