package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/segmentio/kafka-go"
)

// EnvelopeSynthesisRequest is the envelope type for synthesis requests.
const EnvelopeSynthesisRequest = "synthesis_request"

// Envelope is the wire format for messages on the synthesis topic.
type Envelope struct {
	Type          string          `json:"type"`
	CorrelationID string          `json:"correlation_id"`
	Timestamp     time.Time       `json:"timestamp"`
	Payload       json.RawMessage `json:"payload"`
}

// EncodeRequest wraps req in an Envelope.
func EncodeRequest(req SynthesisRequest) ([]byte, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	return json.Marshal(Envelope{
		Type:          EnvelopeSynthesisRequest,
		CorrelationID: req.RequestID,
		Timestamp:     req.RequestedAt,
		Payload:       payload,
	})
}

// DecodeRequest unwraps an Envelope carrying a synthesis request.
func DecodeRequest(data []byte) (SynthesisRequest, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return SynthesisRequest{}, fmt.Errorf("unmarshal envelope: %w", err)
	}
	if env.Type != EnvelopeSynthesisRequest {
		return SynthesisRequest{}, fmt.Errorf("unexpected envelope type %q", env.Type)
	}
	var req SynthesisRequest
	if err := json.Unmarshal(env.Payload, &req); err != nil {
		return SynthesisRequest{}, fmt.Errorf("unmarshal payload: %w", err)
	}
	if req.GroupID == "" {
		return SynthesisRequest{}, fmt.Errorf("envelope %s has no group_id", env.CorrelationID)
	}
	return req, nil
}

func splitBrokers(brokers string) []string {
	var out []string
	for _, b := range strings.Split(brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

// KafkaPublisher writes synthesis requests to a Kafka topic keyed by group.
type KafkaPublisher struct {
	writer *kafka.Writer
}

// NewKafkaPublisher creates a publisher for topic on the given brokers.
func NewKafkaPublisher(brokers, topic string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(splitBrokers(brokers)...),
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireOne,
			AllowAutoTopicCreation: true,
			WriteTimeout:           10 * time.Second,
		},
	}
}

// Publish writes req. Requests for one group land on the same partition.
func (p *KafkaPublisher) Publish(ctx context.Context, req SynthesisRequest) error {
	stamp(&req)
	value, err := EncodeRequest(req)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(req.GroupID),
		Value: value,
		Time:  req.RequestedAt,
	})
}

// Close flushes and closes the writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// KafkaConsumer reads synthesis requests from a Kafka topic.
type KafkaConsumer struct {
	reader   messageReader
	topic    string
	retry    backoff.BackOff
	messages chan SynthesisRequest
	done     chan struct{}
	once     sync.Once
}

// NewKafkaConsumer creates a consumer-group reader for topic.
func NewKafkaConsumer(brokers, consumerGroup, topic string) *KafkaConsumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  splitBrokers(brokers),
		Topic:    topic,
		GroupID:  consumerGroup,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	retry := backoff.NewExponentialBackOff()
	retry.InitialInterval = 250 * time.Millisecond
	retry.MaxInterval = 10 * time.Second
	return newKafkaConsumer(reader, topic, retry)
}

func newKafkaConsumer(reader messageReader, topic string, retry backoff.BackOff) *KafkaConsumer {
	return &KafkaConsumer{
		reader:   reader,
		topic:    topic,
		retry:    retry,
		messages: make(chan SynthesisRequest, 100),
		done:     make(chan struct{}),
	}
}

// Start begins reading in the background until ctx is cancelled.
func (c *KafkaConsumer) Start(ctx context.Context) error {
	go func() {
		defer close(c.messages)
		for {
			msg, err := c.reader.ReadMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				select {
				case <-c.done:
					return
				default:
				}
				wait := c.retry.NextBackOff()
				slog.Warn("KafkaConsumer: read error", "topic", c.topic, "retryIn", wait, "error", err)
				select {
				case <-time.After(wait):
				case <-ctx.Done():
					return
				case <-c.done:
					return
				}
				continue
			}
			c.retry.Reset()
			req, err := DecodeRequest(msg.Value)
			if err != nil {
				slog.Warn("KafkaConsumer: dropping malformed message", "offset", msg.Offset, "error", err)
				continue
			}
			select {
			case c.messages <- req:
			case <-ctx.Done():
				return
			case <-c.done:
				return
			}
		}
	}()
	return nil
}

// Messages returns the channel of decoded requests.
func (c *KafkaConsumer) Messages() <-chan SynthesisRequest {
	return c.messages
}

// Close stops the reader.
func (c *KafkaConsumer) Close() error {
	var err error
	c.once.Do(func() {
		close(c.done)
		err = c.reader.Close()
	})
	return err
}
