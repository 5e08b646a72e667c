package outbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"
)

type KafkaConfig struct {
	Brokers       []string
	ClientID      string
	Linger        time.Duration
	RecordRetries int
}

// KafkaPublisher produces synchronously so the relay only marks an entry
// processed once the broker acknowledged it.
type KafkaPublisher struct {
	client *kgo.Client
	logger *zap.Logger
}

func NewKafkaPublisher(cfg KafkaConfig, logger *zap.Logger) (*KafkaPublisher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.ProducerBatchCompression(kgo.Lz4Compression()),
	}
	if cfg.ClientID != "" {
		opts = append(opts, kgo.ClientID(cfg.ClientID))
	}
	if cfg.Linger > 0 {
		opts = append(opts, kgo.ProducerLinger(cfg.Linger))
	}
	if cfg.RecordRetries > 0 {
		opts = append(opts, kgo.RecordRetries(cfg.RecordRetries))
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	return &KafkaPublisher{client: client, logger: logger}, nil
}

func (p *KafkaPublisher) Publish(ctx context.Context, msg Message) error {
	rec := &kgo.Record{Topic: msg.Topic, Key: []byte(msg.Key), Value: msg.Value}
	for k, v := range msg.Headers {
		rec.Headers = append(rec.Headers, kgo.RecordHeader{Key: k, Value: []byte(v)})
	}
	if err := p.client.ProduceSync(ctx, rec).FirstErr(); err != nil {
		return fmt.Errorf("produce to %s: %w", msg.Topic, err)
	}
	p.logger.Debug("event published", zap.String("topic", msg.Topic), zap.String("key", msg.Key))
	return nil
}

func (p *KafkaPublisher) Ping(ctx context.Context) error {
	return p.client.Ping(ctx)
}

func (p *KafkaPublisher) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := p.client.Flush(ctx); err != nil {
		p.logger.Warn("flush on close failed", zap.Error(err))
	}
	p.client.Close()
}

// TopicSpec describes a topic the relay writes to.
type TopicSpec struct {
	Name        string
	Partitions  int32
	Replication int16
	RetentionMS string
}

// EnsureTopics creates missing topics. Existing ones are left as they are.
func (p *KafkaPublisher) EnsureTopics(ctx context.Context, specs []TopicSpec) error {
	admin := kadm.NewClient(p.client)
	for _, s := range specs {
		configs := map[string]*string{}
		if s.RetentionMS != "" {
			ret := s.RetentionMS
			configs["retention.ms"] = &ret
		}
		resp, err := admin.CreateTopics(ctx, s.Partitions, s.Replication, configs, s.Name)
		if err != nil {
			return fmt.Errorf("create topic %s: %w", s.Name, err)
		}
		for _, r := range resp {
			switch {
			case r.Err == nil:
				p.logger.Info("topic created", zap.String("topic", r.Topic), zap.Int32("partitions", s.Partitions))
			case errors.Is(r.Err, kerr.TopicAlreadyExists):
				p.logger.Debug("topic exists", zap.String("topic", r.Topic))
			default:
				return fmt.Errorf("create topic %s: %w", r.Topic, r.Err)
			}
		}
	}
	return nil
}
