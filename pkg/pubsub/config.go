package pubsub

import (
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// KafkaConfig holds Kafka-specific configuration.
type KafkaConfig struct {
	Brokers           string `mapstructure:"brokers"`
	Topic             string `mapstructure:"topic"`
	GroupID           string `mapstructure:"group_id"`
	Partitions        int    `mapstructure:"partitions"`
	ReplicationFactor int    `mapstructure:"replication_factor"`
}

// Config selects the relay transport. Driver is "redis", "kafka" or "none".
type Config struct {
	Driver string      `mapstructure:"driver"`
	Kafka  KafkaConfig `mapstructure:"kafka"`
}

// New builds the transport named by cfg.Driver. It returns nil, nil for
// "none". The redis driver shares client and leaves it open on Close.
// instanceID keeps Kafka consumer groups per instance so every instance
// receives every broadcast.
func New(cfg Config, client *redis.Client, instanceID string) (PubSub, error) {
	switch cfg.Driver {
	case "", "none":
		return nil, nil
	case "redis":
		if client == nil {
			return nil, errors.New("redis relay requires a redis client")
		}
		return NewRedisPubSub(client), nil
	case "kafka":
		kcfg := cfg.Kafka
		if instanceID != "" {
			kcfg.GroupID = fmt.Sprintf("%s-%s", kcfg.GroupID, instanceID)
		}
		return NewKafkaPubSub(kcfg)
	default:
		return nil, fmt.Errorf("unsupported pubsub driver: %q", cfg.Driver)
	}
}
