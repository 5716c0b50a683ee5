package store

import (
	"fmt"

	"github.com/weiawesome/roomchat/internal/config"
)

// Open builds the backend named by cfg.Driver.
func Open(cfg config.StoreConfig) (MessageStore, error) {
	switch cfg.Driver {
	case "memory":
		return NewMemoryStore(), nil
	case "sql":
		return NewGormStore(&cfg.SQL)
	case "cassandra":
		return NewCassandraStore(cfg.Cassandra)
	default:
		return nil, fmt.Errorf("unsupported store driver: %q", cfg.Driver)
	}
}
