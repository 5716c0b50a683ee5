package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
	pkgconfig "github.com/weiawesome/roomchat/pkg/config"
	"github.com/weiawesome/roomchat/pkg/database"
	"github.com/weiawesome/roomchat/pkg/pubsub"
	"github.com/weiawesome/roomchat/pkg/storage"
)

type Config struct {
	Server    ServerConfig
	WebSocket WebSocketConfig
	Store     StoreConfig
	Cache     CacheConfig
	Presence  PresenceConfig
	Relay     pubsub.Config
	Search    SearchConfig
	Avatar    AvatarConfig
	Redis     database.RedisConfig
	Log       LogConfig

	v *viper.Viper
}

type ServerConfig struct {
	Host       string
	Port       int
	InstanceID string `mapstructure:"instance_id"`
}

type WebSocketConfig struct {
	PingInterval   time.Duration `mapstructure:"ping_interval"`
	PongWait       time.Duration `mapstructure:"pong_wait"`
	WriteWait      time.Duration `mapstructure:"write_wait"`
	MaxMessageSize int64         `mapstructure:"max_message_size"` // websocket frame read limit
	MaxBodyBytes   int           `mapstructure:"max_body_bytes"`   // send_message body cap
	SendBuffer     int           `mapstructure:"send_buffer"`
}

// StoreConfig selects the message log backend. Driver is one of
// "memory", "sql" or "cassandra".
type StoreConfig struct {
	Driver    string
	Timeout   time.Duration
	IDFormat  string `mapstructure:"id_format"` // ulid, uuid, ksuid, nanoid, cuid2
	SQL       database.Config
	Cassandra CassandraConfig
}

type CassandraConfig struct {
	Hosts          []string
	Keyspace       string
	Username       string
	Password       string
	Consistency    string
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	Timeout        time.Duration
	NumConns       int `mapstructure:"num_conns"`
}

type CacheConfig struct {
	Enabled bool
	Prefix  string
	TTL     time.Duration
}

type PresenceConfig struct {
	MirrorEnabled     bool `mapstructure:"mirror_enabled"`
	Prefix            string
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	KeyTTL            time.Duration `mapstructure:"key_ttl"`
}

// SearchConfig enables full-text message search backed by Elasticsearch.
type SearchConfig struct {
	Enabled   bool
	Addresses []string
	Username  string
	Password  string
	Index     string
	QueueSize int `mapstructure:"queue_size"`
}

type AvatarConfig struct {
	Prefix     string
	URLExpires time.Duration `mapstructure:"url_expires"`
	Storage    storage.Config
}

type LogConfig struct {
	Level  string
	Pretty bool
}

func Load() (*Config, error) {
	v, err := pkgconfig.Load(pkgconfig.GetEnv("CONFIG_PATH", "./config"), "config")
	if err != nil {
		return nil, err
	}

	// Set defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 5000)
	v.SetDefault("server.instance_id", "")
	v.SetDefault("websocket.ping_interval", "30s")
	v.SetDefault("websocket.pong_wait", "60s")
	v.SetDefault("websocket.write_wait", "10s")
	v.SetDefault("websocket.max_message_size", 1<<20)
	v.SetDefault("websocket.max_body_bytes", 4096)
	v.SetDefault("websocket.send_buffer", 256)
	v.SetDefault("store.driver", "sql")
	v.SetDefault("store.timeout", "3s")
	v.SetDefault("store.id_format", "ulid")
	v.SetDefault("store.sql.driver", "sqlite")
	v.SetDefault("store.sql.file_path", "roomchat.db")
	v.SetDefault("store.sql.host", "localhost")
	v.SetDefault("store.sql.port", 5432)
	v.SetDefault("store.sql.sslmode", "disable")
	v.SetDefault("store.sql.log_level", "silent")
	v.SetDefault("store.cassandra.hosts", []string{"localhost:9042"})
	v.SetDefault("store.cassandra.keyspace", "roomchat")
	v.SetDefault("store.cassandra.consistency", "LOCAL_QUORUM")
	v.SetDefault("store.cassandra.connect_timeout", "10s")
	v.SetDefault("store.cassandra.timeout", "3s")
	v.SetDefault("store.cassandra.num_conns", 2)
	v.SetDefault("cache.enabled", false)
	v.SetDefault("cache.prefix", "chat:history")
	v.SetDefault("cache.ttl", "30s")
	v.SetDefault("presence.mirror_enabled", false)
	v.SetDefault("presence.prefix", "chat:presence")
	v.SetDefault("presence.heartbeat_interval", "10s")
	v.SetDefault("presence.key_ttl", "30s")
	v.SetDefault("relay.driver", "none")
	v.SetDefault("relay.kafka.brokers", "localhost:9092")
	v.SetDefault("relay.kafka.topic", "chat-relay")
	v.SetDefault("relay.kafka.group_id", "roomchat-relay")
	v.SetDefault("relay.kafka.partitions", 8)
	v.SetDefault("relay.kafka.replication_factor", 1)
	v.SetDefault("search.enabled", false)
	v.SetDefault("search.addresses", []string{"http://localhost:9200"})
	v.SetDefault("search.index", "chat-messages")
	v.SetDefault("search.queue_size", 1024)
	v.SetDefault("avatar.prefix", "avatars")
	v.SetDefault("avatar.url_expires", "1h")
	v.SetDefault("avatar.storage.driver", "local")
	v.SetDefault("avatar.storage.local.base_path", "./static")
	v.SetDefault("avatar.storage.local.url_prefix", "/static")
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)

	// Override from environment
	v.BindEnv("server.port", "PORT")
	v.BindEnv("server.instance_id", "INSTANCE_ID")
	v.BindEnv("store.driver", "STORE_DRIVER")
	v.BindEnv("store.sql.driver", "DB_DRIVER")
	v.BindEnv("store.sql.host", "DB_HOST")
	v.BindEnv("store.sql.port", "DB_PORT")
	v.BindEnv("store.sql.user", "DB_USER")
	v.BindEnv("store.sql.password", "DB_PASSWORD")
	v.BindEnv("store.sql.dbname", "DB_NAME")
	v.BindEnv("store.sql.file_path", "DB_FILE_PATH")
	v.BindEnv("store.cassandra.keyspace", "CASSANDRA_KEYSPACE")
	v.BindEnv("store.cassandra.username", "CASSANDRA_USERNAME")
	v.BindEnv("store.cassandra.password", "CASSANDRA_PASSWORD")
	v.BindEnv("relay.driver", "RELAY_DRIVER")
	v.BindEnv("relay.kafka.brokers", "KAFKA_BROKERS")
	v.BindEnv("search.enabled", "SEARCH_ENABLED")
	v.BindEnv("search.username", "ELASTICSEARCH_USERNAME")
	v.BindEnv("search.password", "ELASTICSEARCH_PASSWORD")
	v.BindEnv("avatar.storage.driver", "AVATAR_STORAGE_DRIVER")
	v.BindEnv("avatar.storage.s3.bucket", "AVATAR_S3_BUCKET")
	v.BindEnv("avatar.storage.s3.endpoint", "AVATAR_S3_ENDPOINT")
	v.BindEnv("redis.address", "REDIS_ADDRESS")
	v.BindEnv("redis.password", "REDIS_PASSWORD")
	v.BindEnv("log.level", "LOG_LEVEL")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	// CASSANDRA_HOSTS: comma-separated, e.g. "cassandra:9042" or "host1:9042,host2:9042"
	if env := pkgconfig.GetEnv("CASSANDRA_HOSTS", ""); env != "" {
		cfg.Store.Cassandra.Hosts = splitHosts(env)
	}

	// ELASTICSEARCH_ADDRESSES: comma-separated
	if env := pkgconfig.GetEnv("ELASTICSEARCH_ADDRESSES", ""); env != "" {
		cfg.Search.Addresses = splitHosts(env)
	}

	// Parse durations
	cfg.WebSocket.PingInterval = parseDuration(v, "websocket.ping_interval", 30*time.Second)
	cfg.WebSocket.PongWait = parseDuration(v, "websocket.pong_wait", 60*time.Second)
	cfg.WebSocket.WriteWait = parseDuration(v, "websocket.write_wait", 10*time.Second)
	cfg.Store.Timeout = parseDuration(v, "store.timeout", 3*time.Second)
	cfg.Store.SQL.ConnMaxLifetime = parseDuration(v, "store.sql.conn_max_lifetime", 30*time.Minute)
	cfg.Store.SQL.SlowThreshold = parseDuration(v, "store.sql.slow_threshold", 200*time.Millisecond)
	cfg.Store.Cassandra.ConnectTimeout = parseDuration(v, "store.cassandra.connect_timeout", 10*time.Second)
	cfg.Store.Cassandra.Timeout = parseDuration(v, "store.cassandra.timeout", 3*time.Second)
	cfg.Cache.TTL = parseDuration(v, "cache.ttl", 30*time.Second)
	cfg.Presence.HeartbeatInterval = parseDuration(v, "presence.heartbeat_interval", 10*time.Second)
	cfg.Presence.KeyTTL = parseDuration(v, "presence.key_ttl", 30*time.Second)
	cfg.Avatar.URLExpires = parseDuration(v, "avatar.url_expires", time.Hour)

	cfg.v = v
	return &cfg, nil
}

// WatchLogLevel calls fn with log.level each time the config file changes.
// It reports false when no config file was loaded.
func (c *Config) WatchLogLevel(fn func(level string)) bool {
	if c.v == nil {
		return false
	}
	return pkgconfig.Watch(c.v, func(v *viper.Viper) {
		fn(v.GetString("log.level"))
	})
}

func parseDuration(v *viper.Viper, key string, defaultVal time.Duration) time.Duration {
	str := v.GetString(key)
	d, err := time.ParseDuration(str)
	if err != nil {
		return defaultVal
	}
	return d
}

func splitHosts(s string) []string {
	var hosts []string
	for _, h := range strings.Split(s, ",") {
		if h = strings.TrimSpace(h); h != "" {
			hosts = append(hosts, h)
		}
	}
	return hosts
}
