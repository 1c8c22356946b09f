package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

const (
	RulesBackendDir    = "dir"
	RulesBackendSQLite = "sqlite"
)

type Config struct {
	Service ServiceConfig `mapstructure:"service"`
	Log     LogConfig     `mapstructure:"log"`
	Rules   RulesConfig   `mapstructure:"rules"`
	Storage StorageConfig `mapstructure:"storage"`
	Output  OutputConfig  `mapstructure:"output"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Compare CompareConfig `mapstructure:"compare"`
	Ingest  IngestConfig  `mapstructure:"ingest"`
	Feature FeatureConfig `mapstructure:"feature"`
}

type ServiceConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

type LogConfig struct {
	Level    string `mapstructure:"level"`
	Encoding string `mapstructure:"encoding"`
}

type RulesConfig struct {
	Backend string `mapstructure:"backend"`
	Dir     string `mapstructure:"dir"`
	// ImportOnStart copies Dir into the sqlite store at startup.
	ImportOnStart bool `mapstructure:"import_on_start"`
}

type StorageConfig struct {
	SQLite SQLiteConfig `mapstructure:"sqlite"`
}

type SQLiteConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

type OutputConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Dir     string `mapstructure:"dir"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Address string `mapstructure:"address"`
}

type CompareConfig struct {
	ReportTrailingSegments bool `mapstructure:"report_trailing_segments"`
}

type IngestConfig struct {
	Socket   SocketConfig   `mapstructure:"socket"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	RabbitMQ RabbitMQConfig `mapstructure:"rabbitmq"`
}

type SocketConfig struct {
	Enabled          bool   `mapstructure:"enabled"`
	Network          string `mapstructure:"network"`
	Address          string `mapstructure:"address"`
	UnixSocketPath   string `mapstructure:"unix_socket_path"`
	AuthToken        string `mapstructure:"auth_token"`
	MaxInflight      int    `mapstructure:"max_inflight"`
	GlobalQueueLimit int    `mapstructure:"global_queue_limit"`
	MaxDocumentBytes int    `mapstructure:"max_document_bytes"`
}

type KafkaConfig struct {
	Enabled        bool       `mapstructure:"enabled"`
	Brokers        []string   `mapstructure:"brokers"`
	Topics         []string   `mapstructure:"topics"`
	GroupID        string     `mapstructure:"group_id"`
	ClientID       string     `mapstructure:"client_id"`
	ReplyTopic     string     `mapstructure:"reply_topic"`
	WorkerCount    int        `mapstructure:"worker_count"`
	QueueCapacity  int        `mapstructure:"queue_capacity"`
	MaxPollRecords int        `mapstructure:"max_poll_records"`
	SASL           SASLConfig `mapstructure:"sasl"`
	TLS            TLSConfig  `mapstructure:"tls"`
}

type SASLConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Mechanism string `mapstructure:"mechanism"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
}

type TLSConfig struct {
	Enabled            bool   `mapstructure:"enabled"`
	InsecureSkipVerify bool   `mapstructure:"insecure_skip_verify"`
	ServerName         string `mapstructure:"server_name"`
	CAFile             string `mapstructure:"ca_file"`
	CertFile           string `mapstructure:"cert_file"`
	KeyFile            string `mapstructure:"key_file"`
}

type RabbitMQConfig struct {
	Enabled         bool      `mapstructure:"enabled"`
	URL             string    `mapstructure:"url"`
	Endpoints       []string  `mapstructure:"endpoints"`
	Exchange        string    `mapstructure:"exchange"`
	Queue           string    `mapstructure:"queue"`
	RoutingKeys     []string  `mapstructure:"routing_keys"`
	ReplyExchange   string    `mapstructure:"reply_exchange"`
	ReplyRoutingKey string    `mapstructure:"reply_routing_key"`
	ConsumerTag     string    `mapstructure:"consumer_tag"`
	PrefetchCount   int       `mapstructure:"prefetch_count"`
	ManualAck       bool      `mapstructure:"manual_ack"`
	Workers         int       `mapstructure:"workers"`
	DeliveryQueue   int       `mapstructure:"delivery_queue"`
	Username        string    `mapstructure:"username"`
	Password        string    `mapstructure:"password"`
	TLS             TLSConfig `mapstructure:"tls"`
}

type FeatureConfig struct {
	AllowMultipleAdapters bool `mapstructure:"allow_multiple_adapters"`
}

func Load(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("x12ack")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("service.name", "x12ackd")
	v.SetDefault("service.environment", "production")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.encoding", "json")
	v.SetDefault("rules.backend", RulesBackendDir)
	v.SetDefault("rules.dir", "rules")
	v.SetDefault("storage.sqlite.path", "data/x12ack.db")
	v.SetDefault("output.dir", "reports")
	v.SetDefault("metrics.address", ":9464")
	v.SetDefault("compare.report_trailing_segments", false)
	v.SetDefault("ingest.socket.network", "tcp")
	v.SetDefault("ingest.socket.address", "127.0.0.1:7400")
	v.SetDefault("ingest.socket.max_document_bytes", 4<<20)
	v.SetDefault("ingest.rabbitmq.manual_ack", true)
	v.SetDefault("ingest.rabbitmq.prefetch_count", 16)
	v.SetDefault("ingest.rabbitmq.workers", 4)
	v.SetDefault("ingest.rabbitmq.delivery_queue", 64)
	v.SetDefault("feature.allow_multiple_adapters", true)
}

func (c Config) Validate() error {
	if c.Service.Name == "" {
		return fmt.Errorf("service.name is required")
	}
	switch c.Rules.Backend {
	case RulesBackendDir:
		if c.Rules.Dir == "" {
			return fmt.Errorf("rules.dir is required for the dir backend")
		}
	case RulesBackendSQLite:
		if !c.Storage.SQLite.Enabled {
			return fmt.Errorf("rules.backend=sqlite requires storage.sqlite.enabled")
		}
		if c.Rules.ImportOnStart && c.Rules.Dir == "" {
			return fmt.Errorf("rules.import_on_start requires rules.dir")
		}
	default:
		return fmt.Errorf("unsupported rules.backend %q", c.Rules.Backend)
	}
	if c.Storage.SQLite.Enabled && c.Storage.SQLite.Path == "" {
		return fmt.Errorf("storage.sqlite.path is required")
	}
	if c.Output.Enabled && c.Output.Dir == "" {
		return fmt.Errorf("output.dir is required")
	}
	if c.Metrics.Enabled && c.Metrics.Address == "" {
		return fmt.Errorf("metrics.address is required")
	}
	if c.Ingest.Socket.Enabled && c.Ingest.Socket.MaxDocumentBytes <= 0 {
		return fmt.Errorf("ingest.socket.max_document_bytes must be > 0")
	}
	if k := c.Ingest.Kafka; k.Enabled {
		if len(k.Brokers) == 0 || len(k.Topics) == 0 || k.GroupID == "" {
			return fmt.Errorf("ingest.kafka requires brokers, topics and group_id")
		}
		if k.SASL.Enabled && k.SASL.Mechanism == "" {
			return fmt.Errorf("ingest.kafka.sasl.mechanism is required")
		}
	}
	if r := c.Ingest.RabbitMQ; r.Enabled {
		if r.URL == "" && len(r.Endpoints) == 0 {
			return fmt.Errorf("ingest.rabbitmq requires url or endpoints")
		}
		if r.Exchange == "" || r.Queue == "" {
			return fmt.Errorf("ingest.rabbitmq requires exchange and queue")
		}
	}
	if !c.Feature.AllowMultipleAdapters {
		enabled := 0
		if c.Ingest.Socket.Enabled {
			enabled++
		}
		if c.Ingest.Kafka.Enabled {
			enabled++
		}
		if c.Ingest.RabbitMQ.Enabled {
			enabled++
		}
		if enabled > 1 {
			return fmt.Errorf("multiple adapters enabled while feature.allow_multiple_adapters=false")
		}
	}
	return nil
}
