package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds all runtime configuration for grid-engine.
type Config struct {
	DatabaseURL string `env:"DATABASE_URL,required"`
	RedisURL    string `env:"REDIS_URL" envDefault:"redis://localhost:6379/0"`

	// MQTT broker connection and subscription
	MQTTBrokerURL   string        `env:"MQTT_BROKER_URL"`
	MQTTClientID    string        `env:"MQTT_CLIENT_ID" envDefault:"grid-engine"`
	MQTTTopics      string        `env:"MQTT_TOPICS" envDefault:"MQTT_RT_DATA,MQTT_ENY_NOW,MQTT_DAY_DATA,MQTT_ENY_FRZ,CCCL/PURBACHAL/ENV_01,CCCL/PURBACHAL/ENM_01"`
	MQTTQoS         byte          `env:"MQTT_QOS" envDefault:"0"`
	MQTTUsername    string        `env:"MQTT_USERNAME"`
	MQTTPassword    string        `env:"MQTT_PASSWORD"`
	MQTTProtocol    string        `env:"MQTT_PROTOCOL" envDefault:"3.1.1"`
	MQTTCleanSess   bool          `env:"MQTT_CLEAN_SESSION" envDefault:"true"`
	MQTTKeepalive   time.Duration `env:"MQTT_KEEPALIVE" envDefault:"30s"`
	MQTTMaxInflight int           `env:"MQTT_MAX_INFLIGHT" envDefault:"100"`
	MQTTReconnMin   time.Duration `env:"MQTT_RECONNECT_MIN" envDefault:"1s"`
	MQTTReconnMax   time.Duration `env:"MQTT_RECONNECT_MAX" envDefault:"60s"`

	MQTTTLSEnabled  bool   `env:"MQTT_TLS_ENABLED" envDefault:"false"`
	MQTTTLSCAFile   string `env:"MQTT_TLS_CA_FILE"`
	MQTTTLSCertFile string `env:"MQTT_TLS_CERT_FILE"`
	MQTTTLSKeyFile  string `env:"MQTT_TLS_KEY_FILE"`
	MQTTTLSInsecure bool   `env:"MQTT_TLS_INSECURE_SKIP_VERIFY" envDefault:"false"`

	// Ingest back-pressure and reassembly
	IngestQueueCapacity int           `env:"INGEST_QUEUE_CAPACITY" envDefault:"10000"`
	IngestDropOnFull    bool          `env:"INGEST_DROP_ON_FULL" envDefault:"true"`
	ReassemblyBufferTTL time.Duration `env:"REASSEMBLY_BUFFER_TTL" envDefault:"300s"`
	FanoutWorkers       int           `env:"FANOUT_WORKERS" envDefault:"4"`
	FanoutTimeout       time.Duration `env:"FANOUT_TIMEOUT" envDefault:"200ms"`

	// Validation strictness
	RequiredTopics        string `env:"REQUIRED_TOPICS" envDefault:"MQTT_RT_DATA,MQTT_ENY_NOW,MQTT_DAY_DATA,MQTT_ENY_FRZ,CCCL/PURBACHAL/ENV_01"`
	RequiredPayloadFields string `env:"REQUIRED_PAYLOAD_FIELDS"`
	RequireDeviceIDTopics string `env:"REQUIRE_DEVICE_ID_TOPICS"`
	DefaultCollection     string `env:"DEFAULT_COLLECTION" envDefault:"telemetry_events"`

	// TCP protocol server
	TCPAddr                string        `env:"TCP_ADDR" envDefault:":9000"`
	TCPBacklog             int           `env:"TCP_BACKLOG" envDefault:"128"`
	TCPRecvBufferBytes     int           `env:"TCP_RECV_BUFFER_BYTES" envDefault:"512"`
	TCPMaxClients          int           `env:"TCP_MAX_CLIENTS" envDefault:"100"`
	TCPClientTimeout       time.Duration `env:"TCP_CLIENT_TIMEOUT" envDefault:"120s"`
	TCPTimeoutMaxRetries   int           `env:"TCP_TIMEOUT_MAX_RETRIES" envDefault:"3"`
	TCPTimeoutBackoffBase  time.Duration `env:"TCP_TIMEOUT_BACKOFF_BASE" envDefault:"1s"`
	TCPTimeoutBackoffMax   time.Duration `env:"TCP_TIMEOUT_BACKOFF_MAX" envDefault:"10s"`
	TCPBatchSize           int           `env:"TCP_BATCH_SIZE" envDefault:"200"`
	TCPBatchFlush          time.Duration `env:"TCP_BATCH_FLUSH" envDefault:"500ms"`
	TCPWriterQueueCapacity int           `env:"TCP_WRITER_QUEUE_CAPACITY" envDefault:"5000"`

	// Retention TTL per tier, in seconds
	RetentionTodaySeconds int `env:"RETENTION_TODAY_SECONDS" envDefault:"86400"`
	Retention7dSeconds    int `env:"RETENTION_7D_SECONDS" envDefault:"604800"`
	Retention30dSeconds   int `env:"RETENTION_30D_SECONDS" envDefault:"2592000"`
	Retention6moSeconds   int `env:"RETENTION_6MO_SECONDS" envDefault:"15552000"`
	RetentionYearSeconds  int `env:"RETENTION_YEAR_SECONDS" envDefault:"31536000"`

	// Liveness tracking
	LivenessThresholdRT     time.Duration `env:"LIVENESS_THRESHOLD_RT" envDefault:"60s"`
	LivenessThresholdENV    time.Duration `env:"LIVENESS_THRESHOLD_ENV" envDefault:"60s"`
	LivenessThresholdENYNow time.Duration `env:"LIVENESS_THRESHOLD_ENY_NOW" envDefault:"1020s"`
	LivenessThresholdSolar  time.Duration `env:"LIVENESS_THRESHOLD_SOLAR" envDefault:"150s"`
	DeviceTrackSeconds      int           `env:"DEVICE_TRACK_SECONDS" envDefault:"86400"`
	LivenessScanInterval    time.Duration `env:"LIVENESS_SCAN_INTERVAL" envDefault:"60s"`

	// Cold-tier archival exporter (domain-stack addition)
	ArchiveEnabled bool   `env:"ARCHIVE_ENABLED" envDefault:"false"`
	S3Bucket       string `env:"S3_BUCKET"`
	S3Prefix       string `env:"S3_PREFIX" envDefault:"grid-engine/"`
	S3Region       string `env:"S3_REGION" envDefault:"us-east-1"`
	S3Endpoint     string `env:"S3_ENDPOINT"`
	S3AccessKey    string `env:"S3_ACCESS_KEY"`
	S3SecretKey    string `env:"S3_SECRET_KEY"`

	HTTPAddr       string        `env:"HTTP_ADDR" envDefault:":8080"`
	ReadTimeout    time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"5s"`
	WriteTimeout   time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"30s"`
	IdleTimeout    time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`
	RateLimitRPS   float64       `env:"HTTP_RATE_LIMIT_RPS" envDefault:"20"`
	RateLimitBurst int           `env:"HTTP_RATE_LIMIT_BURST" envDefault:"40"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

// Validate checks cross-field invariants struct tags cannot express.
func (c *Config) Validate() error {
	if c.MQTTBrokerURL == "" && c.TCPAddr == "" {
		return fmt.Errorf("at least one of MQTT_BROKER_URL or TCP_ADDR must be set")
	}
	if c.MQTTTLSEnabled && c.MQTTTLSCAFile == "" {
		return fmt.Errorf("MQTT_TLS_ENABLED=true requires MQTT_TLS_CA_FILE")
	}
	if c.ArchiveEnabled && c.S3Bucket == "" {
		return fmt.Errorf("ARCHIVE_ENABLED=true requires S3_BUCKET")
	}
	if c.TCPMaxClients <= 0 {
		return fmt.Errorf("TCP_MAX_CLIENTS must be positive")
	}
	return nil
}

// Overrides holds CLI flag values that take priority over env vars.
type Overrides struct {
	EnvFile       string
	HTTPAddr      string
	LogLevel      string
	DatabaseURL   string
	MQTTBrokerURL string
	TCPAddr       string
}

// Load reads configuration from a .env file, environment variables, and CLI
// overrides. Priority: CLI flags > environment variables > .env file > struct
// defaults.
func Load(overrides Overrides) (*Config, error) {
	envFile := overrides.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if _, err := os.Stat(envFile); err == nil {
		_ = godotenv.Load(envFile)
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	if overrides.HTTPAddr != "" {
		cfg.HTTPAddr = overrides.HTTPAddr
	}
	if overrides.LogLevel != "" {
		cfg.LogLevel = overrides.LogLevel
	}
	if overrides.DatabaseURL != "" {
		cfg.DatabaseURL = overrides.DatabaseURL
	}
	if overrides.MQTTBrokerURL != "" {
		cfg.MQTTBrokerURL = overrides.MQTTBrokerURL
	}
	if overrides.TCPAddr != "" {
		cfg.TCPAddr = overrides.TCPAddr
	}

	return cfg, nil
}
