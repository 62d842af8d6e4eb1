package config

import (
	"os"
	"testing"
)

func TestLoad(t *testing.T) {
	cleanup := setEnvs(t, map[string]string{
		"DATABASE_URL":    "postgres://localhost/test",
		"MQTT_BROKER_URL": "tcp://localhost:1883",
	})
	defer cleanup()

	t.Run("defaults", func(t *testing.T) {
		cfg, err := Load(Overrides{EnvFile: "nonexistent.env"})
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if cfg.HTTPAddr != ":8080" {
			t.Errorf("HTTPAddr = %q, want :8080", cfg.HTTPAddr)
		}
		if cfg.LogLevel != "info" {
			t.Errorf("LogLevel = %q, want info", cfg.LogLevel)
		}
		if cfg.TCPAddr != ":9000" {
			t.Errorf("TCPAddr = %q, want :9000", cfg.TCPAddr)
		}
		if cfg.MQTTClientID != "grid-engine" {
			t.Errorf("MQTTClientID = %q, want grid-engine", cfg.MQTTClientID)
		}
		if cfg.IngestQueueCapacity != 10000 {
			t.Errorf("IngestQueueCapacity = %d, want 10000", cfg.IngestQueueCapacity)
		}
		if !cfg.IngestDropOnFull {
			t.Error("IngestDropOnFull = false, want true")
		}
		if cfg.TCPMaxClients != 100 {
			t.Errorf("TCPMaxClients = %d, want 100", cfg.TCPMaxClients)
		}
	})

	t.Run("cli_overrides_take_priority", func(t *testing.T) {
		cfg, err := Load(Overrides{
			EnvFile:       "nonexistent.env",
			HTTPAddr:      ":9090",
			LogLevel:      "debug",
			DatabaseURL:   "postgres://override/db",
			MQTTBrokerURL: "tcp://override:1883",
			TCPAddr:       ":9100",
		})
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if cfg.HTTPAddr != ":9090" {
			t.Errorf("HTTPAddr = %q, want :9090", cfg.HTTPAddr)
		}
		if cfg.LogLevel != "debug" {
			t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
		}
		if cfg.DatabaseURL != "postgres://override/db" {
			t.Errorf("DatabaseURL = %q, want override", cfg.DatabaseURL)
		}
		if cfg.MQTTBrokerURL != "tcp://override:1883" {
			t.Errorf("MQTTBrokerURL = %q, want override", cfg.MQTTBrokerURL)
		}
		if cfg.TCPAddr != ":9100" {
			t.Errorf("TCPAddr = %q, want :9100", cfg.TCPAddr)
		}
	})

	t.Run("env_vars_read", func(t *testing.T) {
		cfg, err := Load(Overrides{EnvFile: "nonexistent.env"})
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if cfg.DatabaseURL != "postgres://localhost/test" {
			t.Errorf("DatabaseURL = %q, want postgres://localhost/test", cfg.DatabaseURL)
		}
		if cfg.MQTTBrokerURL != "tcp://localhost:1883" {
			t.Errorf("MQTTBrokerURL = %q, want tcp://localhost:1883", cfg.MQTTBrokerURL)
		}
	})

	t.Run("empty_overrides_use_env", func(t *testing.T) {
		cfg, err := Load(Overrides{EnvFile: "nonexistent.env"})
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if cfg.DatabaseURL != "postgres://localhost/test" {
			t.Errorf("DatabaseURL = %q, want env value", cfg.DatabaseURL)
		}
	})
}

func TestLoadMissingRequired(t *testing.T) {
	cleanup := setEnvs(t, map[string]string{
		"DATABASE_URL":    "",
		"MQTT_BROKER_URL": "",
	})
	defer cleanup()
	os.Unsetenv("DATABASE_URL")
	os.Unsetenv("MQTT_BROKER_URL")

	_, err := Load(Overrides{EnvFile: "nonexistent.env"})
	if err == nil {
		t.Error("expected error when required env vars are missing")
	}
}

func TestValidate(t *testing.T) {
	t.Run("requires_mqtt_or_tcp", func(t *testing.T) {
		cfg := &Config{DatabaseURL: "postgres://localhost/test"}
		if err := cfg.Validate(); err == nil {
			t.Error("expected error when neither MQTT_BROKER_URL nor TCP_ADDR set")
		}
	})

	t.Run("tls_requires_ca_file", func(t *testing.T) {
		cfg := &Config{
			DatabaseURL:    "postgres://localhost/test",
			MQTTBrokerURL:  "tcp://localhost:1883",
			MQTTTLSEnabled: true,
			TCPMaxClients:  1,
		}
		if err := cfg.Validate(); err == nil {
			t.Error("expected error when MQTT_TLS_ENABLED=true without MQTT_TLS_CA_FILE")
		}
	})

	t.Run("archive_requires_bucket", func(t *testing.T) {
		cfg := &Config{
			DatabaseURL:    "postgres://localhost/test",
			TCPAddr:        ":9000",
			ArchiveEnabled: true,
			TCPMaxClients:  1,
		}
		if err := cfg.Validate(); err == nil {
			t.Error("expected error when ARCHIVE_ENABLED=true without S3_BUCKET")
		}
	})

	t.Run("valid_config_passes", func(t *testing.T) {
		cfg := &Config{
			DatabaseURL:   "postgres://localhost/test",
			TCPAddr:       ":9000",
			TCPMaxClients: 100,
		}
		if err := cfg.Validate(); err != nil {
			t.Errorf("Validate: %v", err)
		}
	})
}

// setEnvs sets environment variables and returns a cleanup function.
func setEnvs(t *testing.T, envs map[string]string) func() {
	t.Helper()
	originals := make(map[string]string)
	unset := make([]string, 0)

	for k, v := range envs {
		if orig, ok := os.LookupEnv(k); ok {
			originals[k] = orig
		} else {
			unset = append(unset, k)
		}
		os.Setenv(k, v)
	}

	return func() {
		for k, v := range originals {
			os.Setenv(k, v)
		}
		for _, k := range unset {
			os.Unsetenv(k)
		}
	}
}
