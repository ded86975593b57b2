package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Visualization.Workers != 4 {
		t.Errorf("expected 4 workers, got %d", cfg.Visualization.Workers)
	}
	if cfg.Visualization.MaxRetries != 3 {
		t.Errorf("expected max retries 3, got %d", cfg.Visualization.MaxRetries)
	}
	if cfg.Visualization.ImageGenerationTimeout != 5*time.Minute {
		t.Errorf("expected 5m generation timeout, got %s", cfg.Visualization.ImageGenerationTimeout)
	}
	if cfg.Kafka.Topic != "visualization-events" {
		t.Errorf("unexpected kafka topic %q", cfg.Kafka.Topic)
	}
	if len(cfg.Kafka.Brokers) != 0 {
		t.Errorf("kafka should be disabled by default, got %v", cfg.Kafka.Brokers)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("VISUALIZATION_WORKERS", "8")
	t.Setenv("VISUALIZATION_PROMPT_TIMEOUT", "45s")
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092, kafka-2:9092")
	t.Setenv("GATEWAY_ENABLED", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Visualization.Workers != 8 {
		t.Errorf("expected 8 workers, got %d", cfg.Visualization.Workers)
	}
	if cfg.Visualization.PromptTimeout != 45*time.Second {
		t.Errorf("expected 45s, got %s", cfg.Visualization.PromptTimeout)
	}
	if len(cfg.Kafka.Brokers) != 2 || cfg.Kafka.Brokers[1] != "kafka-2:9092" {
		t.Errorf("unexpected brokers %v", cfg.Kafka.Brokers)
	}
	if !cfg.Gateway.Enabled {
		t.Error("expected gateway enabled")
	}
}

func TestReadSecret(t *testing.T) {
	path := filepath.Join(t.TempDir(), "groq_key")
	if err := os.WriteFile(path, []byte("secret-from-file\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("GROQ_API_KEY", "")
	t.Setenv("GROQ_API_KEY_FILE", path)

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Groq.APIKey != "secret-from-file" {
		t.Errorf("expected key from file, got %q", cfg.Groq.APIKey)
	}
}
