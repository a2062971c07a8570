package config

import (
	"net"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	existing := make([]string, 0, len(files))
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			existing = append(existing, f)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	return godotenv.Load(existing...)
}

func ApplyEnv(cfg *Config) {
	if v := firstEnv("LIZI_DATABASE_URL", "DATABASE_URL"); v != "" {
		cfg.Storage.DSN = v
	}
	if v := firstEnv("LIZI_STORAGE_DRIVER"); v != "" {
		cfg.Storage.Driver = strings.ToLower(v)
	}
	if v := firstEnv("LIZI_LOG_LEVEL", "LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := firstEnv("LIZI_LOG_FILE"); v != "" {
		cfg.LogFile = v
	}
	if v := firstEnv("LIZI_SOURCE_TIMEZONE"); v != "" {
		cfg.Poller.SourceTimezone = v
	}
	if host := firstEnv("MQTT_HOST"); host != "" {
		port := firstEnv("MQTT_PORT")
		if port == "" {
			port = "1883"
		}
		cfg.Ingest.MQTT.Broker = "tcp://" + net.JoinHostPort(host, port)
	}
	if v := firstEnv("MQTT_USER"); v != "" {
		cfg.Ingest.MQTT.Username = v
	}
	if v := firstEnv("MQTT_PASS"); v != "" {
		cfg.Ingest.MQTT.Password = v
	}
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(os.Getenv(k)); v != "" {
			return v
		}
	}
	return ""
}
