package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadConfigYAMLOverDefaults(t *testing.T) {
	path := writeConfig(t, `
video:
  source: rtsp://camera-1/stream
detector:
  endpoint: http://detector:8000
  confidence_threshold: 0.65
alert:
  cooldown: 45s
classes:
  labels:
    2: weapon
  alert: [shoplifting, weapon]
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "rtsp://camera-1/stream", cfg.Video.Source)
	assert.Equal(t, "ffmpeg", cfg.Video.Kind)
	assert.Equal(t, 0.65, cfg.Detector.ConfidenceThreshold)
	assert.Equal(t, 640, cfg.Detector.InputSize)
	assert.Equal(t, 45*time.Second, cfg.Alert.Cooldown)
	assert.Equal(t, 30, cfg.Loop.ReportEvery)

	table := cfg.ClassTable()
	assert.Equal(t, "shoplifting", table.Label(1))
	assert.Equal(t, "weapon", table.Label(2))
	assert.True(t, table.IsAlert("weapon"))
	require.NoError(t, cfg.Validate())
}

func TestLoadConfigEnvWins(t *testing.T) {
	path := writeConfig(t, `
video:
  source: in.mp4
detector:
  endpoint: http://detector:8000
`)
	t.Setenv("DETECTION_ENDPOINT", "http://gpu-box:9000")
	t.Setenv("ALERT_COOLDOWN", "10s")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("SMTP_TO", "guard@example.com,manager@example.com")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "http://gpu-box:9000", cfg.Detector.Endpoint)
	assert.Equal(t, 10*time.Second, cfg.Alert.Cooldown)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, []string{"guard@example.com", "manager@example.com"}, cfg.Alert.SMTP.To)
}

func TestLoadConfigMissingExplicitFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestLoadConfigBadYAML(t *testing.T) {
	path := writeConfig(t, "video: [unterminated")
	_, err := LoadConfig(path)
	require.ErrorContains(t, err, "parse config")
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := Default()
		cfg.Video.Source = "in.mp4"
		cfg.Detector.Endpoint = "http://detector:8000"
		return cfg
	}
	require.NoError(t, valid().Validate())

	cases := []struct {
		want   string
		mutate func(*Config)
	}{
		{"video.kind", func(c *Config) { c.Video.Kind = "webcam" }},
		{"video.source", func(c *Config) { c.Video.Source = "" }},
		{"minio.endpoint is required for", func(c *Config) { c.Video.Kind = "s3" }},
		{"detector.endpoint", func(c *Config) { c.Detector.Endpoint = "" }},
		{"detector.input_size", func(c *Config) { c.Detector.InputSize = 0 }},
		{"detector.confidence_threshold", func(c *Config) { c.Detector.ConfidenceThreshold = 1.5 }},
		{"detector.attempts", func(c *Config) { c.Detector.Attempts = 0 }},
		{"loop.report_every", func(c *Config) { c.Loop.ReportEvery = 0 }},
		{"output.path", func(c *Config) { c.Output.Path = "" }},
		{"alert.smtp.from", func(c *Config) { c.Alert.SMTP.Host = "smtp.example.com" }},
		{"alert.mqtt.topic", func(c *Config) { c.Alert.MQTT.Broker = "tcp://mqtt:1883" }},
		{"kafka.brokers", func(c *Config) { c.Alert.KafkaTopic = "alerts" }},
		{"class table", func(c *Config) { c.Classes.Alert = []string{"fire"} }},
	}
	for _, tc := range cases {
		t.Run(tc.want, func(t *testing.T) {
			cfg := valid()
			tc.mutate(cfg)
			require.ErrorContains(t, cfg.Validate(), tc.want)
		})
	}
}
