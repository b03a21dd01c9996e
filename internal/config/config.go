package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/Capitan-Parrot/theft-detection/internal/model"
	"github.com/Capitan-Parrot/theft-detection/internal/models"
)

const DefaultPath = "config/local.yaml"

// Config структура конфига
type Config struct {
	Log struct {
		Level       string `yaml:"level" env:"LOG_LEVEL"`
		Development bool   `yaml:"development" env:"LOG_DEVELOPMENT"`
	} `yaml:"log"`

	Video struct {
		// Kind selects the frame source: "ffmpeg" (file, device, rtsp url) or "s3" (jpeg frames in MinIO)
		Kind   string `yaml:"kind" env:"VIDEO_KIND"`
		Source string `yaml:"source" env:"VIDEO_SOURCE"`
		// InputArgs are passed to ffmpeg as input keyword arguments, e.g. rtsp_transport: tcp
		InputArgs map[string]string `yaml:"input_args"`
		// FPS limits decoding rate of the ffmpeg source, 0 keeps the native rate
		FPS float64 `yaml:"fps" env:"VIDEO_FPS"`
	} `yaml:"video"`

	Detector struct {
		Endpoint            string        `yaml:"endpoint" env:"DETECTION_ENDPOINT"`
		InputSize           int           `yaml:"input_size" env:"DETECTION_INPUT_SIZE"`
		ConfidenceThreshold float64       `yaml:"confidence_threshold" env:"DETECTION_CONFIDENCE"`
		Timeout             time.Duration `yaml:"timeout" env:"DETECTION_TIMEOUT"`
		Attempts            int           `yaml:"attempts" env:"DETECTION_ATTEMPTS"`
		JPEGQuality         int           `yaml:"jpeg_quality" env:"DETECTION_JPEG_QUALITY"`
		HealthCheck         bool          `yaml:"health_check" env:"DETECTION_HEALTH_CHECK"`
	} `yaml:"detector"`

	Classes struct {
		Labels  map[int]string `yaml:"labels"`
		Default string         `yaml:"default"`
		Alert   []string       `yaml:"alert"`
	} `yaml:"classes"`

	Alert struct {
		Cooldown    time.Duration `yaml:"cooldown" env:"ALERT_COOLDOWN"`
		SendTimeout time.Duration `yaml:"send_timeout" env:"ALERT_SEND_TIMEOUT"`
		KafkaTopic  string        `yaml:"kafka_topic" env:"ALERT_TOPIC"`

		SMTP struct {
			Host     string   `yaml:"host" env:"SMTP_HOST"`
			Port     int      `yaml:"port" env:"SMTP_PORT"`
			Username string   `yaml:"username" env:"SMTP_USERNAME"`
			Password string   `yaml:"password" env:"SMTP_PASSWORD"`
			From     string   `yaml:"from" env:"SMTP_FROM"`
			To       []string `yaml:"to" env:"SMTP_TO" envSeparator:","`
		} `yaml:"smtp"`

		MQTT struct {
			Broker   string `yaml:"broker" env:"MQTT_BROKER"`
			Topic    string `yaml:"topic" env:"MQTT_TOPIC"`
			ClientID string `yaml:"client_id" env:"MQTT_CLIENT_ID"`
			Username string `yaml:"username" env:"MQTT_USERNAME"`
			Password string `yaml:"password" env:"MQTT_PASSWORD"`
		} `yaml:"mqtt"`
	} `yaml:"alert"`

	Loop struct {
		ReportEvery       int           `yaml:"report_every" env:"LOOP_REPORT_EVERY"`
		HeartbeatInterval time.Duration `yaml:"heartbeat_interval" env:"LOOP_HEARTBEAT_INTERVAL"`
	} `yaml:"loop"`

	Display struct {
		Enabled bool   `yaml:"enabled" env:"DISPLAY_ENABLED"`
		Addr    string `yaml:"addr" env:"DISPLAY_ADDR"`
		Quality int    `yaml:"quality" env:"DISPLAY_QUALITY"`
	} `yaml:"display"`

	Output struct {
		Path   string `yaml:"path" env:"OUTPUT_PATH"`
		Bucket string `yaml:"bucket" env:"OUTPUT_BUCKET"`
	} `yaml:"output"`

	Postgres struct {
		DSN string `yaml:"dsn" env:"DATABASE_DSN"`
	} `yaml:"postgres"`

	Minio struct {
		Endpoint  string `yaml:"endpoint" env:"MINIO_ENDPOINT"`
		AccessKey string `yaml:"access_key" env:"MINIO_ACCESS_KEY"`
		SecretKey string `yaml:"secret_key" env:"MINIO_SECRET_KEY"`
		UseSSL    bool   `yaml:"use_ssl" env:"MINIO_USE_SSL"`
	} `yaml:"minio"`

	Kafka struct {
		Brokers        []string `yaml:"brokers" env:"KAFKA_BROKERS" envSeparator:","`
		GroupID        string   `yaml:"group_id" env:"KAFKA_GROUP_ID"`
		CommandTopic   string   `yaml:"command_topic" env:"COMMAND_TOPIC"`
		HeartbeatTopic string   `yaml:"heartbeat_topic" env:"HEARTBEAT_TOPIC"`
	} `yaml:"kafka"`

	Model ModelConfig `yaml:"model"`
}

// ModelConfig covers the export and training helpers
type ModelConfig struct {
	Binary string              `yaml:"binary" env:"YOLO_BINARY"`
	Export model.ExportOptions `yaml:"export"`
	Train  model.TrainOptions  `yaml:"train"`
}

// Default returns the configuration used when a key is absent from both yaml and env
func Default() *Config {
	cfg := &Config{}
	cfg.Log.Level = "info"

	cfg.Video.Kind = "ffmpeg"

	cfg.Detector.InputSize = 640
	cfg.Detector.ConfidenceThreshold = 0.5
	cfg.Detector.Timeout = 3 * time.Second
	cfg.Detector.Attempts = 1
	cfg.Detector.JPEGQuality = 90
	cfg.Detector.HealthCheck = true

	cfg.Classes.Labels = map[int]string{1: models.ClassShoplifting}
	cfg.Classes.Default = models.ClassNormal
	cfg.Classes.Alert = []string{models.ClassShoplifting}

	cfg.Alert.Cooldown = 30 * time.Second
	cfg.Alert.SendTimeout = 30 * time.Second
	cfg.Alert.SMTP.Port = 587

	cfg.Loop.ReportEvery = 30
	cfg.Loop.HeartbeatInterval = 5 * time.Second

	cfg.Display.Addr = ":8081"
	cfg.Display.Quality = 75

	cfg.Output.Path = "detections.json"

	cfg.Kafka.GroupID = "theft-detector"

	cfg.Model.Binary = "yolo"
	cfg.Model.Export.Format = "openvino"
	cfg.Model.Export.Int8 = true
	cfg.Model.Export.Simplify = true
	cfg.Model.Export.Workspace = 4
	cfg.Model.Export.ImageSize = 640
	cfg.Model.Export.Runtime.Device = "CPU"
	cfg.Model.Export.Runtime.BindThreads = true
	cfg.Model.Export.Runtime.Streams = 1
	cfg.Model.Export.Runtime.PrecisionHint = "int8"

	cfg.Model.Train.Epochs = 200
	cfg.Model.Train.ImageSize = 640
	cfg.Model.Train.Batch = 16
	cfg.Model.Train.Device = "0"
	cfg.Model.Train.Patience = 25
	cfg.Model.Train.ExistOK = true
	cfg.Model.Train.Optimizer = "AdamW"
	return cfg
}

// LoadConfig reads yaml over the defaults and then applies environment overrides.
// A missing file at the default path is not an error.
func LoadConfig(filename string) (*Config, error) {
	cfg := Default()

	explicit := filename != ""
	if !explicit {
		filename = DefaultPath
	}

	// Читаем YAML
	data, err := os.ReadFile(filename)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", filename, err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("read config %s: %w", filename, err)
	}

	// Парсим переменные окружения с приоритетом
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	return cfg, nil
}

// ClassTable builds the class lookup from the classes section
func (c *Config) ClassTable() models.ClassTable {
	return models.NewClassTable(c.Classes.Labels, c.Classes.Default, c.Classes.Alert)
}

// Validate checks the settings the detection loop depends on
func (c *Config) Validate() error {
	switch c.Video.Kind {
	case "ffmpeg", "s3":
	default:
		return fmt.Errorf("video.kind must be ffmpeg or s3, got %q", c.Video.Kind)
	}
	if c.Video.Source == "" {
		return errors.New("video.source is required")
	}
	if c.Video.Kind == "s3" && c.Minio.Endpoint == "" {
		return errors.New("minio.endpoint is required for the s3 video source")
	}
	if c.Detector.Endpoint == "" {
		return errors.New("detector.endpoint is required")
	}
	if c.Detector.InputSize <= 0 {
		return fmt.Errorf("detector.input_size must be positive, got %d", c.Detector.InputSize)
	}
	if c.Detector.ConfidenceThreshold < 0 || c.Detector.ConfidenceThreshold > 1 {
		return fmt.Errorf("detector.confidence_threshold must be in [0,1], got %v", c.Detector.ConfidenceThreshold)
	}
	if c.Detector.Attempts < 1 {
		return fmt.Errorf("detector.attempts must be at least 1, got %d", c.Detector.Attempts)
	}
	if c.Alert.Cooldown < 0 {
		return fmt.Errorf("alert.cooldown must not be negative, got %s", c.Alert.Cooldown)
	}
	if c.Loop.ReportEvery <= 0 {
		return fmt.Errorf("loop.report_every must be positive, got %d", c.Loop.ReportEvery)
	}
	if c.Output.Path == "" {
		return errors.New("output.path is required")
	}
	if c.Output.Bucket != "" && c.Minio.Endpoint == "" {
		return errors.New("minio.endpoint is required when output.bucket is set")
	}
	if c.Alert.SMTP.Host != "" && (c.Alert.SMTP.From == "" || len(c.Alert.SMTP.To) == 0) {
		return errors.New("alert.smtp.from and alert.smtp.to are required when alert.smtp.host is set")
	}
	if c.Alert.MQTT.Broker != "" && c.Alert.MQTT.Topic == "" {
		return errors.New("alert.mqtt.topic is required when alert.mqtt.broker is set")
	}
	if (c.Alert.KafkaTopic != "" || c.Kafka.HeartbeatTopic != "" || c.Kafka.CommandTopic != "") && len(c.Kafka.Brokers) == 0 {
		return errors.New("kafka.brokers is required when a kafka topic is configured")
	}
	return c.ClassTable().Validate()
}
