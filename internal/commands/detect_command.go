package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/Capitan-Parrot/theft-detection/internal/alert"
	"github.com/Capitan-Parrot/theft-detection/internal/config"
	"github.com/Capitan-Parrot/theft-detection/internal/database"
	"github.com/Capitan-Parrot/theft-detection/internal/display"
	"github.com/Capitan-Parrot/theft-detection/internal/kafka"
	"github.com/Capitan-Parrot/theft-detection/internal/metrics"
	"github.com/Capitan-Parrot/theft-detection/internal/models"
	"github.com/Capitan-Parrot/theft-detection/internal/runner"
	"github.com/Capitan-Parrot/theft-detection/internal/s3"
	"github.com/Capitan-Parrot/theft-detection/internal/services/detection"
	"github.com/Capitan-Parrot/theft-detection/internal/storage"
	"github.com/Capitan-Parrot/theft-detection/internal/video"
)

// GetDetectCommand запускает цикл детекции над видеоисточником
func GetDetectCommand() *cli.Command {
	return &cli.Command{
		Name:  "detect",
		Usage: "Run theft detection over a video source",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "source",
				Usage: "Video file, device or stream url, overrides video.source",
			},
			&cli.StringFlag{
				Name:  "run-id",
				Usage: "Run identifier, a new uuid by default",
			},
		},
		Action: func(c *cli.Context) error {
			cctx, err := NewCommandContext(c)
			if err != nil {
				return err
			}
			defer cctx.Logger.Sync()

			if c.IsSet("source") {
				cctx.Config.Video.Source = c.String("source")
			}
			runID := c.String("run-id")
			if runID == "" {
				runID = uuid.NewString()
			}

			ctx, stop := signalContext(c)
			defer stop()

			return runDetect(ctx, cctx.Config, runID, cctx.Logger)
		},
	}
}

func runDetect(ctx context.Context, cfg *config.Config, runID string, logger *zap.SugaredLogger) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	logger = logger.With("run_id", runID)

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	m := metrics.New()

	var minioClient *s3.Client
	if cfg.Minio.Endpoint != "" {
		var err error
		minioClient, err = s3.NewMinioClient(cfg.Minio.Endpoint, cfg.Minio.AccessKey, cfg.Minio.SecretKey, cfg.Minio.UseSSL, cfg.Output.Bucket)
		if err != nil {
			return err
		}
	}

	detector := detection.NewClient(cfg.Detector.Endpoint, cfg.Detector.Timeout, cfg.Detector.JPEGQuality)
	if cfg.Detector.HealthCheck {
		if err := detector.Check(ctx); err != nil {
			return fmt.Errorf("detector not ready: %w", err)
		}
	}

	source, err := openSource(runCtx, cfg, minioClient, logger)
	if err != nil {
		return err
	}

	var producer *kafka.Producer
	if len(cfg.Kafka.Brokers) > 0 && (cfg.Kafka.HeartbeatTopic != "" || cfg.Alert.KafkaTopic != "") {
		producer, err = kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.HeartbeatTopic, cfg.Alert.KafkaTopic)
		if err != nil {
			source.Close()
			return fmt.Errorf("failed to create Kafka producer: %w", err)
		}
		defer producer.Close()
	}

	transports, closeTransports := buildTransports(cfg, producer)
	defer closeTransports()
	dispatcher := alert.NewDispatcher(runID, cfg.Alert.Cooldown, cfg.Alert.SendTimeout, transports, logger, m)

	sinks := []storage.Sink{storage.NewFileSink(cfg.Output.Path)}
	if cfg.Output.Bucket != "" {
		sinks = append(sinks, minioClient)
	}

	var runs display.RunStore
	var db *database.Database
	if cfg.Postgres.DSN != "" {
		db, err = openDatabase(ctx, cfg.Postgres.DSN, runID, cfg.Video.Source)
		if err != nil {
			source.Close()
			return err
		}
		defer db.Close()
		sinks = append(sinks, db)
		runs = db
	}

	var stream *display.Stream
	opts := []runner.Option{
		runner.WithLogger(logger),
		runner.WithDispatcher(dispatcher),
		runner.WithSink(storage.NewMulti(logger, sinks...)),
		runner.WithMetrics(m),
	}
	if cfg.Display.Enabled {
		stream = display.NewStream(cfg.Display.Quality)
		opts = append(opts, runner.WithDisplay(stream))
	}
	if producer != nil {
		opts = append(opts, runner.WithHeartbeats(producer))
	}

	if cfg.Display.Addr != "" {
		stopRun := func(id string) bool {
			if id != runID {
				return false
			}
			cancelRun()
			return true
		}
		display.NewServer(cfg.Display.Addr, m, stream, runs, stopRun, logger).Start(ctx)
	}

	if cfg.Kafka.CommandTopic != "" {
		consumer, err := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.GroupID, cfg.Kafka.CommandTopic, logger)
		if err != nil {
			source.Close()
			return fmt.Errorf("failed to create Kafka consumer: %w", err)
		}
		defer consumer.Close()
		consumer.StartListening(runCtx)
		go runner.ListenForCommands(runCtx, consumer.Messages(), runID, cancelRun, logger)
	}

	r := runner.New(runID, source, detector, cfg.ClassTable(), runner.Settings{
		InputSize:           cfg.Detector.InputSize,
		ConfidenceThreshold: cfg.Detector.ConfidenceThreshold,
		Attempts:            cfg.Detector.Attempts,
		ReportEvery:         cfg.Loop.ReportEvery,
		HeartbeatInterval:   cfg.Loop.HeartbeatInterval,
	}, opts...)

	detections, runErr := r.Run(runCtx)
	logRunResult(logger, len(detections), cfg.Output.Path, runErr)

	if db != nil {
		status := models.RunStatusFinished
		if runErr != nil {
			status = models.RunStatusFailed
		}
		if err := db.FinishRun(context.WithoutCancel(ctx), runID, status, r.Frames()); err != nil {
			runErr = errors.Join(runErr, err)
		}
	}
	return runErr
}

func logRunResult(logger *zap.SugaredLogger, detections int, path string, runErr error) {
	if runErr != nil {
		logger.Errorf("Run finished with %d detections, saving the log failed: %v", detections, runErr)
		return
	}
	logger.Infof("Saved %d detections to %s", detections, path)
}

func openSource(ctx context.Context, cfg *config.Config, minioClient *s3.Client, logger *zap.SugaredLogger) (runner.FrameSource, error) {
	switch cfg.Video.Kind {
	case "s3":
		source, err := minioClient.OpenFrames(ctx, cfg.Video.Source, logger)
		if err != nil {
			return nil, fmt.Errorf("open frames %s: %w", cfg.Video.Source, err)
		}
		return source, nil
	default:
		source, err := video.OpenFFmpeg(ctx, cfg.Video.Source, cfg.Video.InputArgs, cfg.Video.FPS, logger)
		if err != nil {
			return nil, err
		}
		return source, nil
	}
}

func openDatabase(ctx context.Context, dsn, runID, source string) (*database.Database, error) {
	db, err := database.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := db.Init(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("init database: %w", err)
	}
	if err := db.CreateRun(ctx, &models.Run{ID: runID, Source: source}); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// buildTransports returns the configured alert transports and a func releasing them
func buildTransports(cfg *config.Config, producer *kafka.Producer) ([]alert.Transport, func()) {
	var transports []alert.Transport
	closers := []func(){}

	if smtp := cfg.Alert.SMTP; smtp.Host != "" {
		transports = append(transports, alert.NewSMTPTransport(smtp.Host, smtp.Port, smtp.Username, smtp.Password, smtp.From, smtp.To))
	}
	if mq := cfg.Alert.MQTT; mq.Broker != "" {
		t := alert.NewMQTTTransport(mq.Broker, mq.ClientID, mq.Username, mq.Password, mq.Topic)
		transports = append(transports, t)
		closers = append(closers, t.Close)
	}
	if producer != nil && cfg.Alert.KafkaTopic != "" {
		transports = append(transports, alert.NewBrokerTransport("kafka", producer))
	}

	return transports, func() {
		for _, c := range closers {
			c()
		}
	}
}
