package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ava-labs/alert-republisher/pkg/kafka"
	"github.com/ava-labs/alert-republisher/pkg/message"
	"github.com/ava-labs/alert-republisher/pkg/metrics"
	"github.com/ava-labs/alert-republisher/pkg/queue"
	"github.com/ava-labs/alert-republisher/pkg/utils"
)

const metricsShutdownTimeout = 5 * time.Second

func runPublish(c *cli.Context) error {
	cfg, err := buildConfig(c)
	if err != nil {
		return fmt.Errorf("failed to build config: %w", err)
	}

	sugar, err := utils.NewSugaredLogger(cfg.Verbose, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer sugar.Desugar().Sync() //nolint:errcheck // best-effort flush; ignore sync errors

	sugar.Infow("config",
		"verbose", cfg.Verbose,
		"brokers", cfg.Kafka.BootstrapServers,
		"topics", cfg.Kafka.Topics,
		"messages", len(cfg.Messages),
		"format", cfg.Format,
		"jsonSchema", cfg.JSONSchemaPath,
		"ceiling", cfg.Publish.Ceiling,
		"reportInterval", cfg.Publish.ReportInterval,
		"recountInterval", cfg.Publish.RecountInterval,
		"pacingDelay", *cfg.Publish.PacingDelay,
		"sessionTimeout", *cfg.Publish.SessionTimeout,
		"drainPollInterval", *cfg.Publish.DrainPollInterval,
		"cancelDrainAttempts", cfg.Publish.CancelDrainAttempts,
		"skipInvalid", cfg.Publish.SkipLoadErrors,
		"compression", cfg.Kafka.Compression,
		"saslEnabled", cfg.Kafka.SASL.Enabled(),
		"createTopic", cfg.CreateTopic,
		"metricsPort", cfg.MetricsPort,
		"environment", cfg.Environment,
		"region", cfg.Region,
		"cloudProvider", cfg.CloudProvider,
	)

	if len(cfg.Messages) == 0 {
		sugar.Warn("no message files given, nothing will be published")
	}

	registry := prometheus.NewRegistry()
	m, err := metrics.NewWithLabels(registry, metrics.Labels{
		Topic:         strings.Join(cfg.Kafka.Topics, ","),
		Environment:   cfg.Environment,
		Region:        cfg.Region,
		CloudProvider: cfg.CloudProvider,
	})
	if err != nil {
		return fmt.Errorf("failed to create metrics: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.CreateTopic {
		if err := ensureTopics(ctx, cfg, sugar); err != nil {
			return err
		}
	}

	loader, err := message.NewFileLoader(message.LoaderConfig{
		Format:         cfg.Format,
		JSONSchemaPath: cfg.JSONSchemaPath,
		Sender:         cfg.Sender,
	}, sugar)
	if err != nil {
		return fmt.Errorf("failed to create message loader: %w", err)
	}

	publisher, err := queue.NewFlowPublisher(cfg.Publish, loader, sugar, m)
	if err != nil {
		return fmt.Errorf("failed to create publisher: %w", err)
	}

	producer, err := kafka.NewProducer(ctx, cfg.Kafka, sugar, m)
	if err != nil {
		return fmt.Errorf("failed to create kafka producer: %w", err)
	}
	// The session closes the producer; this covers early returns.
	defer producer.Close()

	var producerErr atomic.Pointer[error]
	var metricsServer *metrics.Server
	var metricsErrCh <-chan error
	if cfg.MetricsEnabled() {
		metricsServer = metrics.NewServer(cfg.MetricsAddr(), registry, func() error {
			if errp := producerErr.Load(); errp != nil {
				return *errp
			}
			return nil
		})
		metricsErrCh = metricsServer.Start()
		if cfg.MetricsHost == "" {
			sugar.Infof("metrics server listening on http://0.0.0.0:%d/metrics", cfg.MetricsPort)
		} else {
			sugar.Infof("metrics server listening on http://%s/metrics", cfg.MetricsAddr())
		}
	}

	var stats queue.Stats
	published := make(chan struct{})
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(published)
		var runErr error
		stats, runErr = publisher.Run(gctx, func(context.Context) (queue.Producer, error) {
			return producer, nil
		}, cfg.Messages)
		return runErr
	})
	g.Go(func() error {
		select {
		case <-published:
			return nil
		case <-gctx.Done():
			return gctx.Err()
		case err, ok := <-producer.Errors():
			if !ok {
				return nil
			}
			producerErr.Store(&err)
			return fmt.Errorf("kafka producer error: %w", err)
		}
	})
	if metricsErrCh != nil {
		g.Go(func() error {
			select {
			case <-published:
				return nil
			case <-gctx.Done():
				return gctx.Err()
			case err := <-metricsErrCh:
				if err != nil {
					return fmt.Errorf("metrics server error: %w", err)
				}
				return nil
			}
		})
	}

	err = g.Wait()

	if metricsServer != nil {
		sugar.Info("shutting down metrics server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
		defer cancel()
		if shutdownErr := metricsServer.Shutdown(shutdownCtx); shutdownErr != nil {
			sugar.Warnw("metrics server shutdown error", "error", shutdownErr)
		}
	}

	sugar.Infow("publish finished",
		"queued", stats.TotalQueued,
		"skipped", stats.Skipped,
		"inFlight", stats.InFlight,
		"state", stats.State,
		"failed", stats.Failed,
	)

	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return fmt.Errorf("interrupted after queueing %d of %d messages: %w", stats.TotalQueued, len(cfg.Messages), err)
	}
	if err != nil {
		sugar.Errorw("publish failed", "error", err)
		return err
	}
	return nil
}

// ensureTopics creates missing destination topics and grows their partition
// count to the configured value.
func ensureTopics(ctx context.Context, cfg *Config, log *zap.SugaredLogger) error {
	admin, err := kafka.NewAdminClient(cfg.Kafka)
	if err != nil {
		return err
	}
	defer admin.Close()

	err = kafka.EnsureTopics(ctx, admin, cfg.Kafka.Topics, cfg.TopicPartitions, cfg.TopicReplicationFactor, log)
	if err != nil {
		return fmt.Errorf("failed to ensure kafka topics exist: %w", err)
	}
	return nil
}
