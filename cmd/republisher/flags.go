package main

import (
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/ava-labs/alert-republisher/pkg/avro"
	"github.com/ava-labs/alert-republisher/pkg/message"
	"github.com/ava-labs/alert-republisher/pkg/queue"
)

// globalFlags are accepted before any command.
func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "env-file",
			Usage:   "Load PUBLISH_* and KAFKA_* settings from this .env file before running",
			EnvVars: []string{"REPUBLISHER_ENV_FILE"},
		},
	}
}

func logFlags() []cli.Flag {
	return []cli.Flag{
		&cli.BoolFlag{
			Name:    "verbose",
			Aliases: []string{"v"},
			Usage:   "Enable verbose logging",
			EnvVars: []string{"VERBOSE"},
			Value:   false,
		},
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "Override the log level (debug, info, warn, error)",
			EnvVars: []string{"LOG_LEVEL"},
		},
	}
}

// publishFlags returns all CLI flags for the publish command. Publish tuning
// and Kafka flags override the PUBLISH_* and KAFKA_* environment only when
// given explicitly.
func publishFlags() []cli.Flag {
	formats := make([]string, 0, len(message.Formats()))
	for _, f := range message.Formats() {
		formats = append(formats, f.String())
	}

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:    "format",
			Aliases: []string{"f"},
			Usage:   "The message format (" + strings.Join(formats, ", ") + ")",
			Value:   message.DefaultFormat.String(),
		},
		&cli.StringFlag{
			Name:  "json-schema",
			Usage: "Validate JSON messages against this JSON Schema file",
		},
		&cli.StringFlag{
			Name:    "sender",
			Usage:   "Value of the _sender header on every message",
			EnvVars: []string{"SENDER"},
		},
		&cli.BoolFlag{
			Name:  "skip-invalid",
			Usage: "Skip message files that fail to load instead of aborting",
		},

		// Flow control
		&cli.IntFlag{
			Name:  "ceiling",
			Usage: "Maximum number of unacknowledged messages before flushing",
			Value: queue.DefaultCeiling,
		},
		&cli.IntFlag{
			Name:  "report-interval",
			Usage: "Log progress every N submitted messages",
			Value: queue.DefaultReportInterval,
		},
		&cli.IntFlag{
			Name:  "recount-interval",
			Usage: "Re-read the producer's outstanding count every N submitted messages",
			Value: queue.DefaultRecountInterval,
		},
		&cli.DurationFlag{
			Name:  "pacing-delay",
			Usage: "Pause after each submission",
			Value: queue.DefaultPacingDelay,
		},
		&cli.DurationFlag{
			Name:  "session-timeout",
			Usage: "Upper bound for one flush, also used as the Kafka message timeout",
			Value: queue.DefaultSessionTimeout,
		},
		&cli.DurationFlag{
			Name:  "drain-poll-interval",
			Usage: "Pause between flushes while draining",
			Value: queue.DefaultDrainPollInterval,
		},
		&cli.IntFlag{
			Name:  "cancel-drain-attempts",
			Usage: "Flushes attempted after an interrupt before giving up",
			Value: queue.DefaultCancelDrainAttempts,
		},

		// Topic management
		&cli.BoolFlag{
			Name:  "create-topic",
			Usage: "Create the destination topics if they do not exist",
		},
		&cli.IntFlag{
			Name:  "topic-partitions",
			Usage: "Number of partitions for created topics",
			Value: 1,
		},
		&cli.IntFlag{
			Name:  "topic-replication-factor",
			Usage: "Replication factor for created topics",
			Value: 1,
		},

		// Kafka
		&cli.StringFlag{
			Name:  "compression",
			Usage: "Kafka compression codec (none, gzip, snappy, lz4, zstd)",
			Value: "gzip",
		},
		&cli.StringFlag{
			Name:  "kafka-client-id",
			Usage: "The Kafka client ID to use",
			Value: "alert-republisher",
		},
		&cli.BoolFlag{
			Name:  "kafka-enable-logs",
			Usage: "Forward librdkafka logs at debug level",
		},
		&cli.DurationFlag{
			Name:  "kafka-close-timeout",
			Usage: "How long closing the producer waits for pending messages",
			Value: 15 * time.Second,
		},
		&cli.StringFlag{
			Name:  "kafka-sasl-username",
			Usage: "SASL username, overrides the one in the stream URL",
		},
		&cli.StringFlag{
			Name:  "kafka-sasl-password",
			Usage: "SASL password, prefer KAFKA_SASL_PASSWORD",
		},
		&cli.StringFlag{
			Name:  "kafka-sasl-mechanism",
			Usage: "SASL mechanism (PLAIN, SCRAM-SHA-256, SCRAM-SHA-512)",
		},
		&cli.StringFlag{
			Name:  "kafka-security-protocol",
			Usage: "Kafka security protocol (PLAINTEXT, SSL, SASL_PLAINTEXT, SASL_SSL)",
		},

		// Metrics
		&cli.StringFlag{
			Name:    "metrics-host",
			Usage:   "Host for Prometheus metrics server (empty for all interfaces)",
			EnvVars: []string{"METRICS_HOST"},
			Value:   "",
		},
		&cli.IntFlag{
			Name:    "metrics-port",
			Usage:   "Port for Prometheus metrics server, 0 disables it",
			EnvVars: []string{"METRICS_PORT"},
			Value:   0,
		},
		&cli.StringFlag{
			Name:    "environment",
			Usage:   "Deployment environment for metrics labeling (e.g., 'production', 'staging')",
			EnvVars: []string{"ENVIRONMENT"},
		},
		&cli.StringFlag{
			Name:    "region",
			Usage:   "Cloud region for metrics labeling (e.g., 'us-east-1')",
			EnvVars: []string{"REGION"},
		},
		&cli.StringFlag{
			Name:    "cloud-provider",
			Usage:   "Cloud provider for metrics labeling (e.g., 'aws', 'oci', 'gcp')",
			EnvVars: []string{"CLOUD_PROVIDER"},
		},
	}
	return append(logFlags(), flags...)
}

func schemaFlags() []cli.Flag {
	return append(logFlags(), &cli.StringFlag{
		Name:    "record-name",
		Aliases: []string{"n"},
		Usage:   "Name of the top-level Avro record",
		Value:   avro.DefaultRecordName,
	})
}
