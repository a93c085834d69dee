package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/ava-labs/alert-republisher/pkg/kafka"
	"github.com/ava-labs/alert-republisher/pkg/message"
	"github.com/ava-labs/alert-republisher/pkg/queue"
)

// Config holds all configuration for the publish command
type Config struct {
	// Application settings
	Verbose  bool
	LogLevel string

	// Input
	URL            string
	Messages       []string
	Format         message.Format
	JSONSchemaPath string
	Sender         string

	// Flow control
	Publish queue.Config

	// Kafka settings
	Kafka                  kafka.ProducerConfig
	CreateTopic            bool
	TopicPartitions        int
	TopicReplicationFactor int

	// Metrics settings
	MetricsHost   string
	MetricsPort   int
	Environment   string
	Region        string
	CloudProvider string
}

// MetricsAddr returns the formatted metrics address
func (c *Config) MetricsAddr() string {
	return fmt.Sprintf("%s:%d", c.MetricsHost, c.MetricsPort)
}

// MetricsEnabled reports whether the metrics server should run.
func (c *Config) MetricsEnabled() bool {
	return c.MetricsPort > 0
}

// buildConfig builds a Config from CLI context flags. The first argument is
// the stream URL and the rest are message files. Publish and Kafka settings
// start from the environment and explicit flags win.
func buildConfig(c *cli.Context) (*Config, error) {
	if c.NArg() < 1 {
		return nil, errors.New("missing stream URL")
	}
	url := c.Args().First()

	format, err := message.ParseFormat(c.String("format"))
	if err != nil {
		return nil, err
	}

	publishCfg, err := buildPublishConfig(c)
	if err != nil {
		return nil, err
	}

	kafkaCfg, err := buildKafkaConfig(c, url, publishCfg)
	if err != nil {
		return nil, err
	}

	return &Config{
		Verbose:                c.Bool("verbose"),
		LogLevel:               c.String("log-level"),
		URL:                    url,
		Messages:               c.Args().Tail(),
		Format:                 format,
		JSONSchemaPath:         c.String("json-schema"),
		Sender:                 c.String("sender"),
		Publish:                publishCfg,
		Kafka:                  kafkaCfg,
		CreateTopic:            c.Bool("create-topic"),
		TopicPartitions:        c.Int("topic-partitions"),
		TopicReplicationFactor: c.Int("topic-replication-factor"),
		MetricsHost:            c.String("metrics-host"),
		MetricsPort:            c.Int("metrics-port"),
		Environment:            c.String("environment"),
		Region:                 c.String("region"),
		CloudProvider:          c.String("cloud-provider"),
	}, nil
}

// buildPublishConfig loads queue.Config from PUBLISH_* variables and applies
// the flags that were set explicitly.
func buildPublishConfig(c *cli.Context) (queue.Config, error) {
	cfg, err := queue.LoadConfig()
	if err != nil {
		return queue.Config{}, err
	}

	if c.IsSet("ceiling") {
		cfg.Ceiling = c.Int("ceiling")
	}
	if c.IsSet("report-interval") {
		cfg.ReportInterval = c.Int("report-interval")
	}
	if c.IsSet("recount-interval") {
		cfg.RecountInterval = c.Int("recount-interval")
	}
	if c.IsSet("cancel-drain-attempts") {
		cfg.CancelDrainAttempts = c.Int("cancel-drain-attempts")
	}
	if c.IsSet("skip-invalid") {
		cfg.SkipLoadErrors = c.Bool("skip-invalid")
	}
	for name, field := range map[string]**time.Duration{
		"pacing-delay":        &cfg.PacingDelay,
		"session-timeout":     &cfg.SessionTimeout,
		"drain-poll-interval": &cfg.DrainPollInterval,
	} {
		if c.IsSet(name) {
			d := c.Duration(name)
			*field = &d
		}
	}

	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return queue.Config{}, fmt.Errorf("invalid publish config: %w", err)
	}
	return cfg, nil
}

// buildKafkaConfig loads kafka.ProducerConfig from KAFKA_* variables, takes
// brokers, topics and username from the stream URL and applies the flags
// that were set explicitly. Messages time out after the session timeout.
func buildKafkaConfig(c *cli.Context, url string, publishCfg queue.Config) (kafka.ProducerConfig, error) {
	cfg, err := kafka.LoadProducerConfig()
	if err != nil {
		return kafka.ProducerConfig{}, err
	}

	brokers, topics, username, err := kafka.ParseURL(url)
	if err != nil {
		return kafka.ProducerConfig{}, err
	}
	cfg.BootstrapServers = brokers
	cfg.Topics = topics
	if username != "" {
		cfg.SASL.Username = username
	}
	cfg.MessageTimeout = *publishCfg.SessionTimeout

	if c.IsSet("compression") || cfg.Compression == "" {
		cfg.Compression = strings.ToLower(c.String("compression"))
	}
	if c.IsSet("kafka-client-id") || cfg.ClientID == "" {
		cfg.ClientID = c.String("kafka-client-id")
	}
	if c.IsSet("kafka-enable-logs") {
		cfg.EnableLogs = c.Bool("kafka-enable-logs")
	}
	if c.IsSet("kafka-close-timeout") {
		cfg.CloseTimeout = c.Duration("kafka-close-timeout")
	}
	if c.IsSet("kafka-sasl-username") {
		cfg.SASL.Username = c.String("kafka-sasl-username")
	}
	if c.IsSet("kafka-sasl-password") {
		cfg.SASL.Password = c.String("kafka-sasl-password")
	}
	if c.IsSet("kafka-sasl-mechanism") {
		cfg.SASL.Mechanism = c.String("kafka-sasl-mechanism")
	}
	if c.IsSet("kafka-security-protocol") {
		cfg.SASL.SecurityProtocol = c.String("kafka-security-protocol")
	}

	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return kafka.ProducerConfig{}, fmt.Errorf("invalid kafka config: %w", err)
	}
	return cfg, nil
}
