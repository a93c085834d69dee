package kafka

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
)

// Default producer values
const (
	DefaultPort           = "9092"
	DefaultClientID       = "alert-republisher"
	DefaultCompression    = "gzip"
	DefaultMessageTimeout = 300 * time.Second
	DefaultCloseTimeout   = 15 * time.Second
	DefaultSASLMechanism  = "SCRAM-SHA-512"
	DefaultSASLProtocol   = "SASL_SSL"

	messageMaxBytes = 20971521 // 20MB
	urlScheme       = "kafka://"
)

// ProducerConfig holds the configuration for a Producer.
type ProducerConfig struct {
	BootstrapServers string        `env:"KAFKA_BROKERS"         envDefault:"localhost:9092"`    // Comma separated broker addresses
	Topics           []string      `env:"KAFKA_TOPICS"          envSeparator:","`               // Destination topics, every message goes to each
	ClientID         string        `env:"KAFKA_CLIENT_ID"       envDefault:"alert-republisher"` // client.id reported to the brokers
	Compression      string        `env:"KAFKA_COMPRESSION"     envDefault:"gzip"`              // compression.type
	MessageTimeout   time.Duration `env:"KAFKA_MESSAGE_TIMEOUT" envDefault:"300s"`              // How long librdkafka keeps retrying a message
	CloseTimeout     time.Duration `env:"KAFKA_CLOSE_TIMEOUT"   envDefault:"15s"`               // Final flush bound when closing
	EnableLogs       bool          `env:"KAFKA_ENABLE_LOGS"     envDefault:"false"`             // Forward librdkafka logs at debug level
	SASL             SASLConfig    `envPrefix:"KAFKA_SASL_"`
}

// SASLConfig holds optional SASL credentials.
type SASLConfig struct {
	Username         string `env:"USERNAME"`
	Password         string `env:"PASSWORD"`
	Mechanism        string `env:"MECHANISM"`
	SecurityProtocol string `env:"SECURITY_PROTOCOL"`
}

// Enabled reports whether SASL authentication is configured.
func (s SASLConfig) Enabled() bool {
	return s.Username != ""
}

// ApplyToConfigMap sets the SASL properties on cfg. Without a username only
// an explicit security protocol is applied.
func (s SASLConfig) ApplyToConfigMap(cfg *kafka.ConfigMap) {
	if !s.Enabled() {
		if s.SecurityProtocol != "" {
			(*cfg)["security.protocol"] = s.SecurityProtocol
		}
		return
	}

	mechanism := s.Mechanism
	if mechanism == "" {
		mechanism = DefaultSASLMechanism
	}
	protocol := s.SecurityProtocol
	if protocol == "" {
		protocol = DefaultSASLProtocol
	}

	(*cfg)["sasl.username"] = s.Username
	(*cfg)["sasl.password"] = s.Password
	(*cfg)["sasl.mechanism"] = mechanism
	(*cfg)["security.protocol"] = protocol
}

// LoadProducerConfig loads the producer configuration from environment variables.
func LoadProducerConfig() (ProducerConfig, error) {
	var cfg ProducerConfig
	if err := env.Parse(&cfg); err != nil {
		return ProducerConfig{}, fmt.Errorf("failed to parse producer config: %w", err)
	}
	return cfg, nil
}

// WithDefaults returns a copy of the config with zero values replaced by
// defaults. This method does not mutate the original config.
func (c ProducerConfig) WithDefaults() ProducerConfig {
	if c.ClientID == "" {
		c.ClientID = DefaultClientID
	}
	if c.Compression == "" {
		c.Compression = DefaultCompression
	}
	if c.MessageTimeout == 0 {
		c.MessageTimeout = DefaultMessageTimeout
	}
	if c.CloseTimeout == 0 {
		c.CloseTimeout = DefaultCloseTimeout
	}
	return c
}

// Validate checks that brokers and at least one topic are set.
func (c ProducerConfig) Validate() error {
	if strings.TrimSpace(c.BootstrapServers) == "" {
		return errors.New("bootstrap servers cannot be empty")
	}
	if len(c.Topics) == 0 {
		return errors.New("at least one topic is required")
	}
	for _, t := range c.Topics {
		if strings.TrimSpace(t) == "" {
			return errors.New("topic name cannot be empty")
		}
	}
	if c.MessageTimeout < 0 || c.CloseTimeout < 0 {
		return errors.New("timeouts must be >= 0")
	}
	return nil
}

// ConfigMap builds the librdkafka producer configuration.
func (c ProducerConfig) ConfigMap() *kafka.ConfigMap {
	cfg := &kafka.ConfigMap{
		// Required
		"bootstrap.servers": c.BootstrapServers,
		"client.id":         c.ClientID,

		// Reliability: wait for all replicas to acknowledge
		"acks":               "all",
		"enable.idempotence": true,
		"message.timeout.ms": int(c.MessageTimeout.Milliseconds()),

		// Batching and compression happen inside librdkafka
		"linger.ms":        5,
		"compression.type": c.Compression,

		"go.logs.channel.enable": c.EnableLogs,
		"message.max.bytes":      messageMaxBytes,
	}
	c.SASL.ApplyToConfigMap(cfg)
	return cfg
}

// ParseURL parses a stream URL of the form
//
//	kafka://[username@]broker[:port][,broker[:port]...]/topic[,topic...]
//
// into broker list, topics and optional SASL username. Brokers without a
// port get DefaultPort.
func ParseURL(raw string) (brokers string, topics []string, username string, err error) {
	if !strings.HasPrefix(raw, urlScheme) {
		return "", nil, "", fmt.Errorf("invalid stream url %q: scheme must be kafka://", raw)
	}
	rest := strings.TrimPrefix(raw, urlScheme)

	hostPart, topicPart, ok := strings.Cut(rest, "/")
	if !ok || topicPart == "" {
		return "", nil, "", fmt.Errorf("invalid stream url %q: no topic", raw)
	}

	if user, hosts, found := strings.Cut(hostPart, "@"); found {
		username = user
		hostPart = hosts
	}
	if hostPart == "" {
		return "", nil, "", fmt.Errorf("invalid stream url %q: no broker", raw)
	}

	var hosts []string
	for _, h := range strings.Split(hostPart, ",") {
		h = strings.TrimSpace(h)
		if h == "" {
			return "", nil, "", fmt.Errorf("invalid stream url %q: empty broker", raw)
		}
		if !strings.Contains(h, ":") {
			h += ":" + DefaultPort
		}
		hosts = append(hosts, h)
	}

	for _, t := range strings.Split(strings.TrimSuffix(topicPart, "/"), ",") {
		t = strings.TrimSpace(t)
		if t == "" {
			return "", nil, "", fmt.Errorf("invalid stream url %q: empty topic", raw)
		}
		topics = append(topics, t)
	}

	return strings.Join(hosts, ","), topics, username, nil
}
