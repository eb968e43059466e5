package config

import (
	"errors"
	"fmt"
	"strings"
)

// TransportOptions selects and configures the message transport used by the
// message adapter and the lifecycle forwarder. Each transport only reads the
// keys relevant to it.
type TransportOptions struct {
	// PubSubSystem names a registered transport: "channel", "kafka",
	// "rabbitmq", "nats", "http" or "aws".
	PubSubSystem string `mapstructure:"pubsub_system" yaml:"pubsub_system"`

	KafkaBrokers       []string `mapstructure:"kafka_brokers" yaml:"kafka_brokers,omitempty"`
	KafkaConsumerGroup string   `mapstructure:"kafka_consumer_group" yaml:"kafka_consumer_group,omitempty"`

	RabbitMQURL string `mapstructure:"rabbitmq_url" yaml:"rabbitmq_url,omitempty"`

	NATSURL        string `mapstructure:"nats_url" yaml:"nats_url,omitempty"`
	NATSQueueGroup string `mapstructure:"nats_queue_group" yaml:"nats_queue_group,omitempty"`

	HTTPServerAddress string `mapstructure:"http_server_address" yaml:"http_server_address,omitempty"`
	HTTPPublisherURL  string `mapstructure:"http_publisher_url" yaml:"http_publisher_url,omitempty"`

	AWSRegion          string `mapstructure:"aws_region" yaml:"aws_region,omitempty"`
	AWSAccountID       string `mapstructure:"aws_account_id" yaml:"aws_account_id,omitempty"`
	AWSAccessKeyID     string `mapstructure:"aws_access_key_id" yaml:"aws_access_key_id,omitempty"`
	AWSSecretAccessKey string `mapstructure:"aws_secret_access_key" yaml:"aws_secret_access_key,omitempty"`
	// AWSEndpoint optionally points to a custom endpoint such as LocalStack.
	AWSEndpoint string `mapstructure:"aws_endpoint" yaml:"aws_endpoint,omitempty"`
}

// Getter methods implement transport.Config.
func (t *TransportOptions) GetPubSubSystem() string       { return t.PubSubSystem }
func (t *TransportOptions) GetKafkaBrokers() []string     { return t.KafkaBrokers }
func (t *TransportOptions) GetKafkaConsumerGroup() string { return t.KafkaConsumerGroup }
func (t *TransportOptions) GetRabbitMQURL() string        { return t.RabbitMQURL }
func (t *TransportOptions) GetNATSURL() string            { return t.NATSURL }
func (t *TransportOptions) GetNATSQueueGroup() string     { return t.NATSQueueGroup }
func (t *TransportOptions) GetHTTPServerAddress() string  { return t.HTTPServerAddress }
func (t *TransportOptions) GetHTTPPublisherURL() string   { return t.HTTPPublisherURL }
func (t *TransportOptions) GetAWSRegion() string          { return t.AWSRegion }
func (t *TransportOptions) GetAWSAccountID() string       { return t.AWSAccountID }
func (t *TransportOptions) GetAWSAccessKeyID() string     { return t.AWSAccessKeyID }
func (t *TransportOptions) GetAWSSecretAccessKey() string { return t.AWSSecretAccessKey }
func (t *TransportOptions) GetAWSEndpoint() string        { return t.AWSEndpoint }

func (t TransportOptions) redacted() TransportOptions {
	copy := t
	if copy.AWSSecretAccessKey != "" {
		copy.AWSSecretAccessKey = "***REDACTED***"
	}
	if copy.AWSAccessKeyID != "" {
		copy.AWSAccessKeyID = "***REDACTED***"
	}
	if copy.RabbitMQURL != "" {
		copy.RabbitMQURL = redactURLCredentials(copy.RabbitMQURL)
	}
	if copy.NATSURL != "" {
		copy.NATSURL = redactURLCredentials(copy.NATSURL)
	}
	return copy
}

func (t TransportOptions) String() string {
	type transportAlias TransportOptions
	return fmt.Sprintf("%+v", transportAlias(t.redacted()))
}

// validate checks transport-specific required fields. Unknown systems pass so
// custom transports can be registered.
func (t *TransportOptions) validate() []error {
	switch strings.ToLower(t.PubSubSystem) {
	case "kafka":
		if len(t.KafkaBrokers) == 0 {
			return []error{errors.New("transport: kafka brokers are required")}
		}
	case "rabbitmq":
		if t.RabbitMQURL == "" {
			return []error{errors.New("transport: rabbitmq URL is required")}
		}
	case "nats":
		if t.NATSURL == "" {
			return []error{errors.New("transport: nats URL is required")}
		}
	case "aws":
		if t.AWSRegion == "" {
			return []error{errors.New("transport: aws region is required")}
		}
	}
	return nil
}
