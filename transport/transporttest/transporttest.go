// Package transporttest provides a static transport.Config and recording
// pub/sub stubs for backend tests.
package transporttest

import (
	"context"
	"sync"

	"github.com/ThreeDotsLabs/watermill/message"
)

// Config is a transport.Config backed by plain fields.
type Config struct {
	System             string
	KafkaBrokers       []string
	KafkaConsumerGroup string
	RabbitMQURL        string
	NATSURL            string
	NATSQueueGroup     string
	HTTPServerAddress  string
	HTTPPublisherURL   string
	AWSRegion          string
	AWSAccountID       string
	AWSAccessKeyID     string
	AWSSecretAccessKey string
	AWSEndpoint        string
}

func (c Config) GetPubSubSystem() string       { return c.System }
func (c Config) GetKafkaBrokers() []string     { return c.KafkaBrokers }
func (c Config) GetKafkaConsumerGroup() string { return c.KafkaConsumerGroup }
func (c Config) GetRabbitMQURL() string        { return c.RabbitMQURL }
func (c Config) GetNATSURL() string            { return c.NATSURL }
func (c Config) GetNATSQueueGroup() string     { return c.NATSQueueGroup }
func (c Config) GetHTTPServerAddress() string  { return c.HTTPServerAddress }
func (c Config) GetHTTPPublisherURL() string   { return c.HTTPPublisherURL }
func (c Config) GetAWSRegion() string          { return c.AWSRegion }
func (c Config) GetAWSAccountID() string       { return c.AWSAccountID }
func (c Config) GetAWSAccessKeyID() string     { return c.AWSAccessKeyID }
func (c Config) GetAWSSecretAccessKey() string { return c.AWSSecretAccessKey }
func (c Config) GetAWSEndpoint() string        { return c.AWSEndpoint }

// Publisher records published messages.
type Publisher struct {
	mu       sync.Mutex
	Messages map[string][]*message.Message
	Closed   int
	Err      error
}

func (p *Publisher) Publish(topic string, msgs ...*message.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return p.Err
	}
	if p.Messages == nil {
		p.Messages = make(map[string][]*message.Message)
	}
	p.Messages[topic] = append(p.Messages[topic], msgs...)
	return nil
}

// Published returns a copy of the messages sent to topic.
func (p *Publisher) Published(topic string) []*message.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*message.Message(nil), p.Messages[topic]...)
}

func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Closed++
	return nil
}

// Subscriber hands out closed channels.
type Subscriber struct {
	Closed int
}

func (s *Subscriber) Subscribe(context.Context, string) (<-chan *message.Message, error) {
	ch := make(chan *message.Message)
	close(ch)
	return ch, nil
}

func (s *Subscriber) Close() error {
	s.Closed++
	return nil
}
