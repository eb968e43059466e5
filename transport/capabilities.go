package transport

// Capabilities describes delivery guarantees of a backend. The message
// adapter reads them to decide whether failed messages are nacked or
// settled.
type Capabilities struct {
	Name string

	// Ordering is true when messages on one topic arrive in publish order.
	Ordering bool
	// Ack and Nack report explicit acknowledgement support. Without Nack a
	// failed message is not redelivered by the broker.
	Ack  bool
	Nack bool
	// Durable backends keep messages across process restarts.
	Durable bool
	// RemoteServer is true when the backend listens for inbound connections
	// itself rather than dialing a broker.
	RemoteServer bool

	// MaxMessageSize in bytes, zero when unknown.
	MaxMessageSize int64
}

// Redelivers reports whether a nacked message comes back.
func (c Capabilities) Redelivers() bool {
	return c.Ack && c.Nack
}

var (
	ChannelCapabilities = Capabilities{
		Name:     "channel",
		Ordering: true,
		Ack:      true,
		Nack:     true,
	}

	KafkaCapabilities = Capabilities{
		Name:           "kafka",
		Ordering:       true,
		Ack:            true,
		Durable:        true,
		MaxMessageSize: 1 << 20,
	}

	RabbitMQCapabilities = Capabilities{
		Name:     "rabbitmq",
		Ordering: true,
		Ack:      true,
		Nack:     true,
		Durable:  true,
	}

	NATSCapabilities = Capabilities{
		Name:           "nats",
		MaxMessageSize: 1 << 20,
	}

	AWSCapabilities = Capabilities{
		Name:           "aws",
		Ack:            true,
		Nack:           true,
		Durable:        true,
		MaxMessageSize: 256 << 10,
	}

	HTTPCapabilities = Capabilities{
		Name:         "http",
		RemoteServer: true,
	}
)
