// Package transports registers every built-in backend with the default
// transport registry.
package transports

import (
	_ "github.com/drblury/stonekit/transport/aws"
	_ "github.com/drblury/stonekit/transport/channel"
	_ "github.com/drblury/stonekit/transport/http"
	_ "github.com/drblury/stonekit/transport/kafka"
	_ "github.com/drblury/stonekit/transport/nats"
	_ "github.com/drblury/stonekit/transport/rabbitmq"
)
