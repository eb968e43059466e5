package aws

import (
	"context"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-aws/sns"
	"github.com/ThreeDotsLabs/watermill-aws/sqs"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/stonekit/transport"
	"github.com/drblury/stonekit/transport/transporttest"
)

func TestRegistered(t *testing.T) {
	assert.True(t, transport.DefaultRegistry.Has(Name))
}

func TestAccountIDFor(t *testing.T) {
	assert.Equal(t, "123456789012", accountIDFor(`"123456789012"`, false))
	assert.Equal(t, "", accountIDFor("", false))
	assert.Equal(t, localstackAccountID, accountIDFor("", true))
	assert.Equal(t, localstackAccountID, accountIDFor("short", true))
	assert.Equal(t, "123456789012", accountIDFor("123456789012", true))
}

func TestEndpointURL(t *testing.T) {
	u, err := endpointURL("")
	require.NoError(t, err)
	assert.Nil(t, u)

	u, err = endpointURL("http://localhost:4566")
	require.NoError(t, err)
	assert.Equal(t, "localhost:4566", u.Host)

	_, err = endpointURL("not a url")
	assert.Error(t, err)

	snsOpts, sqsOpts := endpointOptions(u)
	assert.Len(t, snsOpts, 1)
	assert.Len(t, sqsOpts, 1)
}

func TestQueueNameFromTopic(t *testing.T) {
	name, err := queueNameFromTopic(context.Background(), "arn:aws:sns:eu-west-1:000000000000:orders")
	require.NoError(t, err)
	assert.Equal(t, "orders", name)
}

func TestBuildAppliesConfig(t *testing.T) {
	origLoad, origPub, origSub := loadConfig, newPublisher, newSubscriber
	t.Cleanup(func() { loadConfig, newPublisher, newSubscriber = origLoad, origPub, origSub })

	loadConfig = func(_ context.Context, opts ...func(*awsconfig.LoadOptions) error) (aws.Config, error) {
		var lo awsconfig.LoadOptions
		for _, opt := range opts {
			require.NoError(t, opt(&lo))
		}
		return aws.Config{Region: lo.Region, Credentials: lo.Credentials}, nil
	}
	var pubCfg sns.PublisherConfig
	newPublisher = func(cfg sns.PublisherConfig, _ watermill.LoggerAdapter) (message.Publisher, error) {
		pubCfg = cfg
		return &transporttest.Publisher{}, nil
	}
	newSubscriber = func(sns.SubscriberConfig, sqs.SubscriberConfig, watermill.LoggerAdapter) (message.Subscriber, error) {
		return &transporttest.Subscriber{}, nil
	}

	_, err := Build(context.Background(), transporttest.Config{
		AWSRegion:          "eu-west-1",
		AWSAccessKeyID:     "key",
		AWSSecretAccessKey: "secret",
		AWSEndpoint:        "http://localhost:4566",
	}, watermill.NopLogger{})
	require.NoError(t, err)

	assert.Equal(t, "eu-west-1", pubCfg.AWSConfig.Region)
	assert.Len(t, pubCfg.OptFns, 1)
	creds, err := pubCfg.AWSConfig.Credentials.Retrieve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "key", creds.AccessKeyID)
}
