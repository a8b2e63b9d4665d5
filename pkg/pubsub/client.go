package pubsub

import (
	"context"
	"fmt"
	"strings"

	"cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/leaflabhq/leaflab-backend/pkg/config"
)

// Client wraps the Pub/Sub client with the topics and subscriptions the
// backend publishes to and consumes from.
type Client struct {
	client    *pubsub.Client
	projectID string
	cfg       config.PubSubConfig
}

// New creates a Pub/Sub client and verifies the configured subscriptions
// exist. Missing infrastructure surfaces at boot, not on first publish.
func New(ctx context.Context, cfg config.Config) (*Client, error) {
	projectID := strings.TrimSpace(cfg.GCP.ProjectID)
	if projectID == "" {
		return nil, fmt.Errorf("pubsub: GCP project id is required")
	}

	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub: create client: %w", err)
	}

	c := &Client{
		client:    client,
		projectID: projectID,
		cfg:       cfg.PubSub,
	}

	if err := c.ensureSubscriptionsConfigured(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}
	return c, nil
}

// NotificationPublisher returns a publisher for the notification topic.
func (c *Client) NotificationPublisher() *pubsub.Publisher {
	return c.Publisher(c.cfg.NotificationTopic)
}

// NotificationSubscriber returns a subscriber for the notification subscription.
func (c *Client) NotificationSubscriber() *pubsub.Subscriber {
	return c.Subscriber(c.cfg.NotificationSubscription)
}

// Publisher returns a publisher for the given topic ID in the configured project.
func (c *Client) Publisher(topicID string) *pubsub.Publisher {
	return c.client.Publisher(topicName(c.projectID, topicID))
}

// Subscriber returns a subscriber for the given subscription ID in the
// configured project.
func (c *Client) Subscriber(subscriptionID string) *pubsub.Subscriber {
	return c.client.Subscriber(subscriptionName(c.projectID, subscriptionID))
}

// Ping re-checks the configured subscriptions, for readiness probes.
func (c *Client) Ping(ctx context.Context) error {
	return c.ensureSubscriptionsConfigured(ctx)
}

// Close releases the underlying client connections.
func (c *Client) Close() error {
	return c.client.Close()
}

func (c *Client) ensureSubscriptionsConfigured(ctx context.Context) error {
	for _, subscriptionID := range c.subscriptionIDs() {
		name := subscriptionName(c.projectID, subscriptionID)
		_, err := c.client.SubscriptionAdminClient.GetSubscription(ctx, &pubsubpb.GetSubscriptionRequest{
			Subscription: name,
		})
		if status.Code(err) == codes.NotFound {
			return fmt.Errorf("pubsub: subscription %q does not exist", name)
		}
		if err != nil {
			return fmt.Errorf("pubsub: get subscription %q: %w", name, err)
		}
	}
	return nil
}

func (c *Client) subscriptionIDs() []string {
	ids := make([]string, 0, 1)
	if strings.TrimSpace(c.cfg.NotificationSubscription) != "" {
		ids = append(ids, c.cfg.NotificationSubscription)
	}
	return ids
}

func topicName(projectID, topicID string) string {
	return fmt.Sprintf("projects/%s/topics/%s", projectID, topicID)
}

func subscriptionName(projectID, subscriptionID string) string {
	return fmt.Sprintf("projects/%s/subscriptions/%s", projectID, subscriptionID)
}
