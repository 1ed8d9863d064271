package feed

import (
	"context"
	"fmt"
	"log"

	"cloud.google.com/go/pubsub"
	"google.golang.org/api/option"
)

// PubSub publishes to a Google Cloud Pub/Sub topic.
type PubSub struct {
	client *pubsub.Client
	topic  *pubsub.Topic
}

// NewPubSub connects to topicName in projectID. The topic must already exist.
func NewPubSub(ctx context.Context, projectID, topicName, credentialsFile string) (*PubSub, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	client, err := pubsub.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create pubsub client: %w", err)
	}

	topic := client.Topic(topicName)
	exists, err := topic.Exists(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("checking topic %s: %w", topicName, err)
	}
	if !exists {
		client.Close()
		return nil, fmt.Errorf("topic %s does not exist", topicName)
	}

	log.Printf("[PubSub] Publishing task snapshots to topic: %s", topicName)
	return &PubSub{client: client, topic: topic}, nil
}

func (p *PubSub) Publish(ctx context.Context, data []byte, attrs map[string]string) error {
	res := p.topic.Publish(ctx, &pubsub.Message{Data: data, Attributes: attrs})
	_, err := res.Get(ctx)
	return err
}

// Close flushes pending messages and releases the client.
func (p *PubSub) Close() error {
	p.topic.Stop()
	return p.client.Close()
}
