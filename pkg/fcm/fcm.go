// Package fcm delivers task reminders as Firebase Cloud Messaging pushes.
package fcm

import (
	"context"
	"errors"
	"fmt"
	"log"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"

	"github.com/alaap-nair/studysync/pkg/reminder"
)

// Sender is the part of the messaging client the notifier uses.
type Sender interface {
	SendEachForMulticast(ctx context.Context, message *messaging.MulticastMessage) (*messaging.BatchResponse, error)
}

// Client sends reminder pushes to a fixed set of device tokens.
type Client struct {
	sender Sender
	tokens []string
	logger *log.Logger
}

// NewClient initializes a Firebase app from credentialsFile and returns a
// client that pushes to tokens. An empty credentialsFile uses application
// default credentials.
func NewClient(ctx context.Context, credentialsFile string, tokens []string) (*Client, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	app, err := firebase.NewApp(ctx, nil, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Firebase app: %w", err)
	}

	messagingClient, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get messaging client: %w", err)
	}

	log.Println("[FCM] Client initialized successfully")
	return NewClientWithSender(messagingClient, tokens, nil), nil
}

// NewClientWithSender builds a client over an existing sender.
func NewClientWithSender(sender Sender, tokens []string, logger *log.Logger) *Client {
	if logger == nil {
		logger = log.Default()
	}
	return &Client{sender: sender, tokens: tokens, logger: logger}
}

// Notify implements reminder.Notifier.
func (c *Client) Notify(ctx context.Context, r reminder.Reminder) error {
	if len(c.tokens) == 0 {
		c.logger.Printf("[FCM] No device tokens configured, dropping reminder for task %s", r.TaskID)
		return nil
	}

	title, body := r.Message()
	message := &messaging.MulticastMessage{
		Tokens: c.tokens,
		Notification: &messaging.Notification{
			Title: title,
			Body:  body,
		},
		Data: map[string]string{
			"type":     "task_reminder",
			"task_id":  r.TaskID,
			"priority": string(r.Priority),
		},
		Android: &messaging.AndroidConfig{
			Priority: "high",
		},
	}

	response, err := c.sender.SendEachForMulticast(ctx, message)
	if err != nil {
		return fmt.Errorf("failed to send FCM multicast message: %w", err)
	}

	c.logger.Printf("[FCM] Reminder for task %s: %d success, %d failures", r.TaskID, response.SuccessCount, response.FailureCount)
	if response.SuccessCount == 0 && response.FailureCount > 0 {
		var errs []error
		for i, resp := range response.Responses {
			if !resp.Success {
				errs = append(errs, fmt.Errorf("token %d: %w", i, resp.Error))
			}
		}
		return fmt.Errorf("reminder for task %s reached no device: %w", r.TaskID, errors.Join(errs...))
	}
	return nil
}
