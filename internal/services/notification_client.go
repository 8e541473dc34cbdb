package services

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"corgi-rewards/proto/notifications"
)

// Notifier is the best-effort notification collaborator. Callers discard its
// errors after logging; a notification failure never fails a distribution.
type Notifier interface {
	Notify(ctx context.Context, userID int64, event string, payload string) error
}

// NotificationClient is a gRPC client for the notification service that
// pushes Telegram messages to buddies.
type NotificationClient struct {
	client     notifications.NotificationServiceClient
	connection *grpc.ClientConn
}

func NewNotificationClient(serviceURL string) (*NotificationClient, error) {
	conn, err := grpc.NewClient(serviceURL, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to notification service: %v", err)
	}

	return &NotificationClient{
		client:     notifications.NewNotificationServiceClient(conn),
		connection: conn,
	}, nil
}

func (c *NotificationClient) Close() {
	if c.connection != nil {
		c.connection.Close()
	}
}

func (c *NotificationClient) Notify(ctx context.Context, userID int64, event string, payload string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := c.client.Notify(ctx, &notifications.NotifyRequest{
		UserId:  userID,
		Event:   event,
		Payload: payload,
	})
	return err
}
