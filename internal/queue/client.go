package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

// ErrAlreadyQueued means tracking for this order id was enqueued before.
var ErrAlreadyQueued = errors.New("order tracking already queued")

type Client struct {
	client *asynq.Client
	queue  string
}

func NewClient(redisOpt asynq.RedisClientOpt, queueName string) *Client {
	return &Client{
		client: asynq.NewClient(redisOpt),
		queue:  queueName,
	}
}

// EnqueueTrackOrder schedules delivery of the order to the tracking webhook.
// The order id doubles as the task id so a resubmitted order is not tracked
// twice.
func (c *Client) EnqueueTrackOrder(ctx context.Context, payload TrackOrderPayload) (*asynq.TaskInfo, error) {
	task, err := NewTrackOrderTask(payload)
	if err != nil {
		return nil, err
	}
	info, err := c.client.EnqueueContext(
		ctx,
		task,
		asynq.Queue(c.queue),
		asynq.TaskID(payload.OrderID),
		asynq.MaxRetry(8),
		asynq.Timeout(time.Minute),
		asynq.Retention(24*time.Hour),
	)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return nil, ErrAlreadyQueued
	}
	if err != nil {
		return nil, fmt.Errorf("enqueue %s: %w", TypeTrackOrder, err)
	}
	return info, nil
}

func (c *Client) Close() error {
	return c.client.Close()
}
