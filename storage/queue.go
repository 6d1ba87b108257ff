package storage

import (
	"context"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"

	"prism-tracker/domain"
)

// queueClient is the subset of *azqueue.QueueClient used by EventQueue.
type queueClient interface {
	EnqueueMessage(ctx context.Context, content string, o *azqueue.EnqueueMessageOptions) (azqueue.EnqueueMessagesResponse, error)
}

// EventQueue forwards broadcast events to an Azure queue for downstream
// workers.
type EventQueue struct {
	queue queueClient
}

// NewEventQueue connects to the named queue.
func NewEventQueue(connStr, name string) (*EventQueue, error) {
	opts := azqueue.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    5,
				TryTimeout:    time.Minute * 5,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 60,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	q, err := azqueue.NewQueueClientFromConnectionString(connStr, name, &opts)
	if err != nil {
		return nil, err
	}
	return &EventQueue{queue: q}, nil
}

// Broadcast enqueues ev. Failures are logged and never reach the caller.
func (q *EventQueue) Broadcast(ctx context.Context, ev domain.Event) {
	if q == nil || q.queue == nil {
		return
	}
	data, err := sonic.Marshal(ev)
	if err != nil {
		log.WithError(err).WithField("type", ev.Type).Error("failed to encode event for queue")
		return
	}
	if _, err := q.queue.EnqueueMessage(ctx, string(data), nil); err != nil {
		log.WithError(err).WithField("type", ev.Type).Error("failed to enqueue event")
	}
}
