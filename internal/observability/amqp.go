package observability

import (
	"context"
	"sync/atomic"
)

// EventPublisher is the subset of the rabbitmq publisher used for lifecycle events.
type EventPublisher interface {
	Publish(ctx context.Context, routingKey string, event any, headers map[string]string) error
}

type publisherHolder struct {
	p EventPublisher
}

var defaultPublisher atomic.Value

// SetPublisher installs the publisher used by PublishEvent. A nil publisher disables events.
func SetPublisher(publisher EventPublisher) {
	defaultPublisher.Store(publisherHolder{p: publisher})
}

// PublishEvent sends an event on the shared exchange and counts failures.
func PublishEvent(ctx context.Context, routingKey string, message any, headers map[string]string) error {
	holder, _ := defaultPublisher.Load().(publisherHolder)
	if holder.p == nil {
		return nil
	}

	err := holder.p.Publish(ctx, routingKey, message, headers)
	if err != nil {
		IncAMQPPublishError()
	}
	return err
}
