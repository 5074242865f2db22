package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"

	"github.com/storefront/api/internal/services"
)

const defaultPublishTimeout = 5 * time.Second

// pubsubPublisher publishes JSON payloads with string attributes and waits for the server ack.
type pubsubPublisher struct {
	topic   *pubsub.Topic
	timeout time.Duration
	marshal func(any) ([]byte, error)
}

func newPubSubPublisher(topic *pubsub.Topic, timeout time.Duration) (pubsubPublisher, error) {
	if topic == nil {
		return pubsubPublisher{}, errors.New("topic is required")
	}
	if timeout <= 0 {
		timeout = defaultPublishTimeout
	}
	return pubsubPublisher{topic: topic, timeout: timeout, marshal: json.Marshal}, nil
}

func (p pubsubPublisher) publish(ctx context.Context, payload any, attrs map[string]string) (string, error) {
	data, err := p.marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	result := p.topic.Publish(ctx, &pubsub.Message{Data: data, Attributes: attrs})
	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish to %s: %w", p.topic.ID(), err)
	}
	return id, nil
}

// PubSubOrderEventPublisher emits order domain events for downstream consumers.
type PubSubOrderEventPublisher struct {
	pub pubsubPublisher
}

// NewPubSubOrderEventPublisher binds the publisher to the order events topic.
func NewPubSubOrderEventPublisher(topic *pubsub.Topic, timeout time.Duration) (*PubSubOrderEventPublisher, error) {
	pub, err := newPubSubPublisher(topic, timeout)
	if err != nil {
		return nil, fmt.Errorf("pubsub order event publisher: %w", err)
	}
	return &PubSubOrderEventPublisher{pub: pub}, nil
}

// PublishOrderEvent publishes the event. Attributes carry the event type, order and status
// so subscriptions can filter without decoding the payload.
func (p *PubSubOrderEventPublisher) PublishOrderEvent(ctx context.Context, event services.OrderEvent) (string, error) {
	if p == nil {
		return "", errors.New("pubsub order event publisher: not initialised")
	}
	attrs := map[string]string{}
	setAttr(attrs, "eventType", event.Type)
	setAttr(attrs, "orderId", event.OrderID)
	setAttr(attrs, "orderNumber", event.OrderNumber)
	setAttr(attrs, "status", string(event.Status))
	setAttr(attrs, "actor", event.Actor)
	return p.pub.publish(ctx, event, attrs)
}

func setAttr(attrs map[string]string, key, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
