package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"

	domain "github.com/oakmart/storefront-api/internal/domain"
	"github.com/oakmart/storefront-api/internal/services"
)

// PubSubOrderEventPublisher publishes order lifecycle events to a Pub/Sub topic.
type PubSubOrderEventPublisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

// NewPubSubOrderEventPublisher constructs a Pub/Sub backed order event publisher.
func NewPubSubOrderEventPublisher(topic *pubsub.Topic) (*PubSubOrderEventPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub order event publisher: topic is required")
	}
	return &PubSubOrderEventPublisher{
		topic:   topic,
		marshal: json.Marshal,
	}, nil
}

type orderEventMessage struct {
	Type        string         `json:"type"`
	OrderID     string         `json:"orderId"`
	OrderNumber string         `json:"orderNumber"`
	UserID      string         `json:"userId"`
	Status      string         `json:"status"`
	ActorID     string         `json:"actorId,omitempty"`
	OccurredAt  time.Time      `json:"occurredAt"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// PublishOrderEvent enqueues an order lifecycle event on the configured topic.
func (p *PubSubOrderEventPublisher) PublishOrderEvent(ctx context.Context, event services.OrderEvent) error {
	if p == nil || p.topic == nil {
		return errors.New("pubsub order event publisher: not initialised")
	}

	data, err := p.marshal(orderEventMessage{
		Type:        event.Type,
		OrderID:     event.OrderID,
		OrderNumber: event.OrderNumber,
		UserID:      event.UserID,
		Status:      string(event.Status),
		ActorID:     event.ActorID,
		OccurredAt:  event.OccurredAt,
		Metadata:    event.Metadata,
	})
	if err != nil {
		return fmt.Errorf("marshal order event: %w", err)
	}

	attrs := make(map[string]string)
	setAttr(attrs, "type", event.Type)
	setAttr(attrs, "orderId", event.OrderID)
	setAttr(attrs, "orderNumber", event.OrderNumber)
	setAttr(attrs, "userId", event.UserID)
	setAttr(attrs, "status", string(event.Status))

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attrs,
	})

	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish order event: %w", err)
	}
	return nil
}

// PubSubStockEventPublisher publishes stock change events to a Pub/Sub topic.
type PubSubStockEventPublisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

// NewPubSubStockEventPublisher constructs a Pub/Sub backed stock event publisher.
func NewPubSubStockEventPublisher(topic *pubsub.Topic) (*PubSubStockEventPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub stock event publisher: topic is required")
	}
	return &PubSubStockEventPublisher{
		topic:   topic,
		marshal: json.Marshal,
	}, nil
}

type stockEventMessage struct {
	Type       string    `json:"type"`
	OrderID    string    `json:"orderId,omitempty"`
	ProductID  string    `json:"productId"`
	Delta      int       `json:"delta"`
	Remaining  int       `json:"remaining"`
	OccurredAt time.Time `json:"occurredAt"`
}

// PublishStockEvent enqueues a stock change event on the configured topic.
func (p *PubSubStockEventPublisher) PublishStockEvent(ctx context.Context, event domain.StockEvent) error {
	if p == nil || p.topic == nil {
		return errors.New("pubsub stock event publisher: not initialised")
	}

	data, err := p.marshal(stockEventMessage{
		Type:       event.Type,
		OrderID:    event.OrderRef,
		ProductID:  event.ProductRef,
		Delta:      event.Delta,
		Remaining:  event.Remaining,
		OccurredAt: event.OccurredAt,
	})
	if err != nil {
		return fmt.Errorf("marshal stock event: %w", err)
	}

	attrs := make(map[string]string)
	setAttr(attrs, "type", event.Type)
	setAttr(attrs, "orderId", event.OrderRef)
	setAttr(attrs, "productId", event.ProductRef)
	attrs["delta"] = strconv.Itoa(event.Delta)

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attrs,
	})

	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish stock event: %w", err)
	}
	return nil
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
