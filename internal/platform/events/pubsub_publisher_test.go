package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	domain "github.com/oakmart/storefront-api/internal/domain"
	"github.com/oakmart/storefront-api/internal/services"
)

func newTestTopic(t *testing.T, name string) (*pubsub.Topic, *pstest.Server) {
	t.Helper()

	ctx := context.Background()
	srv := pstest.NewServer()
	t.Cleanup(func() {
		_ = srv.Close()
	})

	client, err := pubsub.NewClient(ctx, "test-project",
		option.WithEndpoint(srv.Addr),
		option.WithoutAuthentication(),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	)
	if err != nil {
		t.Fatalf("pubsub.NewClient: %v", err)
	}
	t.Cleanup(func() {
		_ = client.Close()
	})

	topic, err := client.CreateTopic(ctx, name)
	if err != nil {
		t.Fatalf("CreateTopic: %v", err)
	}
	return topic, srv
}

func TestPubSubOrderEventPublisherPublishesMessage(t *testing.T) {
	ctx := context.Background()
	topic, srv := newTestTopic(t, "order-events")

	publisher, err := NewPubSubOrderEventPublisher(topic)
	if err != nil {
		t.Fatalf("NewPubSubOrderEventPublisher: %v", err)
	}

	occurredAt := time.Date(2025, 3, 4, 10, 0, 0, 0, time.UTC)
	event := services.OrderEvent{
		Type:        "order.status_changed",
		OrderID:     "ord_01abc",
		OrderNumber: "SO-000042",
		UserID:      "user-1",
		Status:      domain.OrderStatusConfirmed,
		ActorID:     "staff-1",
		OccurredAt:  occurredAt,
		Metadata:    map[string]any{"previousStatus": "pending"},
	}

	if err := publisher.PublishOrderEvent(ctx, event); err != nil {
		t.Fatalf("PublishOrderEvent: %v", err)
	}

	messages := srv.Messages()
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}

	var payload orderEventMessage
	if err := json.Unmarshal(messages[0].Data, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.OrderID != event.OrderID || payload.OrderNumber != event.OrderNumber {
		t.Fatalf("unexpected payload %#v", payload)
	}
	if payload.Status != string(domain.OrderStatusConfirmed) {
		t.Fatalf("unexpected status %q", payload.Status)
	}
	if attr := messages[0].Attributes["orderNumber"]; attr != "SO-000042" {
		t.Fatalf("expected orderNumber attribute, got %q", attr)
	}
	if attr := messages[0].Attributes["type"]; attr != "order.status_changed" {
		t.Fatalf("expected type attribute, got %q", attr)
	}
}

func TestPubSubStockEventPublisherPublishesMessage(t *testing.T) {
	ctx := context.Background()
	topic, srv := newTestTopic(t, "stock-events")

	publisher, err := NewPubSubStockEventPublisher(topic)
	if err != nil {
		t.Fatalf("NewPubSubStockEventPublisher: %v", err)
	}

	event := domain.StockEvent{
		Type:       "stock.reserved",
		OrderRef:   "ord_01abc",
		ProductRef: "prd_a",
		Delta:      -2,
		Remaining:  8,
		OccurredAt: time.Date(2025, 3, 4, 10, 0, 0, 0, time.UTC),
	}

	if err := publisher.PublishStockEvent(ctx, event); err != nil {
		t.Fatalf("PublishStockEvent: %v", err)
	}

	messages := srv.Messages()
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}

	var payload stockEventMessage
	if err := json.Unmarshal(messages[0].Data, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.ProductID != "prd_a" || payload.Delta != -2 || payload.Remaining != 8 {
		t.Fatalf("unexpected payload %#v", payload)
	}
	if attr := messages[0].Attributes["delta"]; attr != "-2" {
		t.Fatalf("expected delta attribute, got %q", attr)
	}
}

func TestPubSubPublishersRequireTopic(t *testing.T) {
	if _, err := NewPubSubOrderEventPublisher(nil); err == nil {
		t.Fatal("expected error for nil topic")
	}
	if _, err := NewPubSubStockEventPublisher(nil); err == nil {
		t.Fatal("expected error for nil topic")
	}
}
