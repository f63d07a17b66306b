package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadWithDefaults(t *testing.T) {
	env := map[string]string{
		"API_FIREBASE_PROJECT_ID": "storefront-dev",
	}

	cfg, err := Load(WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Errorf("expected default port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout != 15*time.Second {
		t.Errorf("unexpected read timeout: %s", cfg.Server.ReadTimeout)
	}
	if cfg.Environment != "local" {
		t.Errorf("expected default environment local, got %s", cfg.Environment)
	}
	if cfg.Firestore.ProjectID != "storefront-dev" {
		t.Errorf("expected firestore project to default to firebase project, got %s", cfg.Firestore.ProjectID)
	}
	if cfg.PubSub.ProjectID != "storefront-dev" {
		t.Errorf("expected pubsub project to default to firestore project, got %s", cfg.PubSub.ProjectID)
	}
	if cfg.Pricing.Currency != "USD" {
		t.Errorf("expected default currency USD, got %s", cfg.Pricing.Currency)
	}
	if cfg.Pricing.TaxRateBps != defaultTaxRateBps {
		t.Errorf("unexpected default tax rate: %d", cfg.Pricing.TaxRateBps)
	}
	if cfg.Orders.NumberPrefix != "SO-" || cfg.Orders.NumberPadLength != 6 {
		t.Errorf("unexpected default order number format: %+v", cfg.Orders)
	}
	if cfg.RateLimits.ReviewsPerMinute != defaultReviewsPerMinute {
		t.Errorf("unexpected default review rate limit: %d", cfg.RateLimits.ReviewsPerMinute)
	}
	if !cfg.Features.EnableEvents {
		t.Error("expected events enabled by default")
	}
	if cfg.Idempotency.Header != defaultIdempotencyHeader {
		t.Errorf("expected default idempotency header, got %s", cfg.Idempotency.Header)
	}
	if cfg.Idempotency.TTL != defaultIdempotencyTTL {
		t.Errorf("unexpected default idempotency ttl: %s", cfg.Idempotency.TTL)
	}
}

func TestLoadWithOverrides(t *testing.T) {
	env := map[string]string{
		"API_SERVER_PORT":                     "9090",
		"API_SERVER_READ_TIMEOUT":             "20s",
		"API_SERVER_WRITE_TIMEOUT":            "25s",
		"API_SERVER_IDLE_TIMEOUT":             "2m",
		"API_ENVIRONMENT":                     "Prod",
		"API_FIREBASE_PROJECT_ID":             "storefront-prod",
		"API_FIRESTORE_PROJECT_ID":            "storefront-fire",
		"API_PUBSUB_PROJECT_ID":               "storefront-pubsub",
		"API_PUBSUB_ORDER_EVENTS_TOPIC":       "order-events",
		"API_PUBSUB_STOCK_EVENTS_TOPIC":       "stock-events",
		"API_PRICING_CURRENCY":                "eur",
		"API_PRICING_TAX_RATE_BPS":            "2100",
		"API_PRICING_FREE_SHIPPING_THRESHOLD": "5000",
		"API_PRICING_FLAT_SHIPPING_FEE":       "750",
		"API_ORDERS_NUMBER_PREFIX":            "ORD-",
		"API_ORDERS_NUMBER_PAD_LENGTH":        "8",
		"API_ORDERS_NUMBER_MAX_VALUE":         "5000",
		"API_RATELIMIT_REVIEWS_PER_MIN":       "3",
		"API_FEATURE_EVENTS":                  "off",
		"API_IDEMPOTENCY_TTL":                 "48h",
	}

	cfg, err := Load(WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "9090" {
		t.Errorf("unexpected port: %s", cfg.Server.Port)
	}
	if cfg.Server.IdleTimeout != 2*time.Minute {
		t.Errorf("unexpected idle timeout: %s", cfg.Server.IdleTimeout)
	}
	if cfg.Environment != "prod" {
		t.Errorf("expected environment lowercased, got %s", cfg.Environment)
	}
	if cfg.Firestore.ProjectID != "storefront-fire" {
		t.Errorf("unexpected firestore project: %s", cfg.Firestore.ProjectID)
	}
	if cfg.PubSub.ProjectID != "storefront-pubsub" {
		t.Errorf("unexpected pubsub project: %s", cfg.PubSub.ProjectID)
	}
	if cfg.PubSub.OrderEventsTopic != "order-events" || cfg.PubSub.StockEventsTopic != "stock-events" {
		t.Errorf("unexpected topics: %+v", cfg.PubSub)
	}
	if cfg.Pricing.Currency != "EUR" {
		t.Errorf("expected currency uppercased, got %s", cfg.Pricing.Currency)
	}
	if cfg.Pricing.TaxRateBps != 2100 || cfg.Pricing.FreeShippingThreshold != 5000 || cfg.Pricing.FlatShippingFee != 750 {
		t.Errorf("unexpected pricing config: %+v", cfg.Pricing)
	}
	if cfg.Orders.NumberPrefix != "ORD-" || cfg.Orders.NumberPadLength != 8 || cfg.Orders.NumberMaxValue != 5000 {
		t.Errorf("unexpected orders config: %+v", cfg.Orders)
	}
	if cfg.RateLimits.ReviewsPerMinute != 3 {
		t.Errorf("unexpected review rate limit: %d", cfg.RateLimits.ReviewsPerMinute)
	}
	if cfg.Features.EnableEvents {
		t.Error("expected events disabled")
	}
	if cfg.Idempotency.TTL != 48*time.Hour {
		t.Errorf("unexpected idempotency ttl: %s", cfg.Idempotency.TTL)
	}
}

func TestLoadValidationFailure(t *testing.T) {
	env := map[string]string{
		"API_PRICING_TAX_RATE_BPS": "-1",
	}

	_, err := Load(WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	if err == nil {
		t.Fatal("expected validation error")
	}

	var validation *ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("expected ValidationError, got %v", err)
	}

	fields := validation.Fields()
	found := map[string]bool{}
	for _, field := range fields {
		found[field] = true
	}
	if !found["Firebase.ProjectID"] || !found["Pricing.TaxRateBps"] {
		t.Fatalf("unexpected missing fields: %v", fields)
	}
}

func TestLoadDotEnvFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	contents := "# storefront overrides\nAPI_FIREBASE_PROJECT_ID=storefront-local\nexport API_SERVER_PORT=7070\nAPI_PRICING_CURRENCY=\"gbp\"\n"
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}

	cfg, err := Load(WithEnvFile(path), WithoutSystemEnv())
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Firebase.ProjectID != "storefront-local" {
		t.Errorf("unexpected firebase project: %s", cfg.Firebase.ProjectID)
	}
	if cfg.Server.Port != "7070" {
		t.Errorf("unexpected port: %s", cfg.Server.Port)
	}
	if cfg.Pricing.Currency != "GBP" {
		t.Errorf("unexpected currency: %s", cfg.Pricing.Currency)
	}
}
