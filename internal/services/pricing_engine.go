package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrPricingInvalidPolicy indicates the configured pricing policy is unusable.
	ErrPricingInvalidPolicy = errors.New("pricing: invalid policy")
	// ErrPricingInvalidLineItem indicates a quantity or unit price outside the valid range.
	ErrPricingInvalidLineItem = errors.New("pricing: invalid line item")
)

// PricingEngine turns validated purchase lines into a frozen monetary
// breakdown. All arithmetic is integral in the smallest currency unit so
// results are exact and reproducible.
type PricingEngine struct {
	policy PricingPolicy
}

// NewPricingEngine validates the policy once so Price never has to.
func NewPricingEngine(policy PricingPolicy) (*PricingEngine, error) {
	if strings.TrimSpace(policy.Currency) == "" {
		return nil, fmt.Errorf("%w: currency is required", ErrPricingInvalidPolicy)
	}
	if policy.TaxRateBps < 0 {
		return nil, fmt.Errorf("%w: tax rate must be >= 0 basis points", ErrPricingInvalidPolicy)
	}
	if policy.FreeShippingThreshold < 0 {
		return nil, fmt.Errorf("%w: free shipping threshold must be >= 0", ErrPricingInvalidPolicy)
	}
	if policy.FlatShippingFee < 0 {
		return nil, fmt.Errorf("%w: flat shipping fee must be >= 0", ErrPricingInvalidPolicy)
	}
	return &PricingEngine{policy: policy}, nil
}

// Policy returns the policy the engine was constructed with.
func (e *PricingEngine) Policy() PricingPolicy {
	return e.policy
}

// Price computes subtotal, tax, shipping, and total for the given lines.
// Every line is validated before any amount is computed, so a single bad
// line rejects the whole request.
func (e *PricingEngine) Price(lines []PriceLine) (PricingBreakdown, error) {
	if len(lines) == 0 {
		return PricingBreakdown{}, fmt.Errorf("%w: at least one line is required", ErrPricingInvalidLineItem)
	}
	for i, line := range lines {
		if line.Quantity < 1 {
			return PricingBreakdown{}, fmt.Errorf("%w: line %d quantity must be >= 1", ErrPricingInvalidLineItem, i)
		}
		if line.UnitPrice < 0 {
			return PricingBreakdown{}, fmt.Errorf("%w: line %d unit price must be >= 0", ErrPricingInvalidLineItem, i)
		}
	}

	breakdown := PricingBreakdown{
		Currency: e.policy.Currency,
		Lines:    make([]LinePricing, len(lines)),
	}
	for i, line := range lines {
		lineSubtotal := int64(line.Quantity) * line.UnitPrice
		breakdown.Lines[i] = LinePricing{
			ProductRef: line.ProductRef,
			Quantity:   line.Quantity,
			UnitPrice:  line.UnitPrice,
			Subtotal:   lineSubtotal,
		}
		breakdown.Subtotal += lineSubtotal
	}

	breakdown.Tax = roundHalfUpBps(breakdown.Subtotal, e.policy.TaxRateBps)
	if breakdown.Subtotal <= e.policy.FreeShippingThreshold {
		breakdown.Shipping = e.policy.FlatShippingFee
	}
	breakdown.Total = breakdown.Subtotal + breakdown.Tax + breakdown.Shipping
	return breakdown, nil
}

// ApplyDiscount subtracts a discount from an already priced breakdown,
// clamping so the total never drops below zero. Discounts apply after tax
// and shipping; tax is levied on the undiscounted subtotal.
func (e *PricingEngine) ApplyDiscount(breakdown PricingBreakdown, discount int64) PricingBreakdown {
	if discount < 0 {
		discount = 0
	}
	gross := breakdown.Subtotal + breakdown.Tax + breakdown.Shipping
	if discount > gross {
		discount = gross
	}
	breakdown.Discount = discount
	breakdown.Total = gross - discount
	return breakdown
}

// roundHalfUpBps applies a basis-point rate with half-up rounding, e.g.
// 12.5 rounds to 13 at the final minor unit.
func roundHalfUpBps(amount, rateBps int64) int64 {
	if amount <= 0 || rateBps <= 0 {
		return 0
	}
	return (amount*rateBps + 5000) / 10000
}
