package domain

// PricingPolicy captures the storefront-wide pricing knobs applied at checkout.
// Rates are expressed in basis points and monetary amounts in the smallest
// currency unit so all arithmetic stays integral.
type PricingPolicy struct {
	Currency              string
	TaxRateBps            int64
	FreeShippingThreshold int64
	FlatShippingFee       int64
}

// PriceLine is one quantity/unit-price pair fed to the pricing calculator.
type PriceLine struct {
	ProductRef string
	Quantity   int
	UnitPrice  int64
}

// PricingBreakdown captures the aggregated monetary results of pricing an
// order. Total always equals Subtotal + Tax + Shipping - Discount.
type PricingBreakdown struct {
	Currency string
	Subtotal int64
	Discount int64
	Tax      int64
	Shipping int64
	Total    int64
	Lines    []LinePricing
}

// LinePricing stores the per-line pricing outputs after running the calculator.
type LinePricing struct {
	ProductRef string
	Quantity   int
	UnitPrice  int64
	Subtotal   int64
}
