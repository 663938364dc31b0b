package store

// IncrementPolicy computes the minimum raise over the current price:
// max(price * BasisPoints / 10000, Minimum), rounded down.
type IncrementPolicy struct {
	BasisPoints int64 `yaml:"basis_points"`
	Minimum     int64 `yaml:"minimum"`
}

// DefaultIncrementPolicy is 5% with a floor of 100 cents.
func DefaultIncrementPolicy() IncrementPolicy {
	return IncrementPolicy{BasisPoints: 500, Minimum: 100}
}

// Increment returns the minimum raise for price.
func (p IncrementPolicy) Increment(price int64) int64 {
	inc := price * p.BasisPoints / 10000
	if inc < p.Minimum {
		inc = p.Minimum
	}
	return inc
}

// MinNextBid returns the lowest acceptable next bid for price.
func (p IncrementPolicy) MinNextBid(price int64) int64 {
	return price + p.Increment(price)
}
