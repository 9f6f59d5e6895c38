package variance

import "github.com/shopspring/decimal"

// SizeClass buckets a transaction by its expected amount.
type SizeClass string

const (
	SizeSmall  SizeClass = "small"  // < $50
	SizeMedium SizeClass = "medium" // $50 - $500
	SizeLarge  SizeClass = "large"  // > $500
)

// Band is the tolerance configuration for one size class.
type Band struct {
	Class      SizeClass
	Percentage decimal.Decimal
	Min        decimal.Decimal
	Max        decimal.Decimal
}

var (
	smallCeiling = decimal.NewFromInt(50)
	largeFloor   = decimal.NewFromInt(500)
)

// DefaultBands returns the production tolerance bands.
func DefaultBands() map[SizeClass]Band {
	return map[SizeClass]Band{
		SizeSmall: {
			Class:      SizeSmall,
			Percentage: decimal.RequireFromString("0.05"),
			Min:        decimal.RequireFromString("0.50"),
			Max:        decimal.RequireFromString("2.50"),
		},
		SizeMedium: {
			Class:      SizeMedium,
			Percentage: decimal.RequireFromString("0.03"),
			Min:        decimal.RequireFromString("1.00"),
			Max:        decimal.RequireFromString("15.00"),
		},
		SizeLarge: {
			Class:      SizeLarge,
			Percentage: decimal.RequireFromString("0.01"),
			Min:        decimal.RequireFromString("2.00"),
			Max:        decimal.RequireFromString("10.00"),
		},
	}
}

// ClassifySize returns the size class for an expected amount.
func ClassifySize(expected decimal.Decimal) SizeClass {
	switch {
	case expected.LessThan(smallCeiling):
		return SizeSmall
	case expected.GreaterThan(largeFloor):
		return SizeLarge
	default:
		return SizeMedium
	}
}

// Tolerance returns clamp(percentage * expected, min, max), rounded to cents.
func (b Band) Tolerance(expected decimal.Decimal) decimal.Decimal {
	t := expected.Mul(b.Percentage).Round(2)
	if t.LessThan(b.Min) {
		return b.Min
	}
	if t.GreaterThan(b.Max) {
		return b.Max
	}
	return t
}
