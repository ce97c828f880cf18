package domain

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Price is a non-negative amount in a fixed ISO 4217 currency
type Price struct {
	amount   decimal.Decimal
	currency string
}

// NewPrice validates and builds a Price
func NewPrice(amount decimal.Decimal, currency string) (Price, error) {
	if amount.IsNegative() {
		return Price{}, NewValidationError("price.amount", "must not be negative, got %s", amount)
	}
	cur, err := normalizeCurrency(currency)
	if err != nil {
		return Price{}, err
	}
	return Price{amount: amount, currency: cur}, nil
}

// ParsePrice builds a Price from a decimal string such as "89.50"
func ParsePrice(amount, currency string) (Price, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(amount))
	if err != nil {
		return Price{}, NewValidationError("price.amount", "is not a decimal: %q", amount)
	}
	return NewPrice(d, currency)
}

// MustPrice is ParsePrice that panics; intended for constants and tests
func MustPrice(amount, currency string) Price {
	p, err := ParsePrice(amount, currency)
	if err != nil {
		panic(err)
	}
	return p
}

func normalizeCurrency(currency string) (string, error) {
	cur := strings.ToUpper(strings.TrimSpace(currency))
	if len(cur) != 3 {
		return "", NewValidationError("price.currency", "must be a 3-letter ISO code, got %q", currency)
	}
	for _, r := range cur {
		if r < 'A' || r > 'Z' {
			return "", NewValidationError("price.currency", "must be a 3-letter ISO code, got %q", currency)
		}
	}
	return cur, nil
}

func (p Price) Amount() decimal.Decimal { return p.amount }
func (p Price) Currency() string        { return p.currency }

// IsEmpty reports whether p is the zero value rather than a constructed price
func (p Price) IsEmpty() bool { return p.currency == "" }

// IsZero reports whether the amount is zero
func (p Price) IsZero() bool { return p.amount.IsZero() }

// Equals compares amount numerically (100 == 100.00) and currency exactly
func (p Price) Equals(other Price) bool {
	return p.currency == other.currency && p.amount.Equal(other.amount)
}

// Compare returns -1, 0 or 1. Prices in different currencies are not comparable.
func (p Price) Compare(other Price) (int, error) {
	if err := p.sameCurrency(other); err != nil {
		return 0, err
	}
	return p.amount.Cmp(other.amount), nil
}

// Add returns p + other
func (p Price) Add(other Price) (Price, error) {
	if err := p.sameCurrency(other); err != nil {
		return Price{}, err
	}
	return Price{amount: p.amount.Add(other.amount), currency: p.currency}, nil
}

// Subtract returns p - other; the result must not be negative
func (p Price) Subtract(other Price) (Price, error) {
	if err := p.sameCurrency(other); err != nil {
		return Price{}, err
	}
	result := p.amount.Sub(other.amount)
	if result.IsNegative() {
		return Price{}, NewValidationError("price.amount", "subtraction would be negative: %s - %s", p.amount, other.amount)
	}
	return Price{amount: result, currency: p.currency}, nil
}

// Delta returns the signed difference to - p
func (p Price) Delta(to Price) (decimal.Decimal, error) {
	if err := p.sameCurrency(to); err != nil {
		return decimal.Zero, err
	}
	return to.amount.Sub(p.amount), nil
}

// PercentageChange returns the signed change from p to `to` in percent,
// rounded to two places. A change away from zero counts as 100%.
func (p Price) PercentageChange(to Price) (decimal.Decimal, error) {
	delta, err := p.Delta(to)
	if err != nil {
		return decimal.Zero, err
	}
	if p.amount.IsZero() {
		if delta.IsZero() {
			return decimal.Zero, nil
		}
		return hundred, nil
	}
	return delta.Div(p.amount).Mul(hundred).Round(2), nil
}

func (p Price) sameCurrency(other Price) error {
	if p.currency != other.currency {
		return &ValidationError{
			Field:   "price.currency",
			Message: fmt.Sprintf("%s does not match %s", other.currency, p.currency),
			Err:     ErrCurrencyMismatch,
		}
	}
	return nil
}

func (p Price) String() string {
	return p.amount.StringFixed(2) + " " + p.currency
}

type priceJSON struct {
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

func (p Price) MarshalJSON() ([]byte, error) {
	if p.IsEmpty() {
		return []byte("null"), nil
	}
	return json.Marshal(priceJSON{Amount: p.amount.String(), Currency: p.currency})
}

func (p *Price) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*p = Price{}
		return nil
	}
	var raw priceJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParsePrice(raw.Amount, raw.Currency)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}
