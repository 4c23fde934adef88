package domain

import (
	"encoding/json"
	"fmt"

	"github.com/govalues/decimal"

	"github.com/example/order-choreography/internal/apperr"
)

// Money is a non-negative decimal amount in an ISO-4217 currency.
type Money struct {
	Amount   decimal.Decimal
	Currency string
}

func NewMoney(amount decimal.Decimal, currency string) (Money, error) {
	if amount.IsNeg() {
		return Money{}, apperr.Validation("money", "amount cannot be negative: %s", amount)
	}
	if !validCurrency(currency) {
		return Money{}, apperr.Validation("money", "invalid currency code %q", currency)
	}
	return Money{Amount: amount, Currency: currency}, nil
}

// ParseMoney builds Money from a decimal string such as "59.98".
func ParseMoney(amount, currency string) (Money, error) {
	d, err := decimal.Parse(amount)
	if err != nil {
		return Money{}, apperr.Validation("money", "invalid amount %q: %v", amount, err)
	}
	return NewMoney(d, currency)
}

// MustMoney is ParseMoney for literals known to be valid.
func MustMoney(amount, currency string) Money {
	m, err := ParseMoney(amount, currency)
	if err != nil {
		panic(err)
	}
	return m
}

func validCurrency(c string) bool {
	if len(c) != 3 {
		return false
	}
	for _, r := range c {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}

func (m Money) IsZero() bool { return m.Currency == "" && m.Amount.IsZero() }

// IsPositive reports whether the amount is strictly greater than zero.
func (m Money) IsPositive() bool { return m.Amount.IsPos() }

// Add sums two amounts of the same currency.
func (m Money) Add(o Money) (Money, error) {
	if m.Currency != o.Currency {
		return Money{}, apperr.Validation("money.add", "currency mismatch %s != %s", m.Currency, o.Currency)
	}
	sum, err := m.Amount.Add(o.Amount)
	if err != nil {
		return Money{}, apperr.Validation("money.add", "%v", err)
	}
	return Money{Amount: sum, Currency: m.Currency}, nil
}

// Multiply scales the amount by a strictly positive quantity.
func (m Money) Multiply(quantity int) (Money, error) {
	if quantity <= 0 {
		return Money{}, apperr.Validation("money.multiply", "quantity must be positive, got %d", quantity)
	}
	q, err := decimal.New(int64(quantity), 0)
	if err != nil {
		return Money{}, apperr.Validation("money.multiply", "%v", err)
	}
	p, err := m.Amount.Mul(q)
	if err != nil {
		return Money{}, apperr.Validation("money.multiply", "%v", err)
	}
	return Money{Amount: p, Currency: m.Currency}, nil
}

// Equal compares amount numerically, so 22.5 USD equals 22.50 USD.
func (m Money) Equal(o Money) bool {
	return m.Currency == o.Currency && m.Amount.Cmp(o.Amount) == 0
}

func (m Money) String() string { return fmt.Sprintf("%s %s", m.Amount, m.Currency) }

type moneyJSON struct {
	Amount   json.Number `json:"amount"`
	Currency string      `json:"currency"`
}

// MarshalJSON writes the amount as a JSON number: {"amount":59.98,"currency":"USD"}.
func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(moneyJSON{Amount: json.Number(m.Amount.String()), Currency: m.Currency})
}

func (m *Money) UnmarshalJSON(b []byte) error {
	var raw moneyJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return apperr.Validation("money", "decode: %v", err)
	}
	if raw.Amount == "" {
		return apperr.Validation("money", "amount is required")
	}
	parsed, err := ParseMoney(raw.Amount.String(), raw.Currency)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}
