package gateway

import (
	"strings"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"aquabill/internal/domain"
)

// ErrNoRate is returned when the table has no rate for a currency pair.
var ErrNoRate = errors.New("no conversion rate for currency pair")

// Rate converts one unit of From into Value units of To.
type Rate struct {
	From  string
	To    string
	Value decimal.Decimal
}

// minorUnits is the number of decimal places a currency is charged with.
var minorUnits = map[string]int32{
	"CLP": 0,
	"COP": 2,
	"USD": 2,
	"ARS": 2,
	"MXN": 2,
	"PEN": 2,
}

// RateTable holds the conversion rates used when a processor requires a
// different currency than the invoice's.
type RateTable struct {
	rates map[string]decimal.Decimal
}

// NewRateTable indexes the given rates. The inverse of each pair is derived
// unless it is listed explicitly.
func NewRateTable(rates []Rate) *RateTable {
	t := &RateTable{rates: make(map[string]decimal.Decimal, len(rates)*2)}
	for _, r := range rates {
		t.rates[pairKey(r.From, r.To)] = r.Value
	}
	for _, r := range rates {
		inv := pairKey(r.To, r.From)
		if _, ok := t.rates[inv]; !ok && !r.Value.IsZero() {
			t.rates[inv] = decimal.NewFromInt(1).DivRound(r.Value, 12)
		}
	}
	return t
}

// Convert expresses m in the target currency, rounded to that currency's
// minor units.
func (t *RateTable) Convert(m domain.Money, to string) (domain.Money, error) {
	to = strings.ToUpper(to)
	if strings.EqualFold(m.Currency, to) {
		return domain.NewMoney(Round(m.Amount, to), to), nil
	}

	rate, ok := t.rates[pairKey(m.Currency, to)]
	if !ok {
		return domain.Money{}, errors.Wrapf(ErrNoRate, "%s->%s", m.Currency, to)
	}

	return domain.NewMoney(Round(m.Amount.Mul(rate), to), to), nil
}

// Round rounds an amount to the currency's minor units, half away from zero.
func Round(amount decimal.Decimal, currency string) decimal.Decimal {
	places, ok := minorUnits[strings.ToUpper(currency)]
	if !ok {
		places = 2
	}
	return amount.Round(places)
}

func pairKey(from, to string) string {
	return strings.ToUpper(from) + "/" + strings.ToUpper(to)
}
