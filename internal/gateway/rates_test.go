package gateway

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"aquabill/internal/domain"
)

func TestRateTable_Convert(t *testing.T) {
	t.Parallel()

	table := NewRateTable([]Rate{
		{From: "COP", To: "CLP", Value: decimal.RequireFromString("0.24")},
		{From: "cop", To: "usd", Value: decimal.RequireFromString("0.00025")},
	})

	tests := []struct {
		name string
		in   domain.Money
		to   string
		want string
	}{
		{"same currency keeps amount", domain.NewMoney(decimal.RequireFromString("120000"), "COP"), "COP", "120000"},
		{"clp has no minor units", domain.NewMoney(decimal.RequireFromString("50001"), "COP"), "CLP", "12000"},
		{"usd rounds to cents", domain.NewMoney(decimal.RequireFromString("70000"), "COP"), "USD", "17.5"},
		{"derived inverse", domain.NewMoney(decimal.RequireFromString("24"), "CLP"), "COP", "100"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := table.Convert(tt.in, tt.to)
			if err != nil {
				t.Fatalf("Convert() error = %v", err)
			}
			if !got.Amount.Equal(decimal.RequireFromString(tt.want)) {
				t.Errorf("amount = %s, want %s", got.Amount, tt.want)
			}
		})
	}

	if _, err := table.Convert(domain.NewMoney(decimal.NewFromInt(1), "ARS"), "CLP"); !errors.Is(err, ErrNoRate) {
		t.Errorf("expected ErrNoRate, got %v", err)
	}
}

func TestSplitPhone(t *testing.T) {
	t.Parallel()

	tests := []struct {
		phone      string
		wantArea   string
		wantNumber string
	}{
		{"+57 310 555 1234", "310", "5551234"},
		{"3105551234", "310", "5551234"},
		{"(601) 555-1234", "601", "5551234"},
		{"555-1234", "", "5551234"},
	}

	for _, tt := range tests {
		t.Run(tt.phone, func(t *testing.T) {
			area, number := SplitPhone(tt.phone, "57")
			if area != tt.wantArea || number != tt.wantNumber {
				t.Errorf("SplitPhone() = %q, %q; want %q, %q", area, number, tt.wantArea, tt.wantNumber)
			}
		})
	}
}

func TestRegistry(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	if _, err := r.Get(domain.ProviderFlow); !errors.Is(err, ErrUnknownProvider) {
		t.Errorf("expected ErrUnknownProvider, got %v", err)
	}
}
