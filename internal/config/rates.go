package config

import (
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"aquabill/internal/gateway"
)

// defaultRates is used when no rates file is configured.
const defaultRates = `
[[rate]]
from = "COP"
to = "CLP"
value = "0.24"

[[rate]]
from = "COP"
to = "USD"
value = "0.00025"
`

type ratesFile struct {
	Rate []struct {
		From  string `toml:"from"`
		To    string `toml:"to"`
		Value string `toml:"value"`
	} `toml:"rate"`
}

// LoadRates reads the currency conversion table. An empty path selects the
// built-in table.
func LoadRates(path string) (*gateway.RateTable, error) {
	var file ratesFile

	if path == "" {
		if _, err := toml.Decode(defaultRates, &file); err != nil {
			return nil, errors.Wrap(err, "decode default rates")
		}
	} else if _, err := toml.DecodeFile(path, &file); err != nil {
		return nil, errors.Wrapf(err, "decode rates file %s", path)
	}

	rates := make([]gateway.Rate, 0, len(file.Rate))
	for i, r := range file.Rate {
		value, err := decimal.NewFromString(r.Value)
		if err != nil {
			return nil, errors.Wrapf(err, "rate #%d", i+1)
		}
		if !value.IsPositive() || r.From == "" || r.To == "" {
			return nil, errors.Errorf("rate #%d: invalid %s->%s = %s", i+1, r.From, r.To, r.Value)
		}
		rates = append(rates, gateway.Rate{
			From:  strings.ToUpper(r.From),
			To:    strings.ToUpper(r.To),
			Value: value,
		})
	}

	return gateway.NewRateTable(rates), nil
}
