package market

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// PriceRecord is a single mandi price row as published by the price source.
// Prices stay in their source decimal-string form until they are aggregated.
type PriceRecord struct {
	State       string `json:"state"`
	District    string `json:"district"`
	Market      string `json:"market"`
	Commodity   string `json:"commodity"`
	Variety     string `json:"variety"`
	MinPrice    string `json:"min_price"`
	MaxPrice    string `json:"max_price"`
	ModalPrice  string `json:"modal_price"`
	ArrivalDate string `json:"arrival_date"`
}

// UnmarshalJSON accepts prices published either as strings or as numbers.
func (r *PriceRecord) UnmarshalJSON(data []byte) error {
	type plain PriceRecord
	var raw struct {
		plain
		MinPrice   json.RawMessage `json:"min_price"`
		MaxPrice   json.RawMessage `json:"max_price"`
		ModalPrice json.RawMessage `json:"modal_price"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*r = PriceRecord(raw.plain)
	var err error
	if r.MinPrice, err = rawPrice(raw.MinPrice); err != nil {
		return fmt.Errorf("min_price: %w", err)
	}
	if r.MaxPrice, err = rawPrice(raw.MaxPrice); err != nil {
		return fmt.Errorf("max_price: %w", err)
	}
	if r.ModalPrice, err = rawPrice(raw.ModalPrice); err != nil {
		return fmt.Errorf("modal_price: %w", err)
	}
	return nil
}

func rawPrice(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", err
		}
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", err
	}
	return n.String(), nil
}

// Prices is the parsed price triple of a record.
type Prices struct {
	Min   decimal.Decimal
	Max   decimal.Decimal
	Modal decimal.Decimal
}

// Prices parses the record's price fields.
func (r PriceRecord) Prices() (Prices, error) {
	min, err := parsePrice(r.MinPrice)
	if err != nil {
		return Prices{}, fmt.Errorf("min_price: %w", err)
	}
	max, err := parsePrice(r.MaxPrice)
	if err != nil {
		return Prices{}, fmt.Errorf("max_price: %w", err)
	}
	modal, err := parsePrice(r.ModalPrice)
	if err != nil {
		return Prices{}, fmt.Errorf("modal_price: %w", err)
	}
	return Prices{Min: min, Max: max, Modal: modal}, nil
}

func parsePrice(raw string) (decimal.Decimal, error) {
	v := strings.TrimSpace(raw)
	if v == "" {
		return decimal.Decimal{}, fmt.Errorf("empty value")
	}
	return decimal.NewFromString(v)
}
