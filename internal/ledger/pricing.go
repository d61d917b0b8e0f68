package ledger

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/tiger/discharge-followup/api/calls"
)

// Price is the unit price a provider bills for one category of work.
type Price struct {
	Category  calls.CostCategory
	Provider  string
	Unit      string
	UnitPrice decimal.Decimal
}

// Pricing maps (category, provider) to a unit price. Providers absent from the table
// are free and produce no cost items.
type Pricing struct {
	prices map[priceKey]Price
}

type priceKey struct {
	category calls.CostCategory
	provider string
}

// DefaultPricing returns the published per-unit prices. TTS is billed per character,
// STT per minute of audio.
func DefaultPricing() Pricing {
	return NewPricing(
		Price{Category: calls.CategoryTTS, Provider: "elevenlabs", Unit: "character", UnitPrice: decimal.RequireFromString("0.0003")},
		Price{Category: calls.CategoryTTS, Provider: "azure", Unit: "character", UnitPrice: decimal.RequireFromString("0.000016")},
		Price{Category: calls.CategoryTTS, Provider: "google", Unit: "character", UnitPrice: decimal.RequireFromString("0.000016")},
		Price{Category: calls.CategoryTTS, Provider: "polly", Unit: "character", UnitPrice: decimal.RequireFromString("0.000016")},
		Price{Category: calls.CategorySTT, Provider: "deepgram", Unit: "minute", UnitPrice: decimal.RequireFromString("0.006")},
		Price{Category: calls.CategorySTT, Provider: "google", Unit: "minute", UnitPrice: decimal.RequireFromString("0.024")},
		Price{Category: calls.CategorySTT, Provider: "whisper", Unit: "minute", UnitPrice: decimal.RequireFromString("0.006")},
		Price{Category: calls.CategorySTT, Provider: "azure", Unit: "minute", UnitPrice: decimal.RequireFromString("0.0167")},
	)
}

func NewPricing(prices ...Price) Pricing {
	out := Pricing{prices: make(map[priceKey]Price, len(prices))}
	for _, p := range prices {
		p.Provider = strings.ToLower(strings.TrimSpace(p.Provider))
		out.prices[priceKey{category: p.Category, provider: p.Provider}] = p
	}
	return out
}

// Lookup returns the price for a provider, or false when the work is free.
func (p Pricing) Lookup(category calls.CostCategory, provider string) (Price, bool) {
	price, ok := p.prices[priceKey{category: category, provider: strings.ToLower(strings.TrimSpace(provider))}]
	if !ok || !price.UnitPrice.IsPositive() {
		return Price{}, false
	}
	return price, true
}
