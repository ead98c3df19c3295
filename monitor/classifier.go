package monitor

import (
	"math"
	"sort"

	"optionflow/config"
	"optionflow/models"
)

// Index underlyings carry their own threshold rules regardless of market
// defaults.
const (
	hsiIndexCode   = "HK.800000"
	hsceiIndexCode = "HK.800700"
)

// How the strike window relaxes when the narrow band matches nothing.
const (
	strikeWidenFactor  = 1.5
	strikeFallbackKeep = 5
)

// Classifier decides which threshold rule applies to an underlying and
// whether an observed trade clears it.
type Classifier struct {
	filters config.FiltersConfig
}

// NewClassifier builds a classifier over the configured filter rules.
func NewClassifier(filters config.FiltersConfig) *Classifier {
	return &Classifier{filters: filters}
}

// RuleFor resolves the threshold rule for an underlying. Per-underlying
// overrides win over the index rules, which win over the market default.
func (c *Classifier) RuleFor(market, underlying string) models.ThresholdRule {
	if rule, ok := c.filters.Overrides[underlying]; ok {
		return rule
	}
	switch underlying {
	case hsiIndexCode:
		return c.filters.HSIOptions
	case hsceiIndexCode:
		return c.filters.HSCEIOptions
	}
	if market == config.MarketNameUS {
		return c.filters.USDefault
	}
	return c.filters.HKDefault
}

// IsBigTrade reports whether a snapshot clears every threshold of the rule.
// All three gates must pass.
func (c *Classifier) IsBigTrade(rule models.ThresholdRule, snap models.OptionSnapshot, volumeDelta int64) bool {
	if snap.Volume < rule.MinVolume {
		return false
	}
	if snap.Turnover < rule.MinTurnover {
		return false
	}
	if volumeDelta < rule.MinVolumeDelta {
		return false
	}
	return true
}

// FilterStrikes keeps contracts whose strike lies within the configured band
// around the underlying price. When the band matches nothing it widens once
// and keeps the few contracts closest to the money; when even the widened
// band is empty it returns nothing.
func FilterStrikes(contracts []models.OptionContract, price, fraction float64) []models.OptionContract {
	if price <= 0 || len(contracts) == 0 {
		return nil
	}

	lo := price * (1 - fraction)
	hi := price * (1 + fraction)

	var in []models.OptionContract
	for _, contract := range contracts {
		if contract.StrikePrice >= lo && contract.StrikePrice <= hi {
			in = append(in, contract)
		}
	}
	if len(in) > 0 {
		return in
	}

	wideLo := price * (1 - fraction*strikeWidenFactor)
	wideHi := price * (1 + fraction*strikeWidenFactor)
	var widened []models.OptionContract
	for _, contract := range contracts {
		if contract.StrikePrice >= wideLo && contract.StrikePrice <= wideHi {
			widened = append(widened, contract)
		}
	}
	if len(widened) == 0 {
		return nil
	}

	sort.Slice(widened, func(i, j int) bool {
		return math.Abs(widened[i].StrikePrice-price) < math.Abs(widened[j].StrikePrice-price)
	})
	if len(widened) > strikeFallbackKeep {
		widened = widened[:strikeFallbackKeep]
	}
	return widened
}
