package monitor

import (
	"testing"

	"optionflow/config"
	"optionflow/models"
)

func testFilters() config.FiltersConfig {
	return config.FiltersConfig{
		HKDefault:    models.ThresholdRule{MinVolume: 100, MinTurnover: 500000, MinVolumeDelta: 10, StrikeRangeFraction: 0.4, MaxDaysToExpiry: 30},
		USDefault:    models.ThresholdRule{MinVolume: 50, MinTurnover: 100000, MinVolumeDelta: 5, StrikeRangeFraction: 0.4, MaxDaysToExpiry: 30},
		HSIOptions:   models.ThresholdRule{MinVolume: 200, MinTurnover: 2000000, MinVolumeDelta: 20, StrikeRangeFraction: 0.4, MaxDaysToExpiry: 30},
		HSCEIOptions: models.ThresholdRule{MinVolume: 150, MinTurnover: 1000000, MinVolumeDelta: 15, StrikeRangeFraction: 0.4, MaxDaysToExpiry: 30},
		Overrides: map[string]models.ThresholdRule{
			"HK.00700": {MinVolume: 999, MinTurnover: 9999999, MinVolumeDelta: 99, StrikeRangeFraction: 0.2, MaxDaysToExpiry: 14},
		},
	}
}

func TestRuleForPrecedence(t *testing.T) {
	c := NewClassifier(testFilters())

	cases := []struct {
		market     string
		underlying string
		wantVolume int64
	}{
		{"HK", "HK.00700", 999},  // explicit override
		{"HK", "HK.800000", 200}, // HSI index rule
		{"HK", "HK.800700", 150}, // HSCEI index rule
		{"HK", "HK.09988", 100},  // HK default
		{"US", "US.AAPL", 50},    // US default
	}
	for _, tc := range cases {
		rule := c.RuleFor(tc.market, tc.underlying)
		if rule.MinVolume != tc.wantVolume {
			t.Errorf("RuleFor(%s, %s).MinVolume = %d, want %d", tc.market, tc.underlying, rule.MinVolume, tc.wantVolume)
		}
	}
}

func TestRuleForOverrideBeatsIndexRule(t *testing.T) {
	filters := testFilters()
	filters.Overrides["HK.800000"] = models.ThresholdRule{MinVolume: 7}
	c := NewClassifier(filters)

	if got := c.RuleFor("HK", "HK.800000").MinVolume; got != 7 {
		t.Errorf("override should beat index rule, MinVolume = %d, want 7", got)
	}
}

func TestIsBigTradeAllGatesRequired(t *testing.T) {
	c := NewClassifier(testFilters())
	rule := models.ThresholdRule{MinVolume: 100, MinTurnover: 500000, MinVolumeDelta: 10}

	base := models.OptionSnapshot{Volume: 150, Turnover: 600000}

	if !c.IsBigTrade(rule, base, 20) {
		t.Error("trade clearing every gate should be big")
	}

	lowVolume := base
	lowVolume.Volume = 99
	if c.IsBigTrade(rule, lowVolume, 20) {
		t.Error("volume below threshold should not be big")
	}

	lowTurnover := base
	lowTurnover.Turnover = 499999
	if c.IsBigTrade(rule, lowTurnover, 20) {
		t.Error("turnover below threshold should not be big")
	}

	if c.IsBigTrade(rule, base, 9) {
		t.Error("delta below threshold should not be big")
	}
}

func TestIsBigTradeBoundary(t *testing.T) {
	c := NewClassifier(testFilters())
	rule := models.ThresholdRule{MinVolume: 100, MinTurnover: 500000, MinVolumeDelta: 10}

	exact := models.OptionSnapshot{Volume: 100, Turnover: 500000}
	if !c.IsBigTrade(rule, exact, 10) {
		t.Error("values exactly at the thresholds should pass")
	}
}

func contractsFromStrikes(strikes ...float64) []models.OptionContract {
	out := make([]models.OptionContract, 0, len(strikes))
	for _, s := range strikes {
		out = append(out, models.OptionContract{StrikePrice: s})
	}
	return out
}

func TestFilterStrikesNarrowBand(t *testing.T) {
	contracts := contractsFromStrikes(100, 250, 360, 400, 600)

	got := FilterStrikes(contracts, 360, 0.4) // band [216, 504]
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	for _, contract := range got {
		if contract.StrikePrice < 216 || contract.StrikePrice > 504 {
			t.Errorf("strike %v outside narrow band", contract.StrikePrice)
		}
	}
}

func TestFilterStrikesWidensWhenEmpty(t *testing.T) {
	// Narrow band [90, 210] misses everything; the widened band [60, 240]
	// holds six contracts, of which the five closest to the price survive.
	contracts := contractsFromStrikes(61, 70, 220, 226, 233, 240, 300)

	got := FilterStrikes(contracts, 150, 0.4)
	if len(got) != strikeFallbackKeep {
		t.Fatalf("len = %d, want %d closest", len(got), strikeFallbackKeep)
	}
	// Closest to 150 first.
	if got[0].StrikePrice != 220 {
		t.Errorf("closest strike = %v, want 220", got[0].StrikePrice)
	}
	for _, contract := range got {
		if contract.StrikePrice == 240 || contract.StrikePrice == 300 {
			t.Errorf("strike %v should have been dropped", contract.StrikePrice)
		}
	}
}

func TestFilterStrikesNothingInWidenedBand(t *testing.T) {
	contracts := contractsFromStrikes(1000, 2000)
	if got := FilterStrikes(contracts, 100, 0.4); len(got) != 0 {
		t.Errorf("len = %d, want 0 when even widened band is empty", len(got))
	}
}

func TestFilterStrikesNoPrice(t *testing.T) {
	contracts := contractsFromStrikes(100)
	if got := FilterStrikes(contracts, 0, 0.4); got != nil {
		t.Errorf("expected nil for zero price, got %v", got)
	}
}
