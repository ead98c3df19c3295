// Package optioncode parses brokerage option contract codes into their
// structured parts. HK codes follow the exchange's short-symbol convention
// (e.g. HK.TCH250330C360000), US codes follow the OCC 21-byte style
// (e.g. US.AAPL240621C00190000).
package optioncode

import (
	"regexp"
	"strconv"
	"time"

	"optionflow/models"
)

// Parsed holds the decoded parts of an option code. Valid is false when the
// code does not match any known format; all other fields are zero in that
// case.
type Parsed struct {
	Valid      bool
	Market     string
	Symbol     string
	Expiry     time.Time
	OptionType string
	Strike     float64
}

var (
	hkPattern = regexp.MustCompile(`^HK\.([A-Z]{2,5})(\d{2})(\d{2})(\d{2})([CP])(\d+)$`)
	usPattern = regexp.MustCompile(`^US\.([A-Z]{1,6})(\d{2})(\d{2})(\d{2})([CP])(\d{8})$`)
)

// Symbols whose HK strike field carries three decimal places once the price
// crosses into six digits. Everything else in the table uses four.
var highPriceSymbols = map[string]bool{
	"TCH": true,
	"HEX": true,
	"MEI": true,
	"JDC": true,
	"ALI": true,
}

var midPriceSymbols = map[string]bool{
	"BIU": true,
	"KUA": true,
	"ZMI": true,
}

// Parse decodes an option code. It never fails: malformed input yields a
// Parsed with Valid set to false.
func Parse(code string) Parsed {
	if m := hkPattern.FindStringSubmatch(code); m != nil {
		return parseHK(m)
	}
	if m := usPattern.FindStringSubmatch(code); m != nil {
		return parseUS(m)
	}
	return Parsed{}
}

func parseHK(m []string) Parsed {
	symbol := m[1]
	year := expiryYear(m[2])
	month, _ := strconv.Atoi(m[3])
	day, _ := strconv.Atoi(m[4])
	if month < 1 || month > 12 || day < 1 || day > 31 {
		return Parsed{}
	}

	raw, err := strconv.ParseInt(m[6], 10, 64)
	if err != nil {
		return Parsed{}
	}

	return Parsed{
		Valid:      true,
		Market:     "HK",
		Symbol:     symbol,
		Expiry:     time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC),
		OptionType: optionType(m[5]),
		Strike:     hkStrike(symbol, m[6], raw),
	}
}

func parseUS(m []string) Parsed {
	year := expiryYear(m[2])
	month, _ := strconv.Atoi(m[3])
	day, _ := strconv.Atoi(m[4])
	if month < 1 || month > 12 || day < 1 || day > 31 {
		return Parsed{}
	}

	raw, err := strconv.ParseInt(m[6], 10, 64)
	if err != nil {
		return Parsed{}
	}

	return Parsed{
		Valid:      true,
		Market:     "US",
		Symbol:     m[1],
		Expiry:     time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC),
		OptionType: optionType(m[5]),
		Strike:     float64(raw) / 1000,
	}
}

// expiryYear maps a two-digit year onto the century that keeps listed
// expiries in the future. Values below 20 roll over to the next century.
func expiryYear(yy string) int {
	n, _ := strconv.Atoi(yy)
	year := 2000 + n
	if year < 2020 {
		year += 100
	}
	return year
}

func optionType(cp string) string {
	if cp == "C" {
		return models.OptionTypeCall
	}
	return models.OptionTypePut
}

// hkStrike recovers the strike price from the digits at the tail of an HK
// code. The exchange omits the decimal point, and the implied number of
// decimal places depends on the underlying's price band.
func hkStrike(symbol, digits string, raw int64) float64 {
	switch {
	case highPriceSymbols[symbol]:
		if len(digits) >= 6 {
			return float64(raw) / 1000
		}
		return float64(raw) / 100
	case midPriceSymbols[symbol]:
		if len(digits) >= 6 {
			return float64(raw) / 10000
		}
		return float64(raw) / 1000
	default:
		// Unknown symbols: guess the band from the magnitude.
		if len(digits) >= 6 {
			if raw >= 500000 {
				return float64(raw) / 1000
			}
			return float64(raw) / 10000
		}
		if len(digits) == 5 {
			if raw >= 50000 {
				return float64(raw) / 1000
			}
			return float64(raw) / 100
		}
		return float64(raw) / 100
	}
}
