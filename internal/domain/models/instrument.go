package models

import "strings"

// Category is a coarse instrument class selecting risk parameters and model family.
type Category string

const (
	CategoryBoomCrash  Category = "BOOM_CRASH"
	CategoryVolatility Category = "VOLATILITY"
	CategoryStep       Category = "STEP"
	CategoryJump       Category = "JUMP"
	CategoryForex      Category = "FOREX"
	CategoryCrypto     Category = "CRYPTO"
	CategoryStocks     Category = "STOCKS"
	CategoryMetals     Category = "METALS"
	CategoryUniversal  Category = "UNIVERSAL"
)

// Categories lists every category in declaration order.
var Categories = []Category{
	CategoryBoomCrash, CategoryVolatility, CategoryStep, CategoryJump,
	CategoryForex, CategoryCrypto, CategoryStocks, CategoryMetals, CategoryUniversal,
}

// IsValid reports whether c belongs to the closed category set.
func (c Category) IsValid() bool {
	for _, k := range Categories {
		if k == c {
			return true
		}
	}
	return false
}

// IsSynthetic reports whether c is a synthetic index family.
func (c Category) IsSynthetic() bool {
	switch c {
	case CategoryBoomCrash, CategoryVolatility, CategoryStep, CategoryJump:
		return true
	}
	return false
}

var (
	cryptoTickers = []string{"BTC", "ETH", "LTC", "XRP", "DOGE", "SOL", "ADA", "BNB", "DOT", "USDT"}
	metalTickers  = []string{"XAU", "XAG", "XPT", "XPD", "GOLD", "SILVER"}
	currencies    = map[string]bool{
		"USD": true, "EUR": true, "GBP": true, "JPY": true, "CHF": true, "AUD": true,
		"NZD": true, "CAD": true, "SEK": true, "NOK": true, "DKK": true, "SGD": true,
		"HKD": true, "ZAR": true, "MXN": true, "TRY": true, "PLN": true, "CNH": true,
	}
	stockSuffixes = []string{".US", ".NAS", ".NYSE", ".LSE", ".DE"}
)

// CategoryFor derives the instrument category from its symbol.
func CategoryFor(symbol string) Category {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	if s == "" {
		return CategoryUniversal
	}
	switch {
	case strings.Contains(s, "BOOM") || strings.Contains(s, "CRASH"):
		return CategoryBoomCrash
	case strings.Contains(s, "VOLATILITY") || strings.HasPrefix(s, "R_") || strings.HasPrefix(s, "1HZ"):
		return CategoryVolatility
	case strings.Contains(s, "STEP"):
		return CategoryStep
	case strings.Contains(s, "JUMP"):
		return CategoryJump
	}
	if isCurrencyPair(s) {
		return CategoryForex
	}
	for _, t := range cryptoTickers {
		if strings.Contains(s, t) {
			return CategoryCrypto
		}
	}
	for _, t := range metalTickers {
		if strings.Contains(s, t) {
			return CategoryMetals
		}
	}
	for _, suf := range stockSuffixes {
		if strings.HasSuffix(s, suf) {
			return CategoryStocks
		}
	}
	if len(s) <= 5 && isLetters(s) {
		return CategoryStocks
	}
	return CategoryUniversal
}

func isCurrencyPair(s string) bool {
	s = strings.TrimSuffix(strings.ReplaceAll(s, "/", ""), "M")
	if len(s) != 6 || !isLetters(s) {
		return false
	}
	return currencies[s[:3]] && currencies[s[3:]]
}

func isLetters(s string) bool {
	for _, r := range s {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}

// Risk holds stop distances as fractions of entry.
type Risk struct {
	StopLossPct   float64
	TakeProfitPct float64
}

// RiskFor returns the stop distances for a category.
func RiskFor(c Category) Risk {
	if c == CategoryForex {
		return Risk{StopLossPct: 0.01, TakeProfitPct: 0.06}
	}
	return Risk{StopLossPct: 0.02, TakeProfitPct: 0.04}
}

// ZoneTolerancePct is the support/resistance touch tolerance in percent.
func ZoneTolerancePct(c Category) float64 {
	if c.IsSynthetic() {
		return 0.02
	}
	return 0.04
}

// DefaultLabelEpsilon is the neutral band for synthetic labels, as a fraction.
func DefaultLabelEpsilon(c Category) float64 {
	if c == CategoryForex {
		return 0.002
	}
	return 0.005
}
