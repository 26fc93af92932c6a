package domain

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// ============================================================
// Money: fixed-point BRL amounts in centavos
// ============================================================

// Money is an amount of currency stored as integer minor units (centavos).
// The zero value is R$ 0,00. Arithmetic never goes through float64.
type Money struct {
	minor int64
}

// maxMoneyDigits keeps parsed values far from int64 overflow.
const maxMoneyDigits = 15

var hundred = decimal.NewFromInt(100)

// Zero is R$ 0,00.
var Zero = Money{}

// MoneyFromMinor builds a Money from centavos.
func MoneyFromMinor(minor int64) Money {
	return Money{minor: minor}
}

// MustParseMoney is ParseMoney for literals in tests and defaults. It panics on bad input.
func MustParseMoney(s string) Money {
	m, err := ParseMoney(s)
	if err != nil {
		panic(err)
	}
	return m
}

// ParseMoney parses "1234.56", "1234,56", "1.234,56", "1,234.56", "R$ 10" and "-3,10".
// At most two fractional digits are accepted; nothing is silently rounded.
func ParseMoney(s string) (Money, error) {
	raw := s
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "R$")
	s = strings.TrimSpace(s)
	if s == "" {
		return Zero, &ErrInvalidAmount{Value: raw, Reason: "empty amount"}
	}

	neg := false
	if s[0] == '-' || s[0] == '+' {
		neg = s[0] == '-'
		s = strings.TrimSpace(s[1:])
	}

	normalized, err := normalizeAmount(s)
	if err != nil {
		return Zero, &ErrInvalidAmount{Value: raw, Reason: err.Error()}
	}

	d, err := decimal.NewFromString(normalized)
	if err != nil {
		return Zero, &ErrInvalidAmount{Value: raw, Reason: "not a number"}
	}
	cents := d.Mul(hundred)
	if !cents.IsInteger() {
		return Zero, &ErrInvalidAmount{Value: raw, Reason: "more than two decimal places"}
	}
	minor := cents.IntPart()
	if neg {
		minor = -minor
	}
	return Money{minor: minor}, nil
}

// ParseAmount parses a strictly positive amount, as required for sales,
// withdrawals and ledger postings.
func ParseAmount(s string) (Money, error) {
	m, err := ParseMoney(s)
	if err != nil {
		return Zero, err
	}
	if !m.IsPositive() {
		return Zero, &ErrInvalidAmount{Value: s, Reason: "must be greater than zero"}
	}
	return m, nil
}

// normalizeAmount rewrites a grouped or comma-decimal number into "1234.56".
func normalizeAmount(s string) (string, error) {
	digits := 0
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			digits++
		case r == '.' || r == ',':
		default:
			return "", fmt.Errorf("unexpected character %q", r)
		}
	}
	if digits == 0 {
		return "", fmt.Errorf("no digits")
	}
	if digits > maxMoneyDigits {
		return "", fmt.Errorf("too many digits")
	}

	lastDot := strings.LastIndex(s, ".")
	lastComma := strings.LastIndex(s, ",")

	var intPart, fracPart, groupSep string
	switch {
	case lastDot >= 0 && lastComma >= 0:
		// Both present: whichever comes last is the decimal separator.
		if lastComma > lastDot {
			intPart, fracPart, groupSep = s[:lastComma], s[lastComma+1:], "."
		} else {
			intPart, fracPart, groupSep = s[:lastDot], s[lastDot+1:], ","
		}
	case lastComma >= 0:
		if strings.Count(s, ",") == 1 {
			intPart, fracPart = s[:lastComma], s[lastComma+1:]
		} else {
			intPart, groupSep = s, ","
		}
	case lastDot >= 0:
		// A single dot followed by exactly three digits is a pt-BR thousands
		// separator ("1.234"); a three-digit fraction would be invalid anyway.
		if strings.Count(s, ".") == 1 && !(len(s)-lastDot-1 == 3 && lastDot > 0) {
			intPart, fracPart = s[:lastDot], s[lastDot+1:]
		} else {
			intPart, groupSep = s, "."
		}
	default:
		intPart = s
	}

	if strings.ContainsAny(fracPart, ".,") {
		return "", fmt.Errorf("misplaced separator")
	}
	if groupSep != "" {
		groups := strings.Split(intPart, groupSep)
		for i, g := range groups {
			if strings.ContainsAny(g, ".,") {
				return "", fmt.Errorf("mixed group separators")
			}
			if i == 0 && (len(g) == 0 || len(g) > 3 || g[0] == '0') {
				return "", fmt.Errorf("bad digit grouping")
			}
			if i > 0 && len(g) != 3 {
				return "", fmt.Errorf("bad digit grouping")
			}
		}
		intPart = strings.ReplaceAll(intPart, groupSep, "")
	}
	if intPart == "" {
		intPart = "0"
	}
	if fracPart == "" {
		return intPart, nil
	}
	return intPart + "." + fracPart, nil
}

// Minor returns the amount in centavos.
func (m Money) Minor() int64 { return m.minor }

// Decimal returns the amount as an exact decimal in reais.
func (m Money) Decimal() decimal.Decimal {
	return decimal.New(m.minor, -2)
}

func (m Money) Add(o Money) Money { return Money{minor: m.minor + o.minor} }

func (m Money) Sub(o Money) Money { return Money{minor: m.minor - o.minor} }

func (m Money) Neg() Money { return Money{minor: -m.minor} }

// MulRate multiplies by a rate (e.g. 0.05) and rounds half away from zero to the centavo.
func (m Money) MulRate(rate decimal.Decimal) Money {
	product := decimal.NewFromInt(m.minor).Mul(rate).Round(0)
	return Money{minor: product.IntPart()}
}

// Cmp returns -1, 0 or +1.
func (m Money) Cmp(o Money) int {
	switch {
	case m.minor < o.minor:
		return -1
	case m.minor > o.minor:
		return 1
	default:
		return 0
	}
}

func (m Money) LessThan(o Money) bool { return m.minor < o.minor }

func (m Money) IsZero() bool { return m.minor == 0 }

func (m Money) IsPositive() bool { return m.minor > 0 }

func (m Money) IsNegative() bool { return m.minor < 0 }

// String renders the canonical machine form "1234.56".
func (m Money) String() string {
	sign := ""
	v := m.minor
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%02d", sign, v/100, v%100)
}

var brPrinter = message.NewPrinter(language.BrazilianPortuguese)

// Format renders the pt-BR display form "1.234,56".
func (m Money) Format() string {
	return m.FormatFor(brPrinter)
}

// FormatFor renders the amount with the grouping and decimal separators of p's locale.
func (m Money) FormatFor(p *message.Printer) string {
	sign := ""
	v := m.minor
	if v < 0 {
		sign = "-"
		v = -v
	}
	// Printing 1.5 through the locale printer yields the decimal separator.
	decSep := strings.Trim(p.Sprintf("%.1f", 1.5), "15")
	if decSep == "" {
		decSep = "."
	}
	return fmt.Sprintf("%s%s%s%02d", sign, p.Sprintf("%d", v/100), decSep, v%100)
}

// MarshalJSON encodes Money as a decimal string so clients never see floats.
func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.String())
}

// UnmarshalJSON accepts a decimal string ("10.50", "10,50") or a bare JSON number.
func (m *Money) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		*m = Zero
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
	}
	parsed, err := ParseMoney(s)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}
