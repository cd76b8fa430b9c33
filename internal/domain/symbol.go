package domain

import "strings"

// Symbol is an opaque upper-case trading pair identifier (e.g. "BTCUSDT").
// Equality is byte-wise once normalized through NewSymbol.
type Symbol string

// NewSymbol normalizes raw exchange input into the canonical upper-case form.
func NewSymbol(raw string) Symbol {
	return Symbol(strings.ToUpper(strings.TrimSpace(raw)))
}

func (s Symbol) String() string { return string(s) }
