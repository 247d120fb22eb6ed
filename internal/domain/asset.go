package domain

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Asset es una cantidad de token de la chain con su símbolo ("12.5000 EOS").
// Se parsea una sola vez en el boundary del ledger client; el core nunca
// opera sobre strings crudos.
type Asset struct {
	Amount decimal.Decimal
	Symbol string
}

// ParseAsset parsea el formato asset de la chain: "<decimal> <SYMBOL>".
// Falla cerrado: cualquier desviación del formato es un error de parseo,
// nunca un default silencioso.
func ParseAsset(s string) (Asset, error) {
	fields := strings.Fields(strings.TrimSpace(s))
	if len(fields) != 2 {
		return Asset{}, fmt.Errorf("domain.ParseAsset: malformed asset %q", s)
	}

	amount, err := decimal.NewFromString(fields[0])
	if err != nil {
		return Asset{}, fmt.Errorf("domain.ParseAsset: amount %q: %w", fields[0], err)
	}

	symbol := fields[1]
	if len(symbol) < 1 || len(symbol) > 7 {
		return Asset{}, fmt.Errorf("domain.ParseAsset: symbol %q out of range", symbol)
	}
	for _, r := range symbol {
		if r < 'A' || r > 'Z' {
			return Asset{}, fmt.Errorf("domain.ParseAsset: symbol %q not uppercase", symbol)
		}
	}

	return Asset{Amount: amount, Symbol: symbol}, nil
}

// MustAsset es ParseAsset que entra en pánico — solo para tests y constantes.
func MustAsset(s string) Asset {
	a, err := ParseAsset(s)
	if err != nil {
		panic(err)
	}
	return a
}

// String devuelve el formato de la chain con 4 decimales.
func (a Asset) String() string {
	if a.Symbol == "" {
		return "0.0000"
	}
	return a.Amount.StringFixed(4) + " " + a.Symbol
}

// IsZero devuelve true para el asset vacío o de cantidad cero.
func (a Asset) IsZero() bool {
	return a.Symbol == "" || a.Amount.IsZero()
}

// Add suma dos assets del mismo símbolo.
func (a Asset) Add(b Asset) (Asset, error) {
	if a.Symbol != b.Symbol {
		return Asset{}, fmt.Errorf("domain.Asset.Add: symbol mismatch %q vs %q", a.Symbol, b.Symbol)
	}
	return Asset{Amount: a.Amount.Add(b.Amount), Symbol: a.Symbol}, nil
}

// MulFloat escala la cantidad por un factor (house cut, contribución neta).
func (a Asset) MulFloat(f float64) Asset {
	return Asset{Amount: a.Amount.Mul(decimal.NewFromFloat(f)), Symbol: a.Symbol}
}
