package pricing

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

var ErrUnknownPackage = errors.New("unknown token package")

// Package is a purchasable token bundle. Price is in the buyer's currency
// (EUR or GBP) with the same nominal value in both.
type Package struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Tokens      int64           `json:"tokens"`
	Price       decimal.Decimal `json:"price"`
	Description string          `json:"description"`
}

var packages = []Package{
	{ID: "starter", Name: "Starter Token Pack", Tokens: 1000, Price: decimal.RequireFromString("9.99"), Description: "Perfect for trying out AI fitness programs"},
	{ID: "popular", Name: "Popular Token Pack", Tokens: 2500, Price: decimal.RequireFromString("19.99"), Description: "Most popular choice for regular users"},
	{ID: "pro", Name: "Pro Token Pack", Tokens: 6000, Price: decimal.RequireFromString("39.99"), Description: "Great value for fitness enthusiasts"},
	{ID: "enterprise", Name: "Enterprise Token Pack", Tokens: 15000, Price: decimal.RequireFromString("79.99"), Description: "Maximum value for power users"},
}

// plan names used by older checkout links
var packageAliases = map[string]string{
	"builder": "popular",
}

// Packages returns a copy of the catalogue.
func Packages() []Package {
	out := make([]Package, len(packages))
	copy(out, packages)
	return out
}

// FindPackage looks a package up by id or alias, case-insensitively.
func FindPackage(id string) (Package, error) {
	id = strings.ToLower(strings.TrimSpace(id))
	if alias, ok := packageAliases[id]; ok {
		id = alias
	}
	for _, p := range packages {
		if p.ID == id {
			return p, nil
		}
	}
	return Package{}, ErrUnknownPackage
}

// TokensForMoney converts a paid amount into tokens: the amount is rounded
// to cents first, then multiplied by rate and rounded to whole tokens.
func TokensForMoney(amount decimal.Decimal, rate int64) int64 {
	if rate <= 0 || !amount.IsPositive() {
		return 0
	}
	return amount.Round(2).Mul(decimal.NewFromInt(rate)).Round(0).IntPart()
}

// Region maps a currency to its market.
func Region(currency string) string {
	switch strings.ToUpper(currency) {
	case "GBP":
		return "UK"
	case "EUR":
		return "EU"
	default:
		return ""
	}
}
