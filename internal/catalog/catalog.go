package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrInvalidPackage is returned when a package id is not in the catalog.
var ErrInvalidPackage = errors.New("unknown points package")

// Package is one purchasable points bundle. Prices always come from the
// catalog, never from the client.
type Package struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Points     int64  `json:"points"`
	PriceCents int64  `json:"price_cents"`
}

// Catalog is the static, read-only points package catalog.
type Catalog struct {
	packages map[string]Package
	order    []string
}

// Default returns the built-in catalog.
func Default() *Catalog {
	return build([]Package{
		{ID: "small", Name: "Starter", Points: 100, PriceCents: 1000},
		{ID: "medium", Name: "Standard", Points: 250, PriceCents: 2000},
		{ID: "large", Name: "Pro", Points: 600, PriceCents: 4500},
	})
}

// FromJSON builds a catalog from a JSON array, used to override the
// built-in packages from configuration.
func FromJSON(raw string) (*Catalog, error) {
	var pkgs []Package
	if err := json.Unmarshal([]byte(raw), &pkgs); err != nil {
		return nil, fmt.Errorf("failed to parse catalog JSON: %w", err)
	}
	if len(pkgs) == 0 {
		return nil, fmt.Errorf("catalog must contain at least one package")
	}
	for _, p := range pkgs {
		if p.ID == "" || p.Points <= 0 || p.PriceCents <= 0 {
			return nil, fmt.Errorf("invalid package %q: points and price must be positive", p.ID)
		}
	}
	return build(pkgs), nil
}

func build(pkgs []Package) *Catalog {
	c := &Catalog{packages: make(map[string]Package, len(pkgs))}
	for _, p := range pkgs {
		if _, ok := c.packages[p.ID]; ok {
			continue
		}
		c.packages[p.ID] = p
		c.order = append(c.order, p.ID)
	}
	return c
}

// Get looks up a package by id.
func (c *Catalog) Get(id string) (Package, error) {
	p, ok := c.packages[id]
	if !ok {
		return Package{}, fmt.Errorf("%w: %q", ErrInvalidPackage, id)
	}
	return p, nil
}

// List returns all packages in declaration order.
func (c *Catalog) List() []Package {
	out := make([]Package, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.packages[id])
	}
	return out
}
