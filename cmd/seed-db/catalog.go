package main

import (
	"encoding/json"
	"io"
	"os"
	"strings"

	"github.com/go-faster/errors"
	"github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"

	"github.com/xenking/flowershop/internal/domain/pickup"
	"github.com/xenking/flowershop/internal/storage/postgres"
)

type catalogJSON struct {
	Categories []struct {
		Name string `json:"name"`
		Slug string `json:"slug"`
	} `json:"categories"`
	Products []struct {
		Name       string          `json:"name"`
		Slug       string          `json:"slug"`
		Price      decimal.Decimal `json:"price"`
		InStock    *bool           `json:"in_stock"`
		Categories []string        `json:"categories"`
	} `json:"products"`
	Discounts []struct {
		Name       string              `json:"name"`
		Product    string              `json:"product"`
		Category   string              `json:"category"`
		Percentage decimal.NullDecimal `json:"percentage"`
		NewPrice   decimal.NullDecimal `json:"new_price"`
		Active     *bool               `json:"active"`
	} `json:"discounts"`
	PickupPoints []struct {
		Name         string  `json:"name"`
		Address      string  `json:"address"`
		Phone        string  `json:"phone"`
		Latitude     float64 `json:"latitude"`
		Longitude    float64 `json:"longitude"`
		WorkingHours string  `json:"working_hours"`
		Active       *bool   `json:"active"`
	} `json:"pickup_points"`
}

// readCatalog loads a catalog file, decompressing it when the name ends in
// .gz.
func readCatalog(path string) (postgres.Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return postgres.Catalog{}, errors.Wrap(err, "open")
	}
	defer func() { _ = f.Close() }()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		zr, err := pgzip.NewReader(f)
		if err != nil {
			return postgres.Catalog{}, errors.Wrap(err, "gzip")
		}
		defer func() { _ = zr.Close() }()
		r = zr
	}
	return decodeCatalog(r)
}

func decodeCatalog(r io.Reader) (postgres.Catalog, error) {
	var raw catalogJSON
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return postgres.Catalog{}, errors.Wrap(err, "decode")
	}

	var c postgres.Catalog
	for _, cat := range raw.Categories {
		c.Categories = append(c.Categories, postgres.CatalogCategory{Name: cat.Name, Slug: cat.Slug})
	}
	for _, p := range raw.Products {
		if p.Slug == "" {
			return c, errors.Errorf("product %q has no slug", p.Name)
		}
		c.Products = append(c.Products, postgres.CatalogProduct{
			Name:       p.Name,
			Slug:       p.Slug,
			Price:      p.Price,
			InStock:    orTrue(p.InStock),
			Categories: p.Categories,
		})
	}
	for _, d := range raw.Discounts {
		c.Discounts = append(c.Discounts, postgres.CatalogDiscount{
			Name:       d.Name,
			Product:    d.Product,
			Category:   d.Category,
			Percentage: d.Percentage,
			NewPrice:   d.NewPrice,
			Active:     orTrue(d.Active),
		})
	}
	for i, p := range raw.PickupPoints {
		c.PickupPoints = append(c.PickupPoints, pickup.Point{
			Name:         p.Name,
			Address:      p.Address,
			Phone:        p.Phone,
			Latitude:     p.Latitude,
			Longitude:    p.Longitude,
			WorkingHours: p.WorkingHours,
			Active:       orTrue(p.Active),
			SortOrder:    i,
		})
	}
	return c, nil
}

// orTrue treats a missing flag as set.
func orTrue(b *bool) bool {
	return b == nil || *b
}
