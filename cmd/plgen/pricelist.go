package main

import (
	"bytes"
	"context"
	"fmt"
	"go/format"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/digitalocean/godo"

	"github.com/sysadmin-ai/vmtest/internal/droplet/pricelist"
)

type SizeFilter func(s godo.Size) bool

// priceListFetch pulls every size the account can see. Unlike most price
// sheets this one needs authentication; sizes are not served from a public
// endpoint.
func priceListFetch(ctx context.Context, token string) ([]godo.Size, error) {
	const perPage = 200

	client := godo.NewFromToken(token)
	opt := &godo.ListOptions{PerPage: perPage}

	var out []godo.Size
	for {
		sizes, resp, err := client.Sizes.List(ctx, opt)
		if err != nil {
			return nil, fmt.Errorf("listing sizes: %w", err)
		}
		out = append(out, sizes...)
		if resp.Links == nil || resp.Links.IsLastPage() {
			return out, nil
		}
		page, err := resp.Links.CurrentPage()
		if err != nil {
			return nil, fmt.Errorf("paging size list: %w", err)
		}
		opt.Page = page + 1
	}
}

// priceListFilter keeps the sizes that satisfy all provided filters
// (logically ANDed).
func priceListFilter(sizes []godo.Size, filters ...SizeFilter) []godo.Size {
	var out []godo.Size
outer:
	for _, s := range sizes {
		for _, filter := range filters {
			if !filter(s) {
				continue outer
			}
		}
		out = append(out, s)
	}
	return out
}

// priceListConvert turns the surviving sizes into the table the pricelist
// package embeds.
func priceListConvert(sizes []godo.Size) (pricelist.PriceList, error) {
	log := slog.Default()

	generated := make(pricelist.PriceList)
	for _, s := range sizes {
		log := log.With("size", s.Slug, "hourly_usd", s.PriceHourly)
		if current, ok := generated[s.Slug]; ok {
			log.Error("slug already priced", "current", current)
			continue
		}
		generated[s.Slug] = s.PriceHourly
	}

	if len(generated) == 0 {
		return nil, fmt.Errorf("no sizes survived filtering")
	}
	return generated, nil
}

// generatePriceList renders the table through its GoStringer into a
// generated source file.
func generatePriceList(pkgName, pkgPath, fileName string, pl pricelist.PriceList) error {
	b := bytes.NewBuffer(make([]byte, 0, 1024))
	fmt.Fprintf(b, "// Code generated by plgen. DO NOT EDIT.\n\n")
	fmt.Fprintf(b, "package %s\n\n", pkgName)
	fmt.Fprintf(b, "var priceList = %#v\n", pl)

	src, err := format.Source(b.Bytes())
	if err != nil {
		return fmt.Errorf("formatting generated source: %w", err)
	}

	path := filepath.Join(pkgPath, fileName)
	if err := os.WriteFile(path, src, fileModeRW); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}
