// Package pricelist carries the hourly prices of the droplet sizes the
// harness is allowed to create. Reservation math depends on these numbers;
// an unlisted size is refused outright rather than guessed at.
//
// Prices are USD per hour from the DigitalOcean basic (shared CPU) price
// sheet. Regenerate prices.go with go generate when the sheet moves.
package pricelist

import (
	"bytes"
	"fmt"
	"maps"
	"reflect"
	"slices"
)

//go:generate go run github.com/sysadmin-ai/vmtest/cmd/plgen -pp . -pn pricelist -fn prices.go

var _ fmt.GoStringer = (*PriceList)(nil)

type PriceList map[string]float64

// GoString renders the table as Go source. The generator writes prices.go
// through it; keys are sorted so regeneration diffs stay readable.
func (self PriceList) GoString() string {
	b := bytes.NewBuffer(make([]byte, 0, 1024))
	fmt.Fprintln(b, reflect.TypeOf(self).Name(), "{")
	for _, size := range slices.Sorted(maps.Keys(self)) {
		fmt.Fprintf(b, "\t%q: %g,\n", size, self[size])
	}
	fmt.Fprintln(b, "}")
	return b.String()
}

var ErrUnknownSize = fmt.Errorf("size slug has no listed price")

func Lookup(size string) (float64, bool) {
	price, ok := priceList[size]
	return price, ok
}

// Rate returns the hourly price of 'size', failing with ErrUnknownSize for
// slugs the table does not carry.
func Rate(size string) (float64, error) {
	price, ok := priceList[size]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownSize, size)
	}
	return price, nil
}

// Cheapest returns the cheapest size in the whole table. Smoke runs use it
// so a misconfigured default size can never inflate the bill.
func Cheapest() (string, float64) {
	var cheapest string
	var price float64
	for size, p := range priceList {
		if price == 0 || p < price || (p == price && size < cheapest) {
			cheapest = size
			price = p
		}
	}
	return cheapest, price
}

// SelectCheapest returns the cheapest priced size among 'sizes'. Unpriced
// slugs are skipped; ties go to the earlier candidate.
func SelectCheapest(sizes []string) (string, float64) {
	if len(sizes) == 0 {
		return "", 0
	}

	cheapestIndex, cheapestPrice := 0, float64(0)
	for i := range len(sizes) {
		price, ok := priceList[sizes[i]]
		if !ok {
			continue
		}
		if cheapestPrice == 0 || price < cheapestPrice {
			cheapestIndex = i
			cheapestPrice = price
		}
	}

	if cheapestPrice == 0 {
		return "", 0
	}

	return sizes[cheapestIndex], cheapestPrice
}
