// plgen regenerates the droplet price table in internal/droplet/pricelist
// from the live DigitalOcean sizes endpoint. Run it through go generate in
// that package, with DIGITALOCEAN_TOKEN set.
package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/chainguard-dev/clog"
	"github.com/digitalocean/godo"
)

const (
	fileModeRWX        = 0o700
	fileModeRW         = 0o600
	fileFlagsOverwrite = os.O_TRUNC | os.O_CREATE | os.O_WRONLY
)

func main() {
	// Log with file name + line number
	log.SetFlags(log.Lshortfile)
	slog.SetLogLoggerLevel(slog.LevelDebug)
	log := clog.NewLogger(slog.Default())

	// Init the application context
	//
	// This is really only used for HTTP requests
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Parse command-line inputs
	args := parseArgs()
	log.Info("selected size class", "prefix", args.Prefix)
	log.Info(
		"output constraints identified",
		"package_name", args.PackageName,
		"package_path", args.PackagePath,
		"file_name", args.FileName,
	)

	token := os.Getenv("DIGITALOCEAN_TOKEN")
	if token == "" {
		log.Fatal("DIGITALOCEAN_TOKEN is not set")
	}

	// If the output directory doesn't exist, try to make it
	err := os.MkdirAll(args.PackagePath, fileModeRWX)
	if err != nil && !errors.Is(err, os.ErrExist) {
		log.Fatal(
			"failed to create output package directory",
			"path", args.PackagePath,
			"error", err,
		)
	}

	// Fetch the size sheet
	sizes, err := priceListFetch(ctx, token)
	if err != nil {
		log.Fatalf("Failed to fetch sizes: %s.", err)
	}

	// Filter the sizes down to what the harness may create
	sizes = priceListFilter(
		sizes,
		sizeFilterHasPrefix(args.Prefix),
		sizeFilterIsAvailable,
		sizeFilterHasHourlyPrice,
	)

	// Convert to our price list
	converted, err := priceListConvert(sizes)
	if err != nil {
		log.Fatalf("Failed to convert sizes: %s.", err)
	}

	// Generate the final pricelist
	if err = generatePriceList(
		args.PackageName,
		args.PackagePath,
		args.FileName,
		converted,
	); err != nil {
		log.Fatalf("Failed to generate price list: %s.", err)
	}
}

// Keep only one size class (ex: 's-' for basic shared CPU)
func sizeFilterHasPrefix(prefix string) SizeFilter {
	return func(s godo.Size) bool {
		return strings.HasPrefix(s.Slug, prefix)
	}
}

// Drop sizes the provider no longer sells
func sizeFilterIsAvailable(s godo.Size) bool {
	return s.Available
}

// Drop sizes without an hourly price; reservation math cannot hold them
func sizeFilterHasHourlyPrice(s godo.Size) bool {
	return s.PriceHourly > 0
}
