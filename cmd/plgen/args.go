package main

import "flag"

type Args struct {
	PackagePath string
	PackageName string
	FileName    string
	Prefix      string
}

func parseArgs() Args {
	var args Args

	// --package-path, -pp
	flag.StringVar(&args.PackagePath, "package-path", ".", "")
	flag.StringVar(&args.PackagePath, "pp", ".", "")

	// --package-name, -pn
	flag.StringVar(&args.PackageName, "package-name", "pricelist", "")
	flag.StringVar(&args.PackageName, "pn", "pricelist", "")

	// --file-name, -fn
	flag.StringVar(&args.FileName, "file-name", "prices.go", "")
	flag.StringVar(&args.FileName, "fn", "prices.go", "")

	// --prefix, -p
	flag.StringVar(&args.Prefix, "prefix", "s-", "")
	flag.StringVar(&args.Prefix, "p", "s-", "")

	flag.Parse()

	return args
}
