// Command bizcheck runs one business search from the terminal.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"bizcheck/internal/analyzer"
	"bizcheck/internal/app"
	"bizcheck/internal/config"
	"bizcheck/internal/probe"
	"bizcheck/internal/stats"
)

type options struct {
	query    string
	location string
	radius   int
	jsonOut  bool
	market   bool
}

func parseFlags(args []string, defaultRadius int) (options, error) {
	fs := flag.NewFlagSet("bizcheck", flag.ContinueOnError)
	var o options
	fs.StringVar(&o.query, "query", "", "business type to search for, e.g. restaurants")
	fs.StringVar(&o.location, "location", "", "city or address to search around")
	fs.IntVar(&o.radius, "radius", defaultRadius, "search radius in meters")
	fs.BoolVar(&o.jsonOut, "json", false, "print raw JSON instead of a summary")
	fs.BoolVar(&o.market, "market", false, "include market analysis")
	if err := fs.Parse(args); err != nil {
		return o, err
	}
	o.query = strings.TrimSpace(o.query)
	o.location = strings.TrimSpace(o.location)
	if o.query == "" || o.location == "" {
		return o, errors.New("both -query and -location are required")
	}
	if o.radius <= 0 {
		return o, fmt.Errorf("radius must be positive, got %d", o.radius)
	}
	return o, nil
}

func main() {
	log.SetOutput(io.Discard)
	cfg, err := config.Load()
	if err != nil {
		fatal(err)
	}
	opts, err := parseFlags(os.Args[1:], cfg.Analyzer.DefaultRadius)
	if err != nil {
		fatal(err)
	}
	an := app.NewAnalyzer(cfg, probe.New(
		probe.WithTimeout(cfg.Analyzer.ProbeTimeout()),
		probe.WithUserAgent(cfg.Analyzer.UserAgent),
	))
	if an == nil {
		fatal(errors.New("GOOGLE_MAPS_API_KEY is not set"))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()
	results, err := an.AnalyzeWithProgress(ctx, opts.query, opts.location, opts.radius, func(done, total int, b analyzer.EnrichedBusiness) {
		if !opts.jsonOut {
			fmt.Fprintf(os.Stderr, "\r%s", progressStyle.Render(fmt.Sprintf("checked %d/%d", done, total)))
		}
	})
	if !opts.jsonOut {
		fmt.Fprint(os.Stderr, "\r\033[K")
	}
	if err != nil && !errors.Is(err, analyzer.ErrLocationNotFound) {
		fatal(err)
	}
	s := stats.Compute(results)
	if opts.market {
		s = stats.WithMarket(results)
	}
	if opts.jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(map[string]any{"businesses": results, "statistics": s}); err != nil {
			fatal(err)
		}
		return
	}
	if errors.Is(err, analyzer.ErrLocationNotFound) {
		fmt.Println(warnStyle.Render(fmt.Sprintf("Location %q could not be found", opts.location)))
		return
	}
	fmt.Println(render(opts, results, s))
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, errorStyle.Render("error: "+err.Error()))
	os.Exit(1)
}
