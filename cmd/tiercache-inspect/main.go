package main

// main.go implements the tiercache inspector CLI: it parses command-line
// flags, fetches diagnostic data from a target process exposing a
// tiercache debug endpoint, and prints it either as pretty text or JSON. It
// also supports periodic watch mode and pprof snapshot download.
//
// The target Go service is expected to expose:
//   • GET /debug/tiercache/snapshot     – JSON payload with cache statistics,
//     one object per registered cache (hits/misses/ghost installs/
//     promotions/evictions/memory usage).
//   • GET /debug/pprof/{heap,goroutine} – standard pprof handlers (net/http/pprof).
//
// The snapshot object is intentionally generic; we decode into
// map[string]any to avoid version skew between CLI and library.
//
// Adapted from the teacher's cmd/arena-cache-inspect/main.go, retargeted at
// the GDSF/ghost/sweep statistics this core exposes instead of raw arena
// byte counts.
//
// © 2025 tiercache authors. MIT License.

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
)

var version = "dev"

type options struct {
	target           string
	watch            bool
	interval         time.Duration
	json             bool
	heapProfile      string
	goroutineProfile string
	version          bool
}

func parseFlags() *options {
	opts := &options{}
	flag.StringVar(&opts.target, "target", "http://localhost:6060", "base URL of the process exposing the tiercache debug endpoint")
	flag.BoolVar(&opts.watch, "watch", false, "poll the snapshot endpoint repeatedly instead of a one-shot dump")
	flag.DurationVar(&opts.interval, "interval", 2*time.Second, "poll interval for -watch")
	flag.BoolVar(&opts.json, "json", false, "emit the raw JSON snapshot instead of the pretty summary")
	flag.StringVar(&opts.heapProfile, "heap-profile", "", "download /debug/pprof/heap to this path and exit")
	flag.StringVar(&opts.goroutineProfile, "goroutine-profile", "", "download /debug/pprof/goroutine to this path and exit")
	flag.BoolVar(&opts.version, "version", false, "print the CLI version and exit")
	flag.Parse()
	return opts
}

func main() {
	opts := parseFlags()

	if opts.version {
		fmt.Println(version)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		cancel()
	}()

	if opts.heapProfile != "" {
		if err := downloadProfile(ctx, opts.target, "heap", opts.heapProfile); err != nil {
			fatal(err)
		}
		return
	}
	if opts.goroutineProfile != "" {
		if err := downloadProfile(ctx, opts.target, "goroutine", opts.goroutineProfile); err != nil {
			fatal(err)
		}
		return
	}

	if opts.watch {
		ticker := time.NewTicker(opts.interval)
		defer ticker.Stop()
		for {
			if err := dumpOnce(ctx, opts); err != nil {
				fmt.Fprintln(os.Stderr, "error:", err)
			}
			select {
			case <-ticker.C:
				continue
			case <-ctx.Done():
				return
			}
		}
	}

	if err := dumpOnce(ctx, opts); err != nil {
		fatal(err)
	}
}

/* -------------------------------------------------------------------------
   Helpers
   ------------------------------------------------------------------------- */

func dumpOnce(ctx context.Context, opts *options) error {
	snap, err := fetchSnapshot(ctx, opts.target)
	if err != nil {
		return err
	}

	if opts.json {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(snap)
	}
	return prettyPrint(snap)
}

func fetchSnapshot(ctx context.Context, base string) (map[string]any, error) {
	url := base + "/debug/tiercache/snapshot"
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %s", res.Status)
	}
	var data map[string]any
	if err := json.NewDecoder(res.Body).Decode(&data); err != nil {
		return nil, err
	}
	return data, nil
}

// prettyPrint renders the subset of fields a cache's metricsSink publishes
// (see pkg/tiercache/metrics.go): one line per counter/gauge, per cache.
func prettyPrint(data map[string]any) error {
	for name, raw := range data {
		stats, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		fmt.Printf("cache %q\n", name)
		fmt.Printf("  hits:              %v\n", stats["hits_total"])
		fmt.Printf("  misses:            %v\n", stats["misses_total"])
		fmt.Printf("  ghost installs:    %v\n", stats["ghost_installs_total"])
		fmt.Printf("  promotions:        %v\n", stats["promotions_total"])
		fmt.Printf("  evictions:         %v\n", stats["evictions_total"])
		fmt.Printf("  evictions->ghost:  %v\n", stats["evictions_to_ghost_total"])
		fmt.Printf("  writes coalesced:  %v\n", stats["writes_coalesced_total"])
		fmt.Printf("  memory bytes:      %v\n", stats["memory_bytes"])
		fmt.Printf("  memory usage:      %.2f%%\n", toFloat(stats["memory_usage_ratio"])*100)
	}
	return nil
}

func toFloat(v any) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case int64:
		return float64(t)
	case json.Number:
		f, _ := t.Float64()
		return f
	default:
		return 0
	}
}

func downloadProfile(ctx context.Context, base, name, path string) error {
	url := fmt.Sprintf("%s/debug/pprof/%s", base, name)
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %s", res.Status)
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := io.Copy(f, res.Body); err != nil {
		return err
	}
	fmt.Printf("%s profile saved to %s\n", name, path)
	return nil
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "tiercache-inspect:", err)
	os.Exit(1)
}
