// Package main provides the CLI entry point for the sync API load driver.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"github.com/projectlink/tools/loadgen/internal/pool"
)

// Version information (populated at build time)
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

// CLI flags
var (
	targetURL   string
	orgID       string
	duration    time.Duration
	concurrency int
	qps         float64
	warmupIters int
	poolSize    int
	evictionStr string
	valueTTL    time.Duration
	verbose     bool
	list        bool
	dryRun      bool
	showVersion bool
)

func init() {
	// Target
	flag.StringVar(&targetURL, "target", "http://localhost:8080", "Base URL of the sync API")
	flag.StringVar(&targetURL, "t", "http://localhost:8080", "Base URL of the sync API (shorthand)")
	flag.StringVar(&orgID, "org", "", "Value for the X-Org-ID header")

	// Load shape
	flag.DurationVar(&duration, "duration", time.Minute, "Test duration (e.g., 5m, 1h)")
	flag.DurationVar(&duration, "d", time.Minute, "Test duration (shorthand)")
	flag.IntVar(&concurrency, "concurrency", 8, "Number of concurrent workers")
	flag.Float64Var(&qps, "qps", 20, "Target requests per second")
	flag.IntVar(&warmupIters, "warmup", 3, "Seed iterations before the timed phase")

	// Parameter pool
	flag.IntVar(&poolSize, "pool-size", 1000, "Max harvested values kept per semantic type")
	flag.StringVar(&evictionStr, "eviction", "FIFO", "Pool eviction policy: FIFO, LRU, or Random")
	flag.DurationVar(&valueTTL, "ttl", 5*time.Minute, "TTL for harvested values (0 disables expiry)")

	// Utility flags
	flag.BoolVar(&verbose, "verbose", false, "Enable verbose output")
	flag.BoolVar(&verbose, "v", false, "Enable verbose output (shorthand)")
	flag.BoolVar(&list, "list", false, "List the endpoint mix and exit")
	flag.BoolVar(&list, "l", false, "List the endpoint mix (shorthand)")
	flag.BoolVar(&dryRun, "dry-run", false, "Show the execution plan without sending requests")
	flag.BoolVar(&showVersion, "version", false, "Show version information")

	// Custom usage
	flag.Usage = printUsage
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `Load Driver - Sync API Load Testing Tool

USAGE:
    loadgen -org <uuid> [options]

DESCRIPTION:
    Generates read-heavy traffic against the sync API. Identifiers harvested
    from list responses are kept in a parameter pool keyed by semantic type,
    and detail endpoints draw their path parameters from that pool, so the
    request mix exercises real resource identifiers instead of random ones.

TARGET OPTIONS:
    -target, -t <url>     Base URL of the sync API (default http://localhost:8080)
    -org <uuid>           Value for the X-Org-ID header (required to run)

LOAD OPTIONS:
    -duration, -d <dur>   Test duration (e.g., "5m", "1h30m")
    -concurrency <n>      Number of concurrent workers
    -qps <n>              Target requests per second
    -warmup <n>           Seed iterations before the timed phase

POOL OPTIONS:
    -pool-size <n>        Max harvested values kept per semantic type
    -eviction <policy>    Pool eviction policy: FIFO, LRU, or Random
    -ttl <dur>            TTL for harvested values (0 disables expiry)

UTILITY OPTIONS:
    -list, -l             List the endpoint mix and exit
    -dry-run              Show the execution plan without sending requests
    -verbose, -v          Enable verbose output
    -version              Show version information
    -help, -h             Show this help message

EXAMPLES:
    # Drive a local server for one minute
    loadgen -org 0c0bcbcf-5158-4f6c-8f2b-9d0e4a7c31a2 -duration 1m

    # Higher load with LRU pool eviction
    loadgen -org 0c0bcbcf-5158-4f6c-8f2b-9d0e4a7c31a2 -qps 200 -concurrency 32 -eviction LRU

    # Show the endpoint mix
    loadgen -list

    # Show the execution plan without sending anything
    loadgen -org 0c0bcbcf-5158-4f6c-8f2b-9d0e4a7c31a2 -dry-run
`)
}

// endpointSpec describes one API call the driver can issue: how often it is
// picked, which semantic type fills its path parameter, and which type is
// harvested from its response.
type endpointSpec struct {
	Name     string
	Method   string
	Path     string // may contain the {id} placeholder
	Weight   int
	Consumes pool.SemanticType // fills {id}; empty when the path is static
	Produces pool.SemanticType // harvested from $.data[*].id; empty when nothing is harvested
}

var endpoints = []endpointSpec{
	{Name: "sync.runs.list", Method: http.MethodGet, Path: "/api/v1/sync/runs", Weight: 20, Produces: pool.SemanticTypeRunID},
	{Name: "sync.runs.get", Method: http.MethodGet, Path: "/api/v1/sync/runs/{id}", Weight: 15, Consumes: pool.SemanticTypeRunID},
	{Name: "sync.records.list", Method: http.MethodGet, Path: "/api/v1/sync/records", Weight: 25, Produces: pool.SemanticTypeRecordID},
	{Name: "sync.records.get", Method: http.MethodGet, Path: "/api/v1/sync/records/{id}", Weight: 20, Consumes: pool.SemanticTypeRecordID},
	{Name: "sync.records.summary", Method: http.MethodGet, Path: "/api/v1/sync/records/summary", Weight: 10},
	{Name: "system.info", Method: http.MethodGet, Path: "/api/v1/system/info", Weight: 5},
	{Name: "system.outbox.stats", Method: http.MethodGet, Path: "/api/v1/system/outbox/stats", Weight: 5},
}

func totalWeight() int {
	total := 0
	for _, ep := range endpoints {
		total += ep.Weight
	}
	return total
}

// pickEndpoint selects an endpoint with probability proportional to its weight.
func pickEndpoint(rng *rand.Rand) endpointSpec {
	n := rng.Intn(totalWeight())
	for _, ep := range endpoints {
		n -= ep.Weight
		if n < 0 {
			return ep
		}
	}
	return endpoints[len(endpoints)-1]
}

// fillPath substitutes the {id} placeholder with a concrete value.
func fillPath(path, id string) string {
	return strings.Replace(path, "{id}", id, 1)
}

func main() {
	flag.Parse()

	// Handle version flag
	if showVersion {
		printVersion()
		os.Exit(0)
	}

	// Handle utility commands
	if list {
		printEndpointList()
		os.Exit(0)
	}

	if dryRun {
		printExecutionPlan()
		os.Exit(0)
	}

	if orgID == "" {
		fmt.Fprintln(os.Stderr, "Error: -org flag is required")
		fmt.Fprintln(os.Stderr, "")
		printUsage()
		os.Exit(1)
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error running load driver: %v\n", err)
		os.Exit(1)
	}
}

func printVersion() {
	fmt.Printf("loadgen version %s\n", version)
	fmt.Printf("  Build time: %s\n", buildTime)
	fmt.Printf("  Git commit: %s\n", gitCommit)
}

func printEndpointList() {
	fmt.Printf("Endpoints (%d total, weight %d):\n", len(endpoints), totalWeight())
	fmt.Println()
	for _, ep := range endpoints {
		flow := ""
		switch {
		case ep.Consumes != "":
			flow = "consumes " + string(ep.Consumes)
		case ep.Produces != "":
			flow = "produces " + string(ep.Produces)
		}
		fmt.Printf("  %-22s %-4s %-36s w:%-3d %s\n", ep.Name, ep.Method, ep.Path, ep.Weight, flow)
	}
}

func printExecutionPlan() {
	fmt.Println("=== Execution Plan (Dry Run) ===")
	fmt.Println()
	fmt.Printf("  Target:      %s\n", targetURL)
	fmt.Printf("  Duration:    %v\n", duration)
	fmt.Printf("  Workers:     %d\n", concurrency)
	fmt.Printf("  Target QPS:  %.1f\n", qps)
	fmt.Printf("  Warmup:      %d iterations\n", warmupIters)

	fmt.Println()
	fmt.Println("Parameter Pool:")
	fmt.Printf("  Max per type: %d\n", poolSize)
	fmt.Printf("  Eviction:     %s\n", pool.ParseEvictionPolicy(evictionStr))
	fmt.Printf("  Value TTL:    %v\n", valueTTL)

	fmt.Println()
	fmt.Println("Endpoint Distribution:")
	total := totalWeight()
	for _, ep := range endpoints {
		pct := float64(ep.Weight) / float64(total) * 100
		fmt.Printf("  %-22s w:%-3d (%.1f%%)\n", ep.Name, ep.Weight, pct)
	}

	fmt.Println()
	fmt.Println("Ready to execute. Remove -dry-run flag to start the load driver.")
}

// driver issues weighted requests against the sync API, harvesting
// identifiers from list responses into a parameter pool and drawing path
// parameters for detail requests back out of it.
type driver struct {
	client  *http.Client
	limiter *rate.Limiter
	pool    pool.ParameterPool
	baseURL string
	orgID   string
	ttl     time.Duration

	requests  atomic.Int64
	errors    atomic.Int64
	skipped   atomic.Int64
	totalTime atomic.Int64 // summed request latency in nanoseconds
}

func newDriver(p pool.ParameterPool) *driver {
	return &driver{
		client:  &http.Client{Timeout: 30 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(qps), max(1, concurrency)),
		pool:    p,
		baseURL: strings.TrimRight(targetURL, "/"),
		orgID:   orgID,
		ttl:     valueTTL,
	}
}

// listEnvelope matches the response shape of list endpoints.
type listEnvelope struct {
	Success bool `json:"success"`
	Data    []struct {
		ID string `json:"id"`
	} `json:"data"`
}

// execute issues one request for the given endpoint. Detail endpoints that
// find no pooled value to consume are skipped rather than sent with a
// fabricated identifier.
func (d *driver) execute(ctx context.Context, ep endpointSpec) {
	path := ep.Path
	if ep.Consumes != "" {
		pv, err := d.pool.GetRandom(ctx, ep.Consumes)
		if err != nil || pv == nil {
			d.skipped.Add(1)
			return
		}
		path = fillPath(path, fmt.Sprint(pv.Value))
	}

	req, err := http.NewRequestWithContext(ctx, ep.Method, d.baseURL+path, nil)
	if err != nil {
		d.errors.Add(1)
		return
	}
	req.Header.Set("X-Org-ID", d.orgID)

	start := time.Now()
	resp, err := d.client.Do(req)
	d.requests.Add(1)
	d.totalTime.Add(int64(time.Since(start)))
	if err != nil {
		// Cancellation at shutdown is not a request failure
		if ctx.Err() == nil {
			d.errors.Add(1)
		}
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		d.errors.Add(1)
		_, _ = io.Copy(io.Discard, resp.Body)
		return
	}

	if ep.Produces != "" {
		d.harvest(ctx, ep, resp.Body)
		return
	}
	_, _ = io.Copy(io.Discard, resp.Body)
}

// harvest extracts identifiers from a list response into the pool.
// Duplicates are tolerated; the per-type ring buffer caps growth.
func (d *driver) harvest(ctx context.Context, ep endpointSpec, body io.Reader) {
	var envelope listEnvelope
	if err := json.NewDecoder(body).Decode(&envelope); err != nil {
		return
	}
	for _, item := range envelope.Data {
		if item.ID == "" {
			continue
		}
		value := pool.NewParameterValue(item.ID, ep.Produces, d.ttl).
			WithSource(ep.Method+" "+ep.Path, "$.data[*].id")
		_, _ = d.pool.Add(ctx, value)
	}
}

// warmup seeds the pool by calling every producing endpoint a few times
// before the timed phase starts.
func (d *driver) warmup(ctx context.Context, iterations int) {
	for i := 0; i < iterations; i++ {
		for _, ep := range endpoints {
			if ep.Produces == "" {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			d.execute(ctx, ep)
		}
	}
}

func (d *driver) worker(ctx context.Context, wg *sync.WaitGroup, seed int64) {
	defer wg.Done()
	rng := rand.New(rand.NewSource(seed))
	for {
		if err := d.limiter.Wait(ctx); err != nil {
			return
		}
		d.execute(ctx, pickEndpoint(rng))
	}
}

// progress prints a short status line every 10 seconds.
func (d *driver) progress(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats, err := d.pool.Stats(ctx)
			if err != nil {
				return
			}
			fmt.Printf("  requests=%d errors=%d skipped=%d pooled=%d\n",
				d.requests.Load(), d.errors.Load(), d.skipped.Load(), stats.TotalValues)
		}
	}
}

func run() error {
	config := pool.DefaultPoolConfig()
	config.MaxValuesPerType = poolSize
	config.EvictionPolicy = pool.ParseEvictionPolicy(evictionStr)
	config.DefaultTTL = valueTTL
	p := pool.NewShardedParameterPool(config)
	defer p.Close()

	d := newDriver(p)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Println("=== Load Driver ===")
	fmt.Printf("  Target:      %s\n", d.baseURL)
	fmt.Printf("  Org:         %s\n", d.orgID)
	fmt.Printf("  Duration:    %v\n", duration)
	fmt.Printf("  Workers:     %d\n", concurrency)
	fmt.Printf("  Target QPS:  %.1f\n", qps)
	fmt.Printf("  Eviction:    %s\n", config.EvictionPolicy)
	fmt.Println()

	if warmupIters > 0 {
		d.warmup(ctx, warmupIters)
		if verbose {
			stats, _ := p.Stats(ctx)
			fmt.Printf("Warmup complete: %d values pooled\n", stats.TotalValues)
		}
	}

	runCtx, cancel := context.WithTimeout(ctx, duration)
	defer cancel()

	start := time.Now()
	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go d.worker(runCtx, &wg, time.Now().UnixNano()+int64(i))
	}

	if verbose {
		go d.progress(runCtx)
	}

	wg.Wait()
	elapsed := time.Since(start)

	return d.report(context.Background(), elapsed)
}

func (d *driver) report(ctx context.Context, elapsed time.Duration) error {
	requests := d.requests.Load()
	failed := d.errors.Load()
	skipped := d.skipped.Load()

	fmt.Println()
	fmt.Println("=== Results ===")
	fmt.Printf("  Duration:      %v\n", elapsed.Round(time.Millisecond))
	fmt.Printf("  Requests:      %d\n", requests)
	if requests > 0 {
		fmt.Printf("  Errors:        %d (%.1f%%)\n", failed, float64(failed)/float64(requests)*100)
		avg := time.Duration(d.totalTime.Load() / requests)
		fmt.Printf("  Avg Latency:   %v\n", avg.Round(time.Microsecond))
		fmt.Printf("  Effective QPS: %.1f\n", float64(requests)/elapsed.Seconds())
	} else {
		fmt.Printf("  Errors:        %d\n", failed)
	}
	fmt.Printf("  Skipped:       %d (no pooled value)\n", skipped)

	stats, err := d.pool.Stats(ctx)
	if err != nil {
		return err
	}

	fmt.Println()
	fmt.Println("Parameter Pool:")
	fmt.Printf("  Values:    %d\n", stats.TotalValues)
	fmt.Printf("  Adds:      %d\n", stats.AddCount)
	fmt.Printf("  Hit Rate:  %.1f%% (%d hits, %d misses)\n", stats.HitRate(), stats.HitCount, stats.MissCount)
	fmt.Printf("  Evictions: %d\n", stats.EvictionCount)
	fmt.Printf("  Expired:   %d\n", stats.ExpiredCount)

	if len(stats.ValuesByType) > 0 {
		types := make([]string, 0, len(stats.ValuesByType))
		for st := range stats.ValuesByType {
			types = append(types, string(st))
		}
		sort.Strings(types)

		fmt.Println()
		fmt.Println("  By Type:")
		for _, st := range types {
			fmt.Printf("    %-22s %d\n", st, stats.ValuesByType[pool.SemanticType(st)])
		}
	}

	return nil
}
