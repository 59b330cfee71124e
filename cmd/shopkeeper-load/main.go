package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/shopkeeper/backend/pkg/sdk"
)

// LoadConfig holds load test parameters.
type LoadConfig struct {
	BaseURL        string
	Turns          int
	Concurrency    int
	Identities     int
	Message        string
	ReportInterval time.Duration
}

// LoadStats tracks outcomes of every chat turn.
type LoadStats struct {
	Total       uint64
	OK          uint64
	Degraded    uint64
	RateLimited uint64
	Failed      uint64

	mu        sync.Mutex
	latencies []time.Duration
}

func (s *LoadStats) observe(d time.Duration) {
	s.mu.Lock()
	s.latencies = append(s.latencies, d)
	s.mu.Unlock()
}

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "shopkeeper base URL")
	turns := flag.Int("turns", 200, "number of chat turns to send")
	concurrency := flag.Int("concurrency", 10, "number of concurrent workers")
	identities := flag.Int("identities", 5, "number of distinct shopper identities")
	message := flag.String("message", "show me something blue under $50 please", "message text to send")
	reportInterval := flag.Duration("report", 5*time.Second, "progress reporting interval")
	flag.Parse()

	cfg := LoadConfig{
		BaseURL:        *baseURL,
		Turns:          *turns,
		Concurrency:    *concurrency,
		Identities:     *identities,
		Message:        *message,
		ReportInterval: *reportInterval,
	}
	if cfg.Identities <= 0 {
		cfg.Identities = 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("[Load] starting", "url", cfg.BaseURL, "turns", cfg.Turns,
		"concurrency", cfg.Concurrency, "identities", cfg.Identities)

	start := time.Now()
	stats := run(ctx, cfg)
	printResults(stats, time.Since(start))
}

func run(ctx context.Context, cfg LoadConfig) *LoadStats {
	client := sdk.NewClient(sdk.Config{BaseURL: cfg.BaseURL})
	stats := &LoadStats{}

	reportCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go reportProgress(reportCtx, stats, cfg.ReportInterval)

	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < cfg.Concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for n := range jobs {
				sendTurn(ctx, client, cfg, n, stats)
			}
		}()
	}

feed:
	for i := 0; i < cfg.Turns; i++ {
		select {
		case jobs <- i:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()
	return stats
}

func sendTurn(ctx context.Context, client *sdk.Client, cfg LoadConfig, n int, stats *LoadStats) {
	req := sdk.ChatRequest{
		Identity: fmt.Sprintf("load-%d", n%cfg.Identities),
		Text:     cfg.Message,
	}

	started := time.Now()
	resp, err := client.Chat(ctx, req)
	stats.observe(time.Since(started))
	atomic.AddUint64(&stats.Total, 1)

	var limited *sdk.RateLimitedError
	switch {
	case errors.As(err, &limited):
		atomic.AddUint64(&stats.RateLimited, 1)
	case err != nil:
		atomic.AddUint64(&stats.Failed, 1)
		slog.Debug("[Load] turn failed", "identity", req.Identity, "error", err)
	case resp.Error != "":
		atomic.AddUint64(&stats.Degraded, 1)
	default:
		atomic.AddUint64(&stats.OK, 1)
	}
}

func reportProgress(ctx context.Context, stats *LoadStats, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			slog.Info("[Load] progress",
				"total", atomic.LoadUint64(&stats.Total),
				"ok", atomic.LoadUint64(&stats.OK),
				"degraded", atomic.LoadUint64(&stats.Degraded),
				"rate_limited", atomic.LoadUint64(&stats.RateLimited),
				"failed", atomic.LoadUint64(&stats.Failed))
		case <-ctx.Done():
			return
		}
	}
}

func printResults(stats *LoadStats, elapsed time.Duration) {
	separator := "================================================================================"

	stats.mu.Lock()
	sorted := append([]time.Duration(nil), stats.latencies...)
	stats.mu.Unlock()
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	fmt.Println("\n" + separator)
	fmt.Println("SHOPKEEPER LOAD RESULTS")
	fmt.Println(separator)
	fmt.Printf("Turns sent:        %d\n", stats.Total)
	fmt.Printf("Answered:          %d\n", stats.OK)
	fmt.Printf("Degraded:          %d\n", stats.Degraded)
	fmt.Printf("Rate limited:      %d\n", stats.RateLimited)
	fmt.Printf("Failed:            %d\n", stats.Failed)
	fmt.Printf("Duration:          %v\n", elapsed.Round(time.Millisecond))
	if elapsed > 0 {
		fmt.Printf("Throughput:        %.2f turns/sec\n", float64(stats.Total)/elapsed.Seconds())
	}
	fmt.Printf("Latency (p50):     %v\n", percentile(sorted, 50))
	fmt.Printf("Latency (p95):     %v\n", percentile(sorted, 95))
	fmt.Printf("Latency (p99):     %v\n", percentile(sorted, 99))
	fmt.Println(separator)
}

// percentile expects sorted input.
func percentile(sorted []time.Duration, p int) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := len(sorted) * p / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
