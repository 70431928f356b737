package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/VanDung-dev/HieraChain-Consensus/api"
	"github.com/VanDung-dev/HieraChain-Consensus/consensus"
	"github.com/VanDung-dev/HieraChain-Consensus/data"
)

// StressTestConfig holds configuration for the stress test.
type StressTestConfig struct {
	Address            string
	Concurrency        int
	BatchSize          int
	RequestCount       int
	Duration           time.Duration
	AuthToken          string
	ReportFile         string
	RequestType        string
	RequiredConfidence float64
	MaxNodes           int
	TimeoutMs          int64
}

// StressTestResult holds the results of a stress test.
type StressTestResult struct {
	TotalBatches   int64
	FailedBatches  int64
	TotalRounds    int64
	FallbackRounds int64
	RowErrors      int64
	TotalDuration  time.Duration
	AvgLatency     time.Duration
	MinLatency     time.Duration
	MaxLatency     time.Duration
	RoundsPerSec   float64
}

type counters struct {
	batches      atomic.Int64
	failed       atomic.Int64
	rounds       atomic.Int64
	fallbacks    atomic.Int64
	rowErrors    atomic.Int64
	totalLatency atomic.Int64
	minLatency   atomic.Int64
	maxLatency   atomic.Int64
}

func main() {
	config := parseFlags()

	fmt.Println("=== HieraChain Consensus Batch Stress Test ===")
	fmt.Printf("Target: %s\n", config.Address)
	fmt.Printf("Concurrency: %d workers\n", config.Concurrency)
	fmt.Printf("Batch size: %d requests\n", config.BatchSize)
	fmt.Printf("Duration: %v\n", config.Duration)
	fmt.Printf("Auth: %v\n", config.AuthToken != "")
	fmt.Println()

	result := runStressTest(config)

	printResults(result)

	if config.ReportFile != "" {
		saveReport(config, result)
	}
}

func parseFlags() StressTestConfig {
	config := StressTestConfig{}

	flag.StringVar(&config.Address, "addr", "127.0.0.1:50052", "Arrow batch server address")
	flag.IntVar(&config.Concurrency, "c", 10, "Number of concurrent workers")
	flag.IntVar(&config.BatchSize, "b", 10, "Requests per batch")
	flag.IntVar(&config.RequestCount, "n", 0, "Total number of batches (0 = unlimited, use -d instead)")
	flag.DurationVar(&config.Duration, "d", 30*time.Second, "Duration of test")
	flag.StringVar(&config.AuthToken, "token", "", "Authentication token (empty disables the handshake)")
	flag.StringVar(&config.ReportFile, "o", "", "Output report file (JSON)")
	flag.StringVar(&config.RequestType, "type", string(consensus.RequestGenerate), "Request type")
	flag.Float64Var(&config.RequiredConfidence, "confidence", 0.7, "Required confidence per request")
	flag.IntVar(&config.MaxNodes, "nodes", 3, "Max nodes per request")
	flag.Int64Var(&config.TimeoutMs, "timeout", 5000, "Per-node timeout in milliseconds")

	flag.Parse()

	return config
}

func runStressTest(config StressTestConfig) StressTestResult {
	var (
		c        counters
		wg       sync.WaitGroup
		stopChan = make(chan struct{})
		budget   atomic.Int64
	)
	c.minLatency.Store(1<<63 - 1)
	budget.Store(int64(config.RequestCount))

	startTime := time.Now()

	// Start workers
	for i := 0; i < config.Concurrency; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			runWorker(workerID, config, stopChan, &budget, &c)
		}(i)
	}

	// Wait for duration or until the batch budget is spent
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-time.After(config.Duration):
		close(stopChan)
		<-done
	case <-done:
	}

	duration := time.Since(startTime)
	batches := c.batches.Load()
	ok := batches - c.failed.Load()

	var avgLatency time.Duration
	if ok > 0 {
		avgLatency = time.Duration(c.totalLatency.Load() / ok)
	}
	minLat := c.minLatency.Load()
	if ok == 0 {
		minLat = 0
	}

	return StressTestResult{
		TotalBatches:   batches,
		FailedBatches:  c.failed.Load(),
		TotalRounds:    c.rounds.Load(),
		FallbackRounds: c.fallbacks.Load(),
		RowErrors:      c.rowErrors.Load(),
		TotalDuration:  duration,
		AvgLatency:     avgLatency,
		MinLatency:     time.Duration(minLat),
		MaxLatency:     time.Duration(c.maxLatency.Load()),
		RoundsPerSec:   float64(c.rounds.Load()) / duration.Seconds(),
	}
}

func runWorker(id int, config StressTestConfig, stop chan struct{}, budget *atomic.Int64, c *counters) {
	var client *api.BatchClient
	defer func() {
		if client != nil {
			_ = client.Close()
		}
	}()

	for seq := 0; ; seq++ {
		select {
		case <-stop:
			return
		default:
		}

		if config.RequestCount > 0 && budget.Add(-1) < 0 {
			return
		}

		if client == nil {
			var err error
			client, err = api.DialBatch(config.Address, config.AuthToken, 5*time.Second)
			if err != nil {
				c.batches.Add(1)
				c.failed.Add(1)
				// Small sleep on error to avoid hammering
				time.Sleep(10 * time.Millisecond)
				continue
			}
		}

		start := time.Now()
		results, err := client.Submit(buildBatch(config, id, seq))
		latency := int64(time.Since(start))
		c.batches.Add(1)

		if err != nil {
			c.failed.Add(1)
			_ = client.Close()
			client = nil
			time.Sleep(10 * time.Millisecond)
			continue
		}

		c.totalLatency.Add(latency)
		updateMin(&c.minLatency, latency)
		updateMax(&c.maxLatency, latency)

		for _, r := range results {
			if r.Error != "" {
				c.rowErrors.Add(1)
				continue
			}
			c.rounds.Add(1)
			if r.Result != nil && r.Result.Fallback {
				c.fallbacks.Add(1)
			}
		}
	}
}

func buildBatch(config StressTestConfig, worker, seq int) []data.RequestRow {
	rows := make([]data.RequestRow, config.BatchSize)
	for i := range rows {
		rows[i] = data.RequestJSON{
			RequestID:          fmt.Sprintf("w%d-b%d-r%d", worker, seq, i),
			Type:               config.RequestType,
			Payload:            fmt.Sprintf("stress payload %d/%d/%d", worker, seq, i),
			RequiredConfidence: config.RequiredConfidence,
			MaxNodes:           config.MaxNodes,
			TimeoutMs:          config.TimeoutMs,
		}.Row()
	}
	return rows
}

func updateMin(v *atomic.Int64, lat int64) {
	for {
		old := v.Load()
		if lat >= old || v.CompareAndSwap(old, lat) {
			return
		}
	}
}

func updateMax(v *atomic.Int64, lat int64) {
	for {
		old := v.Load()
		if lat <= old || v.CompareAndSwap(old, lat) {
			return
		}
	}
}

func percent(part, total int64) float64 {
	if total == 0 {
		return 0
	}
	return float64(part) / float64(total) * 100
}

func printResults(result StressTestResult) {
	fmt.Println("=== Results ===")
	fmt.Printf("Duration:        %v\n", result.TotalDuration.Round(time.Millisecond))
	fmt.Printf("Batches:         %d\n", result.TotalBatches)
	fmt.Printf("Failed batches:  %d (%.2f%%)\n", result.FailedBatches, percent(result.FailedBatches, result.TotalBatches))
	fmt.Printf("Rounds:          %d\n", result.TotalRounds)
	fmt.Printf("Fallback rounds: %d (%.2f%%)\n", result.FallbackRounds, percent(result.FallbackRounds, result.TotalRounds))
	fmt.Printf("Row errors:      %d\n", result.RowErrors)
	fmt.Printf("Rounds/sec:      %.2f\n", result.RoundsPerSec)
	fmt.Printf("Avg Latency:     %v\n", result.AvgLatency.Round(time.Microsecond))
	fmt.Printf("Min Latency:     %v\n", result.MinLatency.Round(time.Microsecond))
	fmt.Printf("Max Latency:     %v\n", result.MaxLatency.Round(time.Microsecond))
}

func saveReport(config StressTestConfig, result StressTestResult) {
	report := map[string]interface{}{
		"config": map[string]interface{}{
			"address":     config.Address,
			"concurrency": config.Concurrency,
			"batch_size":  config.BatchSize,
			"duration":    config.Duration.String(),
		},
		"results": map[string]interface{}{
			"batches":         result.TotalBatches,
			"failed_batches":  result.FailedBatches,
			"rounds":          result.TotalRounds,
			"fallback_rounds": result.FallbackRounds,
			"row_errors":      result.RowErrors,
			"rounds_per_sec":  result.RoundsPerSec,
			"avg_latency_ms":  float64(result.AvgLatency.Microseconds()) / 1000,
			"min_latency_ms":  float64(result.MinLatency.Microseconds()) / 1000,
			"max_latency_ms":  float64(result.MaxLatency.Microseconds()) / 1000,
		},
		"timestamp": time.Now().Format(time.RFC3339),
	}

	payload, _ := json.MarshalIndent(report, "", "  ")
	if err := os.WriteFile(config.ReportFile, payload, 0600); err != nil {
		log.Printf("Failed to write report: %v", err)
	} else {
		fmt.Printf("Report saved to: %s\n", config.ReportFile)
	}
}
