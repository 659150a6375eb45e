package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"time"

	"stockbridge/client"

	"golang.org/x/time/rate"
)

// Configuration
var (
	targetURL = flag.String("url", "http://localhost:8080", "Bridge base URL")
	apiKey    = flag.String("key", "ledger-loadtest-key", "Integration client API key")
	totalVUs  = flag.Int("c", 20, "Total Virtual Users (Concurrency)")
	rampUp    = flag.Duration("ramp", 10*time.Second, "Ramp up duration")
	rps       = flag.Float64("rps", 50, "Global document submissions per second")
	duration  = flag.Duration("d", time.Minute, "Test duration")
	warehouse = flag.String("whs", "01", "Warehouse used by generated documents")
)

// Metrics
var (
	activeClients int64
	submitted     int64
	submitErrors  int64
	rejected      int64
	latencySum    int64 // milliseconds
	latencyCount  int64
)

var docTypes = []string{"EM", "SM", "TT"}

func main() {
	flag.Parse()

	fmt.Printf("Starting intake load test\n")
	fmt.Printf("   Target: %s\n", *targetURL)
	fmt.Printf("   VUs: %d\n", *totalVUs)
	fmt.Printf("   Rate: %.1f docs/s for %v\n", *rps, *duration)

	ctx, cancel := context.WithTimeout(context.Background(), *duration)
	defer cancel()
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	limiter := rate.NewLimiter(rate.Limit(*rps), 1)
	bridge := client.NewBridgeClient(*targetURL, client.WithAPIKey(*apiKey))

	// Metric Reporter
	go func() {
		ticker := time.NewTicker(1 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				ok := atomic.SwapInt64(&submitted, 0)
				errs := atomic.SwapInt64(&submitErrors, 0)
				rej := atomic.SwapInt64(&rejected, 0)
				latSum := atomic.SwapInt64(&latencySum, 0)
				latCnt := atomic.SwapInt64(&latencyCount, 0)

				avgLat := float64(0)
				if latCnt > 0 {
					avgLat = float64(latSum) / float64(latCnt)
				}

				fmt.Printf("[%s] Active: %d | Queued/s: %d | Rejected/s: %d | Errors/s: %d | Avg Latency: %.2f ms\n",
					time.Now().Format("15:04:05"), atomic.LoadInt64(&activeClients), ok, rej, errs, avgLat)
			}
		}
	}()

	// Ramp-up Logic
	var wg sync.WaitGroup
	interval := *rampUp / time.Duration(max(*totalVUs, 1))
	for i := 0; i < *totalVUs && ctx.Err() == nil; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			runClient(ctx, id, bridge, limiter)
		}(i)
		time.Sleep(interval)
	}

	fmt.Println("All VUs launched. Waiting...")
	wg.Wait()
}

func runClient(ctx context.Context, id int, bridge *client.BridgeClient, limiter *rate.Limiter) {
	atomic.AddInt64(&activeClients, 1)
	defer atomic.AddInt64(&activeClients, -1)

	rng := rand.New(rand.NewSource(int64(id) + time.Now().UnixNano()))
	for seq := 0; ; seq++ {
		if err := limiter.Wait(ctx); err != nil {
			return
		}

		start := time.Now()
		_, err := bridge.CreateDocument(ctx, randomDocument(rng, id, seq))
		atomic.AddInt64(&latencySum, time.Since(start).Milliseconds())
		atomic.AddInt64(&latencyCount, 1)

		var apiErr *client.APIError
		switch {
		case err == nil:
			atomic.AddInt64(&submitted, 1)
		case ctx.Err() != nil:
			return
		case errors.As(err, &apiErr) && apiErr.Status == 422:
			if atomic.AddInt64(&rejected, 1) == 1 {
				fmt.Printf("Client %d document rejected: %v\n", id, err)
			}
		default:
			if atomic.AddInt64(&submitErrors, 1) == 1 {
				fmt.Printf("Client %d error: %v\n", id, err)
			}
		}
	}
}

func randomDocument(rng *rand.Rand, id, seq int) map[string]any {
	docType := docTypes[rng.Intn(len(docTypes))]
	lines := make([]map[string]any, 1+rng.Intn(5))
	for i := range lines {
		lines[i] = map[string]any{
			"itemSku":  fmt.Sprintf("LT-%04d", rng.Intn(500)),
			"quantity": fmt.Sprintf("%d.%02d", 1+rng.Intn(20), rng.Intn(100)),
		}
	}
	doc := map[string]any{
		"docType":     docType,
		"reference":   fmt.Sprintf("loadtest-%d-%d", id, seq),
		"postingDate": time.Now().UTC().Format("2006-01-02"),
		"lines":       lines,
	}
	switch docType {
	case "EM":
		doc["toWarehouse"] = *warehouse
	case "SM":
		doc["fromWarehouse"] = *warehouse
	case "TT":
		doc["fromWarehouse"] = *warehouse
		doc["toWarehouse"] = *warehouse + "-B"
	}
	return doc
}
