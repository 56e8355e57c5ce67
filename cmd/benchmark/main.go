// Benchmark tool for load-testing the Dealguard approval pipeline.
//
// Usage:
//   go run cmd/benchmark/main.go -url http://localhost:8080 -count 5000
//
// This tool:
//   1. Generates synthetic discount requests from a seeded distribution
//   2. Submits each request and runs it through the evaluation pipeline
//   3. Tracks the approval funnel (auto-approved / review / guardrail-blocked)
//   4. Reports latency and throughput
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// SyntheticRequest is one generated discount request.
type SyntheticRequest struct {
	CustomerID    string
	SalespersonID string
	DiscountPct   float64
	MarginPct     float64
	Quantity      int
	UnitPrice     float64
}

// CreateRequestBody matches the Dealguard API request format.
type CreateRequestBody struct {
	CustomerID           string        `json:"customerId"`
	SalespersonID        string        `json:"salespersonId"`
	Items                []RequestItem `json:"items"`
	RequestedDiscountPct float64       `json:"requestedDiscountPct"`
	EstimatedMarginPct   *float64      `json:"estimatedMarginPct,omitempty"`
	Justification        string        `json:"justification,omitempty"`
}

type RequestItem struct {
	ProductID   string  `json:"productId"`
	Quantity    int     `json:"quantity"`
	UnitPrice   float64 `json:"unitPrice"`
	DiscountPct float64 `json:"discountPct"`
}

// CreatedResponse is the subset of the create response the benchmark needs.
type CreatedResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// EvaluationResponse is the subset of the evaluation result the benchmark needs.
type EvaluationResponse struct {
	CanAutoApprove   bool     `json:"canAutoApprove"`
	RejectionDetails []string `json:"rejectionDetails"`
	RiskScore        float64  `json:"riskScore"`
	Source           string   `json:"source"`
	Guardrail        struct {
		Valid  bool     `json:"valid"`
		Errors []string `json:"errors"`
	} `json:"guardrail"`
}

// Metrics tracks benchmark results.
type Metrics struct {
	AutoApproved     int64
	RoutedToReview   int64
	GuardrailBlocked int64

	FallbackScored int64
	AIScored       int64

	TotalProcessed int64
	TotalErrors    int64

	ProcessingTimeMs int64
}

func main() {
	// Parse flags
	baseURL := flag.String("url", "http://localhost:8080", "Dealguard base URL")
	tenantID := flag.String("tenant", "benchmark-test", "Tenant ID for requests")
	count := flag.Int("count", 1000, "Number of requests to generate")
	workers := flag.Int("workers", 10, "Number of concurrent workers")
	maxDiscount := flag.Float64("max-discount", 30, "Upper bound for generated discounts (percent)")
	seed := flag.Int64("seed", 42, "Random seed for the request distribution")
	permissive := flag.Bool("permissive", false, "Apply permissive governance settings before the run")
	verbose := flag.Bool("verbose", false, "Print each request result")
	flag.Parse()

	fmt.Println("╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║         DEALGUARD BENCHMARK - Approval Pipeline Load          ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")
	fmt.Printf("\nDealguard URL: %s\n", *baseURL)
	fmt.Printf("Tenant ID:     %s\n", *tenantID)
	fmt.Printf("Requests:      %d\n", *count)
	fmt.Printf("Workers:       %d\n", *workers)
	fmt.Printf("Max Discount:  %.1f%%\n", *maxDiscount)
	fmt.Printf("Seed:          %d\n", *seed)
	fmt.Println()

	// Check Dealguard is running
	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: Dealguard not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure Dealguard is running:")
		fmt.Println("  go run cmd/dealguard/main.go")
		os.Exit(1)
	}
	fmt.Println("✓ Dealguard is healthy")

	if *permissive {
		if err := applyPermissiveGovernance(*baseURL, *tenantID); err != nil {
			fmt.Printf("ERROR: Failed to apply governance settings: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("✓ Permissive governance applied")
	}

	// Generate synthetic requests
	requests := generateRequests(*count, *maxDiscount, *seed)
	fmt.Printf("✓ Generated %d synthetic requests\n", len(requests))

	// Run benchmark
	fmt.Printf("\nRunning benchmark with %d workers...\n", *workers)
	startTime := time.Now()
	metrics := runBenchmark(requests, *baseURL, *tenantID, *workers, *verbose)
	duration := time.Since(startTime)

	// Print results
	printResults(metrics, duration)
}

func checkHealth(baseURL string) error {
	resp, err := http.Get(baseURL + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

// applyPermissiveGovernance raises the auto-approval thresholds so the run
// exercises both funnel outcomes instead of routing everything to review.
func applyPermissiveGovernance(baseURL, tenantID string) error {
	settings := map[string]any{
		"aiEnabled":                    true,
		"autonomyLevel":                70,
		"maxRiskScoreForAutoApproval":  60.0,
		"minConfidenceForAutoApproval": 0.7,
		"requireHumanReview":           false,
		"maxAutoApprovalDiscountPct":   20.0,
	}
	body, err := json.Marshal(settings)
	if err != nil {
		return err
	}

	req, err := http.NewRequest(http.MethodPut, baseURL+"/governance", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tenant-ID", tenantID)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}

// generateRequests builds a seeded mix of small routine discounts and larger
// outliers. Roughly 70% of requests stay under half the discount ceiling.
func generateRequests(count int, maxDiscount float64, seed int64) []SyntheticRequest {
	rng := rand.New(rand.NewSource(seed))
	requests := make([]SyntheticRequest, 0, count)

	for i := 0; i < count; i++ {
		discount := rng.Float64() * maxDiscount / 2
		if rng.Float64() > 0.7 {
			discount = maxDiscount/2 + rng.Float64()*maxDiscount/2
		}

		requests = append(requests, SyntheticRequest{
			CustomerID:    fmt.Sprintf("cust-%03d", rng.Intn(50)),
			SalespersonID: fmt.Sprintf("sp-%03d", rng.Intn(20)),
			DiscountPct:   discount,
			MarginPct:     10 + rng.Float64()*30,
			Quantity:      1 + rng.Intn(20),
			UnitPrice:     50 + rng.Float64()*950,
		})
	}

	return requests
}

func runBenchmark(requests []SyntheticRequest, baseURL, tenantID string, numWorkers int, verbose bool) *Metrics {
	metrics := &Metrics{}

	// Create work channel
	work := make(chan SyntheticRequest, 100)
	var wg sync.WaitGroup

	// Start workers
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 10 * time.Second}

			for sr := range work {
				start := time.Now()
				result, err := submitAndEvaluate(client, baseURL, tenantID, sr)
				elapsed := time.Since(start).Milliseconds()

				atomic.AddInt64(&metrics.ProcessingTimeMs, elapsed)
				atomic.AddInt64(&metrics.TotalProcessed, 1)

				if err != nil {
					atomic.AddInt64(&metrics.TotalErrors, 1)
					if verbose {
						fmt.Printf("ERROR: %s -> %v\n", sr.CustomerID, err)
					}
					continue
				}

				outcome := "REVIEW"
				switch {
				case result.CanAutoApprove:
					atomic.AddInt64(&metrics.AutoApproved, 1)
					outcome = "AUTO"
				case !result.Guardrail.Valid:
					atomic.AddInt64(&metrics.GuardrailBlocked, 1)
					outcome = "BLOCKED"
				default:
					atomic.AddInt64(&metrics.RoutedToReview, 1)
				}

				if result.Source == "fallback" {
					atomic.AddInt64(&metrics.FallbackScored, 1)
				} else {
					atomic.AddInt64(&metrics.AIScored, 1)
				}

				if verbose {
					fmt.Printf("%-8s | %-9s | Discount: %5.1f%% | Margin: %5.1f%% | Risk: %5.1f (%s)\n",
						outcome,
						sr.CustomerID,
						sr.DiscountPct,
						sr.MarginPct,
						result.RiskScore,
						result.Source,
					)
				}
			}
		}()
	}

	// Send work
	for _, sr := range requests {
		work <- sr
	}
	close(work)

	// Wait for completion
	wg.Wait()

	return metrics
}

// submitAndEvaluate creates one discount request and runs the pipeline on it.
func submitAndEvaluate(client *http.Client, baseURL, tenantID string, sr SyntheticRequest) (*EvaluationResponse, error) {
	margin := sr.MarginPct
	body := CreateRequestBody{
		CustomerID:    sr.CustomerID,
		SalespersonID: sr.SalespersonID,
		Items: []RequestItem{
			{
				ProductID:   "prod-bench",
				Quantity:    sr.Quantity,
				UnitPrice:   sr.UnitPrice,
				DiscountPct: sr.DiscountPct,
			},
		},
		RequestedDiscountPct: sr.DiscountPct,
		EstimatedMarginPct:   &margin,
		Justification:        "benchmark load",
	}

	created, err := postJSON[CreatedResponse](client, baseURL+"/requests", tenantID, body)
	if err != nil {
		return nil, fmt.Errorf("create: %w", err)
	}

	eval, err := postJSON[EvaluationResponse](client, baseURL+"/requests/"+created.ID+"/evaluate", tenantID, nil)
	if err != nil {
		return nil, fmt.Errorf("evaluate: %w", err)
	}

	return eval, nil
}

func postJSON[T any](client *http.Client, url, tenantID string, payload any) (*T, error) {
	var reader *bytes.Reader
	if payload != nil {
		body, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(body)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(http.MethodPost, url, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tenant-ID", tenantID)

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var result T
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	return &result, nil
}

func printResults(m *Metrics, duration time.Duration) {
	fmt.Println("\n╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                      BENCHMARK RESULTS                        ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")

	fmt.Printf("\n📊 RUN STATISTICS\n")
	fmt.Printf("   Total Processed:  %d\n", m.TotalProcessed)
	fmt.Printf("   Errors:           %d\n", m.TotalErrors)

	succeeded := m.TotalProcessed - m.TotalErrors

	fmt.Printf("\n📈 APPROVAL FUNNEL\n")
	if succeeded > 0 {
		fmt.Printf("   Auto-Approved:     %6d (%.2f%%)\n", m.AutoApproved, 100*float64(m.AutoApproved)/float64(succeeded))
		fmt.Printf("   Routed to Review:  %6d (%.2f%%)\n", m.RoutedToReview, 100*float64(m.RoutedToReview)/float64(succeeded))
		fmt.Printf("   Guardrail Blocked: %6d (%.2f%%)\n", m.GuardrailBlocked, 100*float64(m.GuardrailBlocked)/float64(succeeded))
	}

	fmt.Printf("\n🤖 SCORING SOURCE\n")
	if succeeded > 0 {
		fmt.Printf("   AI Scored:        %6d (%.2f%%)\n", m.AIScored, 100*float64(m.AIScored)/float64(succeeded))
		fmt.Printf("   Fallback Scored:  %6d (%.2f%%)\n", m.FallbackScored, 100*float64(m.FallbackScored)/float64(succeeded))
	}

	fmt.Printf("\n⏱️  PERFORMANCE\n")
	fmt.Printf("   Total Duration:   %v\n", duration.Round(time.Millisecond))
	if m.TotalProcessed > 0 {
		avgMs := float64(m.ProcessingTimeMs) / float64(m.TotalProcessed)
		rps := float64(m.TotalProcessed) / duration.Seconds()
		fmt.Printf("   Avg Latency:      %.2f ms (create + evaluate)\n", avgMs)
		fmt.Printf("   Throughput:       %.2f req/sec\n", rps)
	}

	// Interpretation
	fmt.Printf("\n💡 INTERPRETATION\n")
	if succeeded == 0 {
		fmt.Println("   ❌ No successful evaluations - check the server logs")
	} else {
		autoRate := float64(m.AutoApproved) / float64(succeeded)
		switch {
		case autoRate >= 0.5:
			fmt.Println("   ✅ High auto-approval rate - governance thresholds are permissive")
		case autoRate > 0:
			fmt.Println("   ⚠️  Partial auto-approval - most requests still need a human")
		default:
			fmt.Println("   ⚠️  Nothing auto-approved - default governance routes all to review")
			fmt.Println("      (run with -permissive to raise the thresholds)")
		}
	}

	fmt.Println()
}
