// Benchmark tool for load-testing Kestrel with LC document corpora.
//
// Usage:
//   go run cmd/benchmark/main.go -docs /path/to/documents.jsonl -url http://localhost:8080
//
// This tool:
//   1. Reads LC documents from a JSONL corpus (one document per line,
//      optionally labeled with an expected status)
//   2. Sends each document to Kestrel for validation
//   3. Compares Kestrel's status with the expected labels when present
//   4. Reports throughput, latency and the status distribution
package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// CorpusDocument is one line of the benchmark corpus. ExpectedStatus is
// optional; unlabeled documents still count toward throughput.
type CorpusDocument struct {
	Document       map[string]any `json:"document"`
	ExpectedStatus string         `json:"expectedStatus,omitempty"`
	BankCode       string         `json:"bankCode,omitempty"`
}

// ValidateRequest is the Kestrel API request format
type ValidateRequest struct {
	Document map[string]any `json:"document"`
	Tier     string         `json:"tier"`
	BankCode string         `json:"bankCode,omitempty"`
}

// ValidateResponse is the subset of the Kestrel response the benchmark reads
type ValidateResponse struct {
	ID          string  `json:"id"`
	Status      string  `json:"status"`
	Score       float64 `json:"score"`
	TotalRules  int     `json:"totalRules"`
	FailedRules int     `json:"failedRules"`
}

// Metrics tracks benchmark results
type Metrics struct {
	TotalProcessed int64
	TotalErrors    int64
	TotalLabeled   int64
	LabelMatches   int64

	Compliant    int64
	IssuesFound  int64
	NonCompliant int64

	mu        sync.Mutex
	latencies []time.Duration
}

func (m *Metrics) recordLatency(d time.Duration) {
	m.mu.Lock()
	m.latencies = append(m.latencies, d)
	m.mu.Unlock()
}

func main() {
	// Parse flags
	docsPath := flag.String("docs", "", "Path to JSONL document corpus")
	baseURL := flag.String("url", "http://localhost:8080", "Kestrel base URL")
	tenantID := flag.String("tenant", "benchmark-test", "Tenant ID for requests")
	tier := flag.String("tier", "pro", "Tier to validate with (free tiers get metered)")
	limit := flag.Int("limit", 10000, "Maximum documents to process (0 = all)")
	workers := flag.Int("workers", 10, "Number of concurrent workers")
	verbose := flag.Bool("verbose", false, "Print each document result")
	flag.Parse()

	if *docsPath == "" {
		fmt.Println("Usage: benchmark -docs /path/to/documents.jsonl [-url http://localhost:8080]")
		fmt.Println("\nFlags:")
		flag.PrintDefaults()
		os.Exit(1)
	}

	fmt.Println("╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║         KESTREL BENCHMARK - LC Document Validation            ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")
	fmt.Printf("\nCorpus:      %s\n", *docsPath)
	fmt.Printf("Kestrel URL: %s\n", *baseURL)
	fmt.Printf("Tenant ID:   %s\n", *tenantID)
	fmt.Printf("Tier:        %s\n", *tier)
	fmt.Printf("Workers:     %d\n", *workers)
	fmt.Printf("Limit:       %d\n", *limit)
	fmt.Println()

	// Check Kestrel is running
	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: Kestrel not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure Kestrel is running:")
		fmt.Println("  cd kestrel && go run cmd/kestrel/main.go")
		os.Exit(1)
	}
	fmt.Println("✓ Kestrel is healthy")

	// Read corpus
	fmt.Printf("\nReading documents from %s...\n", *docsPath)
	docs, err := readCorpus(*docsPath, *limit)
	if err != nil {
		fmt.Printf("ERROR: Failed to read corpus: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("✓ Loaded %d documents\n", len(docs))

	labeled := 0
	for _, d := range docs {
		if d.ExpectedStatus != "" {
			labeled++
		}
	}
	fmt.Printf("  - Labeled:   %d\n", labeled)
	fmt.Printf("  - Unlabeled: %d\n", len(docs)-labeled)

	// Run benchmark
	fmt.Printf("\nRunning benchmark with %d workers...\n", *workers)
	startTime := time.Now()
	metrics := runBenchmark(docs, *baseURL, *tenantID, *tier, *workers, *verbose)
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

func readCorpus(path string, limit int) ([]CorpusDocument, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var docs []CorpusDocument
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 1024*1024), 1024*1024)

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var doc CorpusDocument
		if err := json.Unmarshal(line, &doc); err != nil {
			continue // Skip malformed lines
		}

		// Allow bare documents without the wrapper
		if doc.Document == nil {
			var bare map[string]any
			if err := json.Unmarshal(line, &bare); err != nil || len(bare) == 0 {
				continue
			}
			doc.Document = bare
		}

		docs = append(docs, doc)
		if limit > 0 && len(docs) >= limit {
			break
		}
	}

	return docs, scanner.Err()
}

func runBenchmark(docs []CorpusDocument, baseURL, tenantID, tier string, numWorkers int, verbose bool) *Metrics {
	metrics := &Metrics{}

	work := make(chan CorpusDocument, 100)
	var wg sync.WaitGroup

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 10 * time.Second}

			for doc := range work {
				start := time.Now()
				result, err := validateDocument(client, baseURL, tenantID, tier, doc)
				elapsed := time.Since(start)

				metrics.recordLatency(elapsed)
				atomic.AddInt64(&metrics.TotalProcessed, 1)

				if err != nil {
					atomic.AddInt64(&metrics.TotalErrors, 1)
					if verbose {
						fmt.Printf("ERROR: %v\n", err)
					}
					continue
				}

				switch result.Status {
				case "compliant":
					atomic.AddInt64(&metrics.Compliant, 1)
				case "issues_found":
					atomic.AddInt64(&metrics.IssuesFound, 1)
				case "non_compliant":
					atomic.AddInt64(&metrics.NonCompliant, 1)
				}

				if doc.ExpectedStatus != "" {
					atomic.AddInt64(&metrics.TotalLabeled, 1)
					if result.Status == doc.ExpectedStatus {
						atomic.AddInt64(&metrics.LabelMatches, 1)
					}
				}

				if verbose {
					status := "✓"
					if doc.ExpectedStatus != "" && result.Status != doc.ExpectedStatus {
						status = "✗"
					}
					fmt.Printf("%s %-14s | Score: %.3f | Failed: %d/%d | %v\n",
						status,
						result.Status,
						result.Score,
						result.FailedRules,
						result.TotalRules,
						elapsed.Round(time.Millisecond),
					)
				}
			}
		}()
	}

	for _, doc := range docs {
		work <- doc
	}
	close(work)

	wg.Wait()

	return metrics
}

func validateDocument(client *http.Client, baseURL, tenantID, tier string, doc CorpusDocument) (*ValidateResponse, error) {
	req := ValidateRequest{
		Document: doc.Document,
		Tier:     tier,
		BankCode: doc.BankCode,
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequest(http.MethodPost, baseURL+"/validate", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Tenant-ID", tenantID)

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var result ValidateResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}

	return &result, nil
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(float64(len(sorted)-1) * p)
	return sorted[idx]
}

func printResults(m *Metrics, duration time.Duration) {
	fmt.Println("\n╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                      BENCHMARK RESULTS                        ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")

	fmt.Printf("\n📊 CORPUS STATISTICS\n")
	fmt.Printf("   Total Processed:  %d\n", m.TotalProcessed)
	fmt.Printf("   Errors:           %d\n", m.TotalErrors)

	fmt.Printf("\n📋 STATUS DISTRIBUTION\n")
	fmt.Printf("   compliant:        %d\n", m.Compliant)
	fmt.Printf("   issues_found:     %d\n", m.IssuesFound)
	fmt.Printf("   non_compliant:    %d\n", m.NonCompliant)

	if m.TotalLabeled > 0 {
		accuracy := float64(m.LabelMatches) / float64(m.TotalLabeled)
		fmt.Printf("\n🎯 LABEL AGREEMENT\n")
		fmt.Printf("   Labeled:          %d\n", m.TotalLabeled)
		fmt.Printf("   Matches:          %d (%.2f%%)\n", m.LabelMatches, accuracy*100)
	}

	fmt.Printf("\n⏱️  PERFORMANCE\n")
	fmt.Printf("   Total Duration:   %v\n", duration.Round(time.Millisecond))
	if m.TotalProcessed > 0 {
		sorted := make([]time.Duration, len(m.latencies))
		copy(sorted, m.latencies)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

		dps := float64(m.TotalProcessed) / duration.Seconds()
		fmt.Printf("   Throughput:       %.2f docs/sec\n", dps)
		fmt.Printf("   Latency p50:      %v\n", percentile(sorted, 0.50).Round(time.Millisecond))
		fmt.Printf("   Latency p95:      %v\n", percentile(sorted, 0.95).Round(time.Millisecond))
		fmt.Printf("   Latency p99:      %v\n", percentile(sorted, 0.99).Round(time.Millisecond))
	}

	fmt.Println()
}
