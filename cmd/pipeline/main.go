// Pipeline driver for exercising a running LoanDesk server end to end.
//
// Usage:
//   go run cmd/pipeline/main.go -url http://localhost:8080 -apps 200 -workers 8
//
// This tool:
//   1. Logs in as one user per review role
//   2. Opens and completes loan applications as the credit officer
//   3. Walks every application through assessment, compliance,
//      first review and both approvals
//   4. Reports outcomes and per-action latency percentiles
package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opensource-finance/loandesk/internal/domain"
)

// Step is one review action taken by a named user.
type Step struct {
	User   string
	Action domain.Action
}

// Metrics tracks pipeline outcomes.
type Metrics struct {
	Created   int64
	Approved  int64
	Rejected  int64
	Conflicts int64
	Errors    int64

	mu        sync.Mutex
	latencies map[string][]time.Duration
}

func (m *Metrics) observe(label string, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.latencies == nil {
		m.latencies = make(map[string][]time.Duration)
	}
	m.latencies[label] = append(m.latencies[label], d)
}

// client is a session-holding HTTP client for one user.
type client struct {
	http    *http.Client
	baseURL string
	token   string
}

// statusError carries a non-2xx response.
type statusError struct {
	Code int
	Body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("status %d: %s", e.Code, e.Body)
}

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "LoanDesk API URL")
	apps := flag.Int("apps", 50, "Number of applications to run through the pipeline")
	workers := flag.Int("workers", 4, "Concurrent workers")
	officer := flag.String("officer", "Ama", "Credit officer user")
	amlro := flag.String("amlro", "Kwame", "AMLRO user")
	head := flag.String("head", "Efua", "Head of credit user")
	branch := flag.String("branch", "Yaw", "Branch manager user")
	approver := flag.String("approver", "Abena", "Final approver user")
	verbose := flag.Bool("v", false, "Verbose output")
	flag.Parse()

	fmt.Println("╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║              LOANDESK REVIEW PIPELINE DRIVER                  ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")
	fmt.Println()

	fmt.Printf("Checking LoanDesk at %s...\n", *baseURL)
	if err := checkHealth(*baseURL); err != nil {
		fmt.Fprintf(os.Stderr, "LoanDesk not reachable: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("LoanDesk is healthy")

	sessions := make(map[string]*client)
	for _, name := range []string{*officer, *amlro, *head, *branch, *approver} {
		if _, ok := sessions[name]; ok {
			continue
		}
		c, err := login(*baseURL, name)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Login as %s failed: %v\n", name, err)
			os.Exit(1)
		}
		sessions[name] = c
	}
	fmt.Printf("Logged in %d reviewers\n", len(sessions))

	steps := []Step{
		{User: *officer, Action: domain.ActionSubmit},
		{User: *amlro, Action: domain.ActionSubmit},
		{User: *head, Action: domain.ActionSubmit},
		{User: *branch, Action: domain.ActionApprove},
		{User: *approver, Action: domain.ActionApprove},
	}

	fmt.Printf("\nRunning %d applications with %d workers...\n", *apps, *workers)
	startTime := time.Now()
	metrics := runPipeline(sessions, *officer, steps, *apps, *workers, *verbose)
	duration := time.Since(startTime)

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

func login(baseURL, name string) (*client, error) {
	c := &client{
		http:    &http.Client{Timeout: 10 * time.Second},
		baseURL: baseURL,
	}
	var resp struct {
		Token string `json:"token"`
	}
	if err := c.do(http.MethodPost, "/login", map[string]string{"name": name}, &resp); err != nil {
		return nil, err
	}
	c.token = resp.Token
	return c, nil
}

func (c *client) do(method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &statusError{Code: resp.StatusCode, Body: string(bytes.TrimSpace(msg))}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// sampleForm returns a complete applicant form. The n-th form varies the
// amounts so budget metrics differ across applications.
func sampleForm(n int) domain.ApplicationForm {
	income := 800 + float64(n%10)*100
	return domain.ApplicationForm{
		ApplicantName: fmt.Sprintf("Pipeline Applicant %d", n),
		Amount:        1000 + float64(n%20)*250,
		Purpose:       "working capital",
		Duration:      6 + n%18,
		InterestRate:  24,
		PersonalBudget: []domain.BudgetItem{
			{Type: domain.BudgetIncome, Description: "salary", Amount: income},
			{Type: domain.BudgetExpense, Description: "rent", Amount: income * 0.3},
			{Type: domain.BudgetRepayment, Description: "existing loan", Amount: income * 0.2},
		},
		MonthlyTurnover: []domain.TurnoverMonth{
			{Month: "Jan", CreditTurnover: income, DebitTurnover: income * 0.9, MaxBalance: income, MinBalance: 50},
		},
	}
}

func runPipeline(sessions map[string]*client, officer string, steps []Step, apps, numWorkers int, verbose bool) *Metrics {
	metrics := &Metrics{}

	work := make(chan int, 100)
	var wg sync.WaitGroup

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for n := range work {
				appNumber, err := openApplication(sessions[officer], n, metrics)
				if err != nil {
					atomic.AddInt64(&metrics.Errors, 1)
					if verbose {
						fmt.Printf("ERROR: application %d -> %v\n", n, err)
					}
					continue
				}
				atomic.AddInt64(&metrics.Created, 1)

				final, err := walk(sessions, appNumber, steps, metrics)
				if err != nil {
					var se *statusError
					switch {
					case errors.As(err, &se) && se.Code == http.StatusConflict:
						atomic.AddInt64(&metrics.Conflicts, 1)
					case se != nil && (se.Code == http.StatusForbidden || se.Code == http.StatusBadRequest):
						atomic.AddInt64(&metrics.Rejected, 1)
					default:
						atomic.AddInt64(&metrics.Errors, 1)
					}
					if verbose {
						fmt.Printf("✗ %s -> %v\n", appNumber, err)
					}
					continue
				}

				if final == domain.StatusApproved {
					atomic.AddInt64(&metrics.Approved, 1)
				}
				if verbose {
					fmt.Printf("✓ %s -> %s\n", appNumber, final)
				}
			}
		}()
	}

	for n := 1; n <= apps; n++ {
		work <- n
	}
	close(work)

	wg.Wait()

	return metrics
}

func openApplication(c *client, n int, m *Metrics) (string, error) {
	var app domain.Application

	start := time.Now()
	if err := c.do(http.MethodPost, "/applications", nil, &app); err != nil {
		return "", fmt.Errorf("create: %w", err)
	}
	m.observe("CREATE", time.Since(start))

	start = time.Now()
	if err := c.do(http.MethodPut, "/applications/"+app.AppNumber, sampleForm(n), &app); err != nil {
		return "", fmt.Errorf("save: %w", err)
	}
	m.observe("SAVE", time.Since(start))

	return app.AppNumber, nil
}

func walk(sessions map[string]*client, appNumber string, steps []Step, m *Metrics) (domain.Status, error) {
	var status domain.Status
	for _, step := range steps {
		var resp struct {
			Application domain.Application `json:"application"`
		}
		body := map[string]any{
			"action":  step.Action,
			"comment": fmt.Sprintf("%s by %s", step.Action, step.User),
		}

		start := time.Now()
		if err := sessions[step.User].do(http.MethodPost, "/applications/"+appNumber+"/actions", body, &resp); err != nil {
			return status, fmt.Errorf("%s %s: %w", step.User, step.Action, err)
		}
		m.observe(string(step.Action), time.Since(start))
		status = resp.Application.Status
	}
	return status, nil
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
	fmt.Println("║                       PIPELINE RESULTS                        ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")

	fmt.Printf("\n📊 OUTCOMES\n")
	fmt.Printf("   Created:    %d\n", m.Created)
	fmt.Printf("   Approved:   %d\n", m.Approved)
	fmt.Printf("   Rejected:   %d\n", m.Rejected)
	fmt.Printf("   Conflicts:  %d\n", m.Conflicts)
	fmt.Printf("   Errors:     %d\n", m.Errors)

	fmt.Printf("\n⏱  LATENCY\n")
	labels := make([]string, 0, len(m.latencies))
	for label := range m.latencies {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	for _, label := range labels {
		samples := m.latencies[label]
		sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
		fmt.Printf("   %-8s n=%-6d p50=%-10s p95=%-10s p99=%s\n",
			label,
			len(samples),
			percentile(samples, 0.50).Round(time.Microsecond),
			percentile(samples, 0.95).Round(time.Microsecond),
			percentile(samples, 0.99).Round(time.Microsecond),
		)
	}

	fmt.Printf("\n⚡ THROUGHPUT\n")
	fmt.Printf("   Duration:     %v\n", duration.Round(time.Millisecond))
	if duration > 0 {
		fmt.Printf("   Applications: %.1f/sec\n", float64(m.Approved)/duration.Seconds())
	}
	fmt.Println()
}
