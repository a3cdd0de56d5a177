package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/ksred/klear-swap/internal/types"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	orderTypes = []types.OrderType{types.OrderTypeMarket, types.OrderTypeLimit, types.OrderTypeSniper}
	pairs      = [][2]string{{"SOL", "USDC"}, {"SOL", "BONK"}, {"USDC", "SOL"}, {"JUP", "USDC"}}
)

// init configures the logger for the simulation with pretty printing and timestamp
func init() {
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}
	log.Logger = zerolog.New(output).With().Timestamp().Logger()
}

// routeStats tracks latency statistics for one API route
type routeStats struct {
	mu         sync.Mutex
	name       string
	durations  []time.Duration
	totalCalls int
	failures   int
}

func (rs *routeStats) addDuration(d time.Duration) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.durations = append(rs.durations, d)
	rs.totalCalls++
}

func (rs *routeStats) addFailure() {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.totalCalls++
	rs.failures++
}

// calculate returns min, max, mean, median, p95 and p99 of the recorded durations
func (rs *routeStats) calculate() (min, max, mean, median, p95, p99 time.Duration) {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if len(rs.durations) == 0 {
		return 0, 0, 0, 0, 0, 0
	}

	sorted := append([]time.Duration(nil), rs.durations...)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i] < sorted[j]
	})

	min = sorted[0]
	max = sorted[len(sorted)-1]

	var sum time.Duration
	for _, d := range sorted {
		sum += d
	}
	mean = sum / time.Duration(len(sorted))
	median = sorted[len(sorted)/2]

	p95 = sorted[int(math.Ceil(float64(len(sorted))*0.95))-1]
	p99 = sorted[int(math.Ceil(float64(len(sorted))*0.99))-1]
	return
}

// orderTrace is what the client observed for one order
type orderTrace struct {
	orderID  string
	statuses []types.OrderStatus
	final    *types.Order
	elapsed  time.Duration
	err      error
}

// sequence renders the observed statuses as "a -> b -> c"
func (t *orderTrace) sequence() string {
	parts := make([]string, len(t.statuses))
	for i, s := range t.statuses {
		parts[i] = string(s)
	}
	return strings.Join(parts, " -> ")
}

// simulationClient submits orders over HTTP and follows them over WebSocket
type simulationClient struct {
	baseURL string
	wsURL   string
	client  *http.Client
	dialer  *websocket.Dialer
	timeout time.Duration
	stats   map[string]*routeStats
}

func newSimulationClient(baseURL string, timeout time.Duration) (*simulationClient, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid server address: %w", err)
	}
	wsScheme := "ws"
	if u.Scheme == "https" {
		wsScheme = "wss"
	}

	return &simulationClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		wsURL:   fmt.Sprintf("%s://%s", wsScheme, u.Host),
		client:  &http.Client{Timeout: 10 * time.Second},
		dialer:  &websocket.Dialer{HandshakeTimeout: 5 * time.Second},
		timeout: timeout,
		stats: map[string]*routeStats{
			"submit": {name: "Submit Order"},
			"stream": {name: "Order Lifecycle"},
			"get":    {name: "Get Order"},
		},
	}, nil
}

// apiEnvelope is the server's response wrapper
type apiEnvelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (sc *simulationClient) do(method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequest(method, sc.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := sc.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	var env apiEnvelope
	if err := json.Unmarshal(respBody, &env); err != nil {
		return fmt.Errorf("failed to decode response: %w, body: %s", err, string(respBody))
	}
	if !env.Success {
		if env.Error != nil {
			return fmt.Errorf("%s %s failed with status %d: %s", method, path, resp.StatusCode, env.Error.Message)
		}
		return fmt.Errorf("%s %s failed with status %d", method, path, resp.StatusCode)
	}
	return json.Unmarshal(env.Data, out)
}

// submitOrder posts a swap order and returns the submission response
func (sc *simulationClient) submitOrder(order map[string]any) (*types.SubmitOrderResponse, error) {
	start := time.Now()
	var result types.SubmitOrderResponse
	if err := sc.do(http.MethodPost, "/api/orders/execute", order, &result); err != nil {
		sc.stats["submit"].addFailure()
		return nil, err
	}
	sc.stats["submit"].addDuration(time.Since(start))
	return &result, nil
}

func (sc *simulationClient) getOrder(orderID string) (*types.Order, error) {
	start := time.Now()
	var order types.Order
	if err := sc.do(http.MethodGet, "/api/orders/"+orderID, nil, &order); err != nil {
		sc.stats["get"].addFailure()
		return nil, err
	}
	sc.stats["get"].addDuration(time.Since(start))
	return &order, nil
}

func (sc *simulationClient) queueMetrics() (*types.QueueMetrics, error) {
	var metrics types.QueueMetrics
	if err := sc.do(http.MethodGet, "/api/queue/metrics", nil, &metrics); err != nil {
		return nil, err
	}
	return &metrics, nil
}

// follow reads status updates until the server closes the stream after a
// terminal status, or the timeout passes
func (sc *simulationClient) follow(wsPath string, trace *orderTrace) error {
	conn, _, err := sc.dialer.Dial(sc.wsURL+wsPath, nil)
	if err != nil {
		return fmt.Errorf("failed to open status stream: %w", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(sc.timeout)
	conn.SetReadDeadline(deadline)

	for {
		var update types.StatusUpdate
		if err := conn.ReadJSON(&update); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			if len(trace.statuses) > 0 && trace.statuses[len(trace.statuses)-1].IsTerminal() {
				return nil
			}
			return err
		}
		trace.statuses = append(trace.statuses, update.Status)
	}
}

// runOrder submits one random order and traces it to completion
func (sc *simulationClient) runOrder(workerID int, amountScale float64) *orderTrace {
	pair := pairs[rand.Intn(len(pairs))]
	order := map[string]any{
		"type":     orderTypes[rand.Intn(len(orderTypes))],
		"tokenIn":  pair[0],
		"tokenOut": pair[1],
		"amountIn": math.Round((rand.Float64()*amountScale+0.1)*1000) / 1000,
		"slippage": 0.01 + rand.Float64()*0.04,
	}

	start := time.Now()
	resp, err := sc.submitOrder(order)
	if err != nil {
		log.Error().Err(err).Int("worker_id", workerID).Msg("Failed to submit order")
		return &orderTrace{err: err}
	}

	trace := &orderTrace{orderID: resp.OrderID}
	followStart := time.Now()
	if err := sc.follow(resp.WSPath, trace); err != nil {
		sc.stats["stream"].addFailure()
		log.Warn().Err(err).Str("order_id", resp.OrderID).Msg("Status stream ended early")
	} else {
		sc.stats["stream"].addDuration(time.Since(followStart))
	}
	trace.elapsed = time.Since(start)

	// the stream may have opened after the first updates were sent
	final, err := sc.getOrder(resp.OrderID)
	if err != nil {
		trace.err = err
		return trace
	}
	trace.final = final

	event := log.Info()
	if final.Status == types.StatusFailed {
		event = log.Warn()
	}
	event.
		Int("worker_id", workerID).
		Str("order_id", resp.OrderID).
		Str("status", string(final.Status)).
		Int("retry_count", final.RetryCount).
		Str("sequence", trace.sequence()).
		Dur("elapsed", trace.elapsed).
		Msg("Order finished")
	return trace
}

// printPerformanceStats outputs latency statistics for every route
func (sc *simulationClient) printPerformanceStats() {
	fmt.Println("\nAPI Performance Statistics")
	fmt.Println(strings.Repeat("-", 100))
	fmt.Printf("%-20s %10s %10s %10s %10s %10s %10s %10s %10s\n",
		"Route", "Calls", "Errors", "Min", "Max", "Mean", "Median", "P95", "P99")
	fmt.Println(strings.Repeat("-", 100))

	for _, key := range []string{"submit", "stream", "get"} {
		stats := sc.stats[key]
		min, max, mean, median, p95, p99 := stats.calculate()
		fmt.Printf("%-20s %10d %10d %10s %10s %10s %10s %10s %10s\n",
			stats.name,
			stats.totalCalls,
			stats.failures,
			min.Round(time.Millisecond),
			max.Round(time.Millisecond),
			mean.Round(time.Millisecond),
			median.Round(time.Millisecond),
			p95.Round(time.Millisecond),
			p99.Round(time.Millisecond))
	}
	fmt.Println(strings.Repeat("-", 100))
}

// summary aggregates the traces of a run
type summary struct {
	total     int
	confirmed int
	failed    int
	errored   int
	retried   int
	sources   map[string]int
	sequences map[string]int
}

func summarize(traces []*orderTrace) summary {
	s := summary{
		sources:   make(map[string]int),
		sequences: make(map[string]int),
	}
	for _, t := range traces {
		s.total++
		if t.final == nil {
			s.errored++
			continue
		}
		switch t.final.Status {
		case types.StatusConfirmed:
			s.confirmed++
			if t.final.Source != nil {
				s.sources[*t.final.Source]++
			}
		case types.StatusFailed:
			s.failed++
		}
		if t.final.RetryCount > 1 {
			s.retried++
		}
		if len(t.statuses) > 0 {
			s.sequences[t.sequence()]++
		}
	}
	return s
}

func printBars(title string, counts map[string]int, total int) {
	fmt.Println("\n" + title)
	fmt.Println(strings.Repeat("-", len(title)))

	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return counts[keys[i]] > counts[keys[j]] })

	for _, k := range keys {
		barLength := 0
		if total > 0 {
			barLength = int(float64(counts[k]) / float64(total) * 20)
		}
		fmt.Printf("%-10s %s (%d)\n", k, strings.Repeat("#", barLength), counts[k])
	}
}

// main drives a batch of concurrent swap orders against a running server
func main() {
	addr := flag.String("addr", "http://localhost:3000", "server base URL")
	numOrders := flag.Int("orders", 20, "number of orders to submit")
	numWorkers := flag.Int("workers", 5, "concurrent clients")
	timeout := flag.Duration("timeout", 60*time.Second, "per-order wait for a terminal status")
	amountScale := flag.Float64("amount", 10, "upper bound of the random amountIn")
	flag.Parse()

	simClient, err := newSimulationClient(*addr, *timeout)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize simulation client")
	}

	log.Info().
		Int("orders", *numOrders).
		Int("workers", *numWorkers).
		Str("addr", *addr).
		Msg("Starting simulation")
	startTime := time.Now()

	jobs := make(chan int)
	results := make(chan *orderTrace, *numOrders)
	var wg sync.WaitGroup

	for i := 0; i < *numWorkers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for range jobs {
				results <- simClient.runOrder(workerID, *amountScale)
				// spread submissions a little
				time.Sleep(time.Duration(rand.Intn(200)) * time.Millisecond)
			}
		}(i)
	}

	for i := 0; i < *numOrders; i++ {
		jobs <- i
	}
	close(jobs)
	wg.Wait()
	close(results)

	var traces []*orderTrace
	for t := range results {
		traces = append(traces, t)
	}
	s := summarize(traces)
	duration := time.Since(startTime)

	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SWAP SIMULATION SUMMARY")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf(`
Order Statistics
----------------
Total Orders:     %d
Confirmed:        %d
Failed:           %d
Client Errors:    %d
Needed Retries:   %d
Duration:         %v
`, s.total, s.confirmed, s.failed, s.errored, s.retried, duration.Round(time.Millisecond))

	printBars("Venue Distribution", s.sources, s.confirmed)
	printBars("Observed Status Sequences", s.sequences, s.total)

	if metrics, err := simClient.queueMetrics(); err == nil {
		fmt.Printf("\nQueue: waiting=%d delayed=%d active=%d completed=%d failed=%d total=%d\n",
			metrics.Waiting, metrics.Delayed, metrics.Active, metrics.Succeeded, metrics.Failed, metrics.Total)
	}
	fmt.Println("\n" + strings.Repeat("=", 80))

	successRate := 0.0
	if s.total > 0 {
		successRate = float64(s.confirmed) / float64(s.total) * 100
	}
	log.Info().
		Float64("success_rate", successRate).
		Int("total_orders", s.total).
		Int("confirmed", s.confirmed).
		Dur("duration", duration).
		Msg("Simulation completed")

	simClient.printPerformanceStats()
}
