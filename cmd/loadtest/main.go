// Command loadtest гоняет параллельные сценарии продаж против одного товара
// и проверяет, что остаток сходится с числом подтверждённых продаж и возвратов.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/wholesale/internal/app"
	"github.com/vladislavdragonenkov/wholesale/internal/domain"
	"github.com/vladislavdragonenkov/wholesale/internal/service/order"
	"github.com/vladislavdragonenkov/wholesale/internal/service/returns"
)

const (
	codeOK           = "ok"
	loadWarehouseID  = "wh-uzs"
	loadAgentID      = "loadtest"
	defaultUnitPrice = int64(1000)
)

type loadMode string

const (
	modeCreate              loadMode = "create"
	modeCreateConfirm       loadMode = "create-confirm"
	modeCreateConfirmReturn loadMode = "create-confirm-return"
)

type config struct {
	storage     string
	dsn         string
	total       int
	totalSet    bool
	duration    time.Duration
	concurrency int
	timeout     time.Duration
	mode        loadMode
	returnRate  int
	stock       int64
	qty         int64
	outputPath  string
}

type latencySummary struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
	Avg float64 `json:"avg"`
	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
}

type methodReport struct {
	Calls     int64            `json:"calls"`
	Success   int64            `json:"success"`
	Failed    int64            `json:"failed"`
	ErrorRate float64          `json:"error_rate"`
	Codes     map[string]int64 `json:"codes"`
	LatencyMs latencySummary   `json:"latency_ms"`
}

// stockReport сверяет остаток с журналом сценариев.
type stockReport struct {
	Initial    int64 `json:"initial"`
	Final      int64 `json:"final"`
	Sold       int64 `json:"sold"`
	Returned   int64 `json:"returned"`
	Consistent bool  `json:"consistent"`
}

type report struct {
	StartedAt         time.Time               `json:"started_at"`
	DurationSeconds   float64                 `json:"duration_seconds"`
	TotalScenarios    int64                   `json:"total_scenarios"`
	SuccessScenarios  int64                   `json:"success_scenarios"`
	RejectedScenarios int64                   `json:"rejected_scenarios"`
	FailedScenarios   int64                   `json:"failed_scenarios"`
	ErrorRate         float64                 `json:"error_rate"`
	RPS               float64                 `json:"rps"`
	ScenarioLatencyMs latencySummary          `json:"scenario_latency_ms"`
	Methods           map[string]methodReport `json:"methods"`
	Stock             stockReport             `json:"stock"`
}

type methodStats struct {
	calls     int64
	success   int64
	failed    int64
	codes     map[string]int64
	latencies []float64
}

type collector struct {
	mu      sync.Mutex
	methods map[string]*methodStats
}

func newCollector() *collector {
	return &collector{
		methods: make(map[string]*methodStats),
	}
}

func (c *collector) record(method string, latency time.Duration, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats, ok := c.methods[method]
	if !ok {
		stats = &methodStats{
			codes: make(map[string]int64),
		}
		c.methods[method] = stats
	}

	stats.calls++
	if err == nil {
		stats.success++
	} else {
		stats.failed++
	}
	stats.codes[errorCode(err)]++
	stats.latencies = append(stats.latencies, float64(latency.Microseconds())/1000.0)
}

func (c *collector) buildReport(startedAt time.Time, duration time.Duration) report {
	c.mu.Lock()
	defer c.mu.Unlock()

	result := report{
		StartedAt:       startedAt.UTC(),
		DurationSeconds: duration.Seconds(),
		Methods:         make(map[string]methodReport, len(c.methods)),
	}

	if scenarioStats := c.methods["scenario"]; scenarioStats != nil {
		result.TotalScenarios = scenarioStats.calls
		result.SuccessScenarios = scenarioStats.success
		result.RejectedScenarios = scenarioStats.codes[string(domain.KindInsufficientStock)]
		result.FailedScenarios = scenarioStats.failed - result.RejectedScenarios
		result.ErrorRate = ratio(result.FailedScenarios, scenarioStats.calls)
		result.ScenarioLatencyMs = buildLatencySummary(scenarioStats.latencies)
	}
	if duration > 0 {
		result.RPS = float64(result.TotalScenarios) / duration.Seconds()
	}

	for name, stats := range c.methods {
		codesCopy := make(map[string]int64, len(stats.codes))
		for code, count := range stats.codes {
			codesCopy[code] = count
		}
		result.Methods[name] = methodReport{
			Calls:     stats.calls,
			Success:   stats.success,
			Failed:    stats.failed,
			ErrorRate: ratio(stats.failed, stats.calls),
			Codes:     codesCopy,
			LatencyMs: buildLatencySummary(stats.latencies),
		}
	}

	return result
}

func parseConfig(fs *flag.FlagSet, args []string) (config, error) {
	var (
		cfg           config
		modeValue     string
		timeoutValue  string
		durationValue string
	)

	fs.StringVar(&cfg.storage, "storage", app.StorageDriverMemory, "storage driver: memory | postgres")
	fs.StringVar(&cfg.dsn, "dsn", os.Getenv("WHS_POSTGRES_DSN"), "PostgreSQL DSN for -storage=postgres")
	fs.IntVar(&cfg.total, "total", 400, "total scenarios to execute in count mode; in duration mode only used when explicitly set")
	fs.StringVar(&durationValue, "duration", "0s", "optional time-based run duration (e.g. 10m, 15m)")
	fs.IntVar(&cfg.concurrency, "concurrency", 40, "number of concurrent workers")
	fs.StringVar(&timeoutValue, "timeout", "5s", "per-operation timeout")
	fs.StringVar(&modeValue, "mode", string(modeCreateConfirm), "load mode: create | create-confirm | create-confirm-return")
	fs.IntVar(&cfg.returnRate, "return-rate", 100, "share of confirmed sales returned in create-confirm-return mode (0..100)")
	fs.Int64Var(&cfg.stock, "stock", 100, "initial stock of the contended product")
	fs.Int64Var(&cfg.qty, "qty", 1, "qty per order")
	fs.StringVar(&cfg.outputPath, "output", "", "optional JSON report output file path")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}

	timeout, err := time.ParseDuration(strings.TrimSpace(timeoutValue))
	if err != nil {
		return cfg, fmt.Errorf("parse timeout: %w", err)
	}
	cfg.timeout = timeout

	duration, err := time.ParseDuration(strings.TrimSpace(durationValue))
	if err != nil {
		return cfg, fmt.Errorf("parse duration: %w", err)
	}
	cfg.duration = duration

	fs.Visit(func(f *flag.Flag) {
		if f.Name == "total" {
			cfg.totalSet = true
		}
	})

	mode, err := parseMode(modeValue)
	if err != nil {
		return cfg, err
	}
	cfg.mode = mode

	if cfg.duration < 0 {
		return cfg, errors.New("duration must be >= 0")
	}
	if cfg.duration == 0 && cfg.total <= 0 {
		return cfg, errors.New("total must be > 0 when duration is not set")
	}
	if cfg.duration > 0 && cfg.totalSet && cfg.total <= 0 {
		return cfg, errors.New("total must be > 0 when explicitly set with duration")
	}
	if cfg.concurrency <= 0 {
		return cfg, errors.New("concurrency must be > 0")
	}
	if cfg.timeout <= 0 {
		return cfg, errors.New("timeout must be > 0")
	}
	if cfg.stock < 0 {
		return cfg, errors.New("stock must be >= 0")
	}
	if cfg.qty <= 0 {
		return cfg, errors.New("qty must be > 0")
	}
	if cfg.returnRate < 0 || cfg.returnRate > 100 {
		return cfg, errors.New("return-rate must be between 0 and 100")
	}
	if cfg.storage == app.StorageDriverPostgres && strings.TrimSpace(cfg.dsn) == "" {
		return cfg, errors.New("dsn is required for postgres storage")
	}

	return cfg, nil
}

func parseMode(value string) (loadMode, error) {
	switch loadMode(strings.TrimSpace(value)) {
	case modeCreate:
		return modeCreate, nil
	case modeCreateConfirm:
		return modeCreateConfirm, nil
	case modeCreateConfirmReturn:
		return modeCreateConfirmReturn, nil
	default:
		return "", fmt.Errorf("unsupported mode: %s", value)
	}
}

func main() {
	log.SetLevel(log.WarnLevel)

	cfg, err := parseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	result, err := run(context.Background(), cfg)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "load test failed: %v\n", err)
		os.Exit(1)
	}

	printReport(os.Stdout, result, cfg)
	if cfg.outputPath != "" {
		if err := writeJSONReport(cfg.outputPath, result); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "failed to write report: %v\n", err)
			os.Exit(1)
		}
	}

	if result.FailedScenarios > 0 || !result.Stock.Consistent {
		os.Exit(1)
	}
}

// fixture — товар и клиент, созданные под один прогон.
type fixture struct {
	productID  string
	customerID string
}

// ledger считает подтверждённые продажи и возвраты, чтобы сверить остаток.
type ledger struct {
	sold     atomic.Int64
	returned atomic.Int64
}

func run(ctx context.Context, cfg config) (report, error) {
	appCfg := app.DefaultConfig()
	appCfg.StorageDriver = cfg.storage
	appCfg.PostgresDSN = cfg.dsn

	a, err := app.New(ctx, appCfg, log.WithField("component", "loadtest"))
	if err != nil {
		return report{}, err
	}
	defer func() { _ = a.Close() }()

	startedAt := time.Now()
	runID := fmt.Sprintf("%d-%d", startedAt.UnixNano(), os.Getpid())
	fx, err := seed(ctx, a.Store(), runID, cfg.stock)
	if err != nil {
		return report{}, fmt.Errorf("seed: %w", err)
	}

	col := newCollector()
	var (
		book ledger
		wg   sync.WaitGroup
	)
	jobs := make(chan int, cfg.concurrency*2)
	services := a.Services()
	for workerID := 0; workerID < cfg.concurrency; workerID++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for id := range jobs {
				_ = runScenario(ctx, services, cfg, fx, id, col, &book)
			}
		}()
	}

	dispatchJobs(jobs, cfg)
	wg.Wait()

	result := col.buildReport(startedAt, time.Since(startedAt))
	final, err := productQty(ctx, a.Store(), fx.productID)
	if err != nil {
		return report{}, fmt.Errorf("read final stock: %w", err)
	}
	result.Stock = stockReport{
		Initial:  cfg.stock,
		Final:    final,
		Sold:     book.sold.Load(),
		Returned: book.returned.Load(),
	}
	result.Stock.Consistent = final >= 0 && final == cfg.stock-result.Stock.Sold+result.Stock.Returned
	return result, nil
}

func seed(ctx context.Context, uow domain.UnitOfWork, runID string, stock int64) (fixture, error) {
	fx := fixture{productID: "load-p-" + runID, customerID: "load-c-" + runID}
	err := uow.Do(ctx, func(tx domain.Tx) error {
		if err := tx.Products().Create(ctx, domain.Product{
			ID:        fx.productID,
			Name:      "Load product " + runID,
			Unit:      "pcs",
			Qty:       stock,
			SellPrice: decimal.NewFromInt(defaultUnitPrice),
			Currency:  domain.CurrencyUZS,
			IsActive:  true,
		}); err != nil {
			return err
		}
		return tx.Counterparties().Create(ctx, domain.Counterparty{
			ID:   fx.customerID,
			Kind: domain.CounterpartyCustomer,
			Name: "Load customer " + runID,
		})
	})
	return fx, err
}

func productQty(ctx context.Context, uow domain.UnitOfWork, productID string) (int64, error) {
	var qty int64
	err := uow.Do(ctx, func(tx domain.Tx) error {
		p, err := tx.Products().Get(ctx, productID)
		qty = p.Qty
		return err
	})
	return qty, err
}

func dispatchJobs(jobs chan<- int, cfg config) {
	defer close(jobs)

	if cfg.duration <= 0 {
		for i := 0; i < cfg.total; i++ {
			jobs <- i
		}
		return
	}

	timer := time.NewTimer(cfg.duration)
	defer timer.Stop()

	for i := 0; ; i++ {
		if cfg.totalSet && i >= cfg.total {
			return
		}

		select {
		case <-timer.C:
			return
		case jobs <- i:
		}
	}
}

func runScenario(ctx context.Context, svc app.Services, cfg config, fx fixture, index int, col *collector, book *ledger) (err error) {
	scenarioStart := time.Now()
	defer func() {
		col.record("scenario", time.Since(scenarioStart), err)
	}()

	var created domain.Order
	err = timed(ctx, cfg.timeout, col, "CreateOrder", func(ctx context.Context) error {
		var callErr error
		created, callErr = svc.Orders.CreateOrder(ctx, order.CreateOrderRequest{
			CustomerID: fx.customerID,
			AgentID:    loadAgentID,
			Items:      []order.Line{{ProductID: fx.productID, Qty: cfg.qty}},
		})
		return callErr
	})
	if err != nil || cfg.mode == modeCreate {
		return err
	}

	var sale domain.Sale
	err = timed(ctx, cfg.timeout, col, "ConfirmOrder", func(ctx context.Context) error {
		var callErr error
		sale, callErr = svc.Confirmation.ConfirmOrder(ctx, created.ID, loadAgentID)
		return callErr
	})
	if err != nil {
		return err
	}
	book.sold.Add(cfg.qty)

	if cfg.mode != modeCreateConfirmReturn || !shouldReturn(index, cfg.returnRate) {
		return nil
	}

	err = timed(ctx, cfg.timeout, col, "CreateReturn", func(ctx context.Context) error {
		_, callErr := svc.Returns.CreateReturn(ctx, returns.CreateReturnRequest{
			SaleID:       sale.ID,
			WarehouseID:  loadWarehouseID,
			Items:        []returns.ReturnLine{{ProductID: fx.productID, Qty: cfg.qty}},
			RefundType:   domain.RefundNoRefund,
			RefundAmount: decimal.Zero,
			Actor:        loadAgentID,
		})
		return callErr
	})
	if err != nil {
		return err
	}
	book.returned.Add(cfg.qty)
	return nil
}

func timed(ctx context.Context, timeout time.Duration, col *collector, method string, call func(context.Context) error) error {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := call(ctx)
	col.record(method, time.Since(start), err)
	return err
}

func errorCode(err error) string {
	if err == nil {
		return codeOK
	}
	return string(domain.KindOf(err))
}

func shouldReturn(index, returnRate int) bool {
	if returnRate <= 0 {
		return false
	}
	if returnRate >= 100 {
		return true
	}
	return index%100 < returnRate
}

func writeJSONReport(path string, result report) error {
	cleanPath := filepath.Clean(path)
	if cleanPath == "." || cleanPath == string(filepath.Separator) {
		return errors.New("output path must point to a file")
	}
	if cleanPath == ".." || strings.HasPrefix(cleanPath, ".."+string(filepath.Separator)) {
		return fmt.Errorf("output path must be inside current directory: %s", path)
	}

	// #nosec G304 -- path is an explicit CLI output parameter for local load-test reports.
	file, err := os.Create(cleanPath)
	if err != nil {
		return err
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	return encoder.Encode(result)
}

func printReport(w io.Writer, result report, cfg config) {
	_, _ = fmt.Fprintln(w, "Load test summary")
	_, _ = fmt.Fprintf(w, "mode=%s storage=%s run=%s total=%d success=%d rejected=%d failed=%d error_rate=%.4f\n",
		cfg.mode,
		cfg.storage,
		runTarget(cfg),
		result.TotalScenarios,
		result.SuccessScenarios,
		result.RejectedScenarios,
		result.FailedScenarios,
		result.ErrorRate,
	)
	_, _ = fmt.Fprintf(w, "duration=%.2fs rps=%.2f\n", result.DurationSeconds, result.RPS)
	_, _ = fmt.Fprintf(w, "scenario latency ms: min=%.2f avg=%.2f p50=%.2f p95=%.2f p99=%.2f max=%.2f\n",
		result.ScenarioLatencyMs.Min,
		result.ScenarioLatencyMs.Avg,
		result.ScenarioLatencyMs.P50,
		result.ScenarioLatencyMs.P95,
		result.ScenarioLatencyMs.P99,
		result.ScenarioLatencyMs.Max,
	)
	_, _ = fmt.Fprintf(w, "stock: initial=%d sold=%d returned=%d final=%d consistent=%t\n",
		result.Stock.Initial,
		result.Stock.Sold,
		result.Stock.Returned,
		result.Stock.Final,
		result.Stock.Consistent,
	)

	methodNames := make([]string, 0, len(result.Methods))
	for name := range result.Methods {
		if name == "scenario" {
			continue
		}
		methodNames = append(methodNames, name)
	}
	sort.Strings(methodNames)
	for _, name := range methodNames {
		stats := result.Methods[name]
		_, _ = fmt.Fprintf(w,
			"%s: calls=%d success=%d failed=%d error_rate=%.4f p95=%.2fms\n",
			name,
			stats.Calls,
			stats.Success,
			stats.Failed,
			stats.ErrorRate,
			stats.LatencyMs.P95,
		)
	}
}

func runTarget(cfg config) string {
	if cfg.duration <= 0 {
		return fmt.Sprintf("count:%d", cfg.total)
	}
	if cfg.totalSet {
		return fmt.Sprintf("duration:%s,max-total:%d", cfg.duration, cfg.total)
	}
	return fmt.Sprintf("duration:%s", cfg.duration)
}

func buildLatencySummary(values []float64) latencySummary {
	if len(values) == 0 {
		return latencySummary{}
	}

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	var sum float64
	for _, value := range sorted {
		sum += value
	}

	return latencySummary{
		Min: sorted[0],
		Max: sorted[len(sorted)-1],
		Avg: sum / float64(len(sorted)),
		P50: percentile(sorted, 50),
		P95: percentile(sorted, 95),
		P99: percentile(sorted, 99),
	}
}

func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if len(sorted) == 1 {
		return sorted[0]
	}

	rank := (p / 100.0) * float64(len(sorted)-1)
	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))
	if lower == upper {
		return sorted[lower]
	}

	weight := rank - float64(lower)
	return sorted[lower] + (sorted[upper]-sorted[lower])*weight
}

func ratio(failed, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return float64(failed) / float64(total)
}
