package main

import (
	"fmt"
	"io"
	"maps"
	"math"
	"slices"
	"sync"
	"time"

	"google.golang.org/grpc/codes"
)

// scenarioName задаёт псевдо-метод, под которым учитывается сценарий целиком.
const scenarioName = "scenario"

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

type report struct {
	StartedAt         time.Time               `json:"started_at"`
	DurationSeconds   float64                 `json:"duration_seconds"`
	TotalScenarios    int64                   `json:"total_scenarios"`
	SuccessScenarios  int64                   `json:"success_scenarios"`
	FailedScenarios   int64                   `json:"failed_scenarios"`
	ErrorRate         float64                 `json:"error_rate"`
	RPS               float64                 `json:"rps"`
	ScenarioLatencyMs latencySummary          `json:"scenario_latency_ms"`
	Methods           map[string]methodReport `json:"methods"`
	// DuplicateInvoiceNumbers содержит номера счетов, выданные сервисом больше одного раза.
	DuplicateInvoiceNumbers []string `json:"duplicate_invoice_numbers,omitempty"`
}

// series хранит все наблюдения по одному методу.
type series struct {
	samples []time.Duration
	codes   map[codes.Code]int64
}

func (s *series) failed() int64 {
	var n int64
	for code, count := range s.codes {
		if code != codes.OK {
			n += count
		}
	}
	return n
}

func (s *series) report() methodReport {
	calls := int64(len(s.samples))
	failed := s.failed()
	byName := make(map[string]int64, len(s.codes))
	for code, count := range s.codes {
		byName[code.String()] = count
	}
	return methodReport{
		Calls:     calls,
		Success:   calls - failed,
		Failed:    failed,
		ErrorRate: ratio(failed, calls),
		Codes:     byName,
		LatencyMs: summarizeLatency(s.samples),
	}
}

// collector собирает задержки и коды ответов со всех воркеров.
type collector struct {
	mu       sync.Mutex
	series   map[string]*series
	invoices map[string]int
}

func newCollector() *collector {
	return &collector{series: map[string]*series{}, invoices: map[string]int{}}
}

func (c *collector) record(method string, latency time.Duration, code codes.Code) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.series[method]
	if s == nil {
		s = &series{codes: map[codes.Code]int64{}}
		c.series[method] = s
	}
	s.samples = append(s.samples, latency)
	s.codes[code]++
}

// recordInvoice запоминает выданный номер счёта для проверки уникальности.
func (c *collector) recordInvoice(number string) {
	if number == "" {
		return
	}
	c.mu.Lock()
	c.invoices[number]++
	c.mu.Unlock()
}

func (c *collector) snapshot(method string) (methodReport, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.series[method]
	if !ok {
		return methodReport{}, false
	}
	return s.report(), true
}

func (c *collector) buildReport(startedAt time.Time, elapsed time.Duration) report {
	c.mu.Lock()
	defer c.mu.Unlock()

	r := report{
		StartedAt:       startedAt.UTC(),
		DurationSeconds: elapsed.Seconds(),
		Methods:         make(map[string]methodReport, len(c.series)),
	}
	for method, s := range c.series {
		r.Methods[method] = s.report()
	}

	if scenario, ok := r.Methods[scenarioName]; ok {
		r.TotalScenarios = scenario.Calls
		r.SuccessScenarios = scenario.Success
		r.FailedScenarios = scenario.Failed
		r.ErrorRate = scenario.ErrorRate
		r.ScenarioLatencyMs = scenario.LatencyMs
	}
	if elapsed > 0 {
		r.RPS = float64(r.TotalScenarios) / elapsed.Seconds()
	}

	for _, number := range slices.Sorted(maps.Keys(c.invoices)) {
		if c.invoices[number] > 1 {
			r.DuplicateInvoiceNumbers = append(r.DuplicateInvoiceNumbers, number)
		}
	}
	return r
}

func printReport(w io.Writer, r report, cfg config) {
	lat := r.ScenarioLatencyMs
	_, _ = fmt.Fprintln(w, "Load test summary")
	_, _ = fmt.Fprintf(w, "mode=%s run=%s total=%d success=%d failed=%d error_rate=%.4f\n",
		cfg.mode, runTarget(cfg), r.TotalScenarios, r.SuccessScenarios, r.FailedScenarios, r.ErrorRate)
	_, _ = fmt.Fprintf(w, "duration=%.2fs rps=%.2f\n", r.DurationSeconds, r.RPS)
	_, _ = fmt.Fprintf(w, "scenario latency ms: min=%.2f avg=%.2f p50=%.2f p95=%.2f p99=%.2f max=%.2f\n",
		lat.Min, lat.Avg, lat.P50, lat.P95, lat.P99, lat.Max)

	for _, method := range slices.Sorted(maps.Keys(r.Methods)) {
		if method == scenarioName {
			continue
		}
		m := r.Methods[method]
		_, _ = fmt.Fprintf(w, "%s: calls=%d success=%d failed=%d error_rate=%.4f p95=%.2fms\n",
			method, m.Calls, m.Success, m.Failed, m.ErrorRate, m.LatencyMs.P95)
	}
	if len(r.DuplicateInvoiceNumbers) > 0 {
		_, _ = fmt.Fprintf(w, "DUPLICATE invoice numbers: %v\n", r.DuplicateInvoiceNumbers)
	}
}

func runTarget(cfg config) string {
	switch {
	case cfg.duration <= 0:
		return fmt.Sprintf("count:%d", cfg.total)
	case cfg.totalSet:
		return fmt.Sprintf("duration:%s,max-total:%d", cfg.duration, cfg.total)
	default:
		return fmt.Sprintf("duration:%s", cfg.duration)
	}
}

// summarizeLatency считает сводку в миллисекундах; перцентили линейно интерполируются.
func summarizeLatency(samples []time.Duration) latencySummary {
	if len(samples) == 0 {
		return latencySummary{}
	}

	ms := make([]float64, len(samples))
	var sum float64
	for i, d := range samples {
		ms[i] = float64(d.Microseconds()) / 1000
		sum += ms[i]
	}
	slices.Sort(ms)

	return latencySummary{
		Min: ms[0],
		Max: ms[len(ms)-1],
		Avg: sum / float64(len(ms)),
		P50: percentile(ms, 0.50),
		P95: percentile(ms, 0.95),
		P99: percentile(ms, 0.99),
	}
}

// percentile ожидает отсортированный срез и q в [0, 1].
func percentile(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	pos := q * float64(len(sorted)-1)
	lo, hi := int(math.Floor(pos)), int(math.Ceil(pos))
	return sorted[lo] + (sorted[hi]-sorted[lo])*(pos-float64(lo))
}

func ratio(part, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return float64(part) / float64(total)
}
