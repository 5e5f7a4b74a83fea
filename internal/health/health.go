// Package health отдаёт HTTP-пробы /healthz, /livez и /readyz.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/salesmaster/internal/domain"
)

type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

const defaultCheckTimeout = 2 * time.Second

func (s Status) severity() int {
	switch s {
	case StatusHealthy:
		return 0
	case StatusDegraded:
		return 1
	default:
		return 2
	}
}

// Check описывает результат проверки одного компонента.
type Check struct {
	Name       string `json:"name"`
	Status     Status `json:"status"`
	Message    string `json:"message,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}

// Response описывает тело ответа /healthz. Status равен худшему статусу среди Checks.
type Response struct {
	Status        Status           `json:"status"`
	Timestamp     time.Time        `json:"timestamp"`
	Checks        map[string]Check `json:"checks,omitempty"`
	Version       string           `json:"version,omitempty"`
	UptimeSeconds int64            `json:"uptime_seconds"`
}

// Checker проверяет один компонент. Проверка должна уважать дедлайн ctx.
type Checker interface {
	Check(ctx context.Context) Check
}

type registered struct {
	name    string
	checker Checker
}

// Handler запускает зарегистрированные проверки параллельно под общим таймаутом.
type Handler struct {
	mu       sync.RWMutex
	checkers []registered
	version  string
	timeout  time.Duration
	started  time.Time
}

func NewHandler(version string) *Handler {
	return &Handler{
		version: version,
		timeout: defaultCheckTimeout,
		started: time.Now(),
	}
}

// RegisterChecker добавляет проверку; повторная регистрация имени заменяет прежнюю.
func (h *Handler) RegisterChecker(name string, checker Checker) {
	h.mu.Lock()
	defer h.mu.Unlock()

	i, found := slices.BinarySearchFunc(h.checkers, name, func(r registered, target string) int {
		return strings.Compare(r.name, target)
	})
	if found {
		h.checkers[i].checker = checker
		return
	}
	h.checkers = slices.Insert(h.checkers, i, registered{name: name, checker: checker})
}

// Run выполняет все проверки и сводит их в общий статус.
func (h *Handler) Run(ctx context.Context) Response {
	h.mu.RLock()
	checkers := slices.Clone(h.checkers)
	h.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	results := make([]Check, len(checkers))
	var wg sync.WaitGroup
	for i, r := range checkers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = r.checker.Check(ctx)
		}()
	}
	wg.Wait()

	resp := Response{
		Status:        StatusHealthy,
		Timestamp:     time.Now().UTC(),
		Checks:        make(map[string]Check, len(checkers)),
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.started).Seconds()),
	}
	for i, r := range checkers {
		check := results[i]
		if check.Name == "" {
			check.Name = r.name
		}
		resp.Checks[r.name] = check
		if check.Status.severity() > resp.Status.severity() {
			resp.Status = check.Status
		}
	}
	return resp
}

// ServeHTTP отдаёт подробный JSON-отчёт; 503 только при unhealthy.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	resp := h.Run(r.Context())

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus(resp.Status))
	_ = json.NewEncoder(w).Encode(resp)
}

// ReadinessHandler снимает сервис с трафика только при unhealthy: backlog outbox даёт degraded и трафик не трогает.
func (h *Handler) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	code := httpStatus(h.Run(r.Context()).Status)
	body := "ready"
	if code != http.StatusOK {
		body = "not ready"
	}
	w.WriteHeader(code)
	_, _ = w.Write([]byte(body))
}

func LivenessHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func httpStatus(s Status) int {
	if s == StatusUnhealthy {
		return http.StatusServiceUnavailable
	}
	return http.StatusOK
}

// Probe превращает функцию в Checker: nil даёт healthy, ошибка даёт unhealthy с её текстом.
type Probe struct {
	name string
	fn   func(ctx context.Context) error
}

func NewProbe(name string, fn func(ctx context.Context) error) *Probe {
	return &Probe{name: name, fn: fn}
}

func (p *Probe) Check(ctx context.Context) Check {
	start := time.Now()
	err := p.fn(ctx)

	check := Check{Name: p.name, Status: StatusHealthy, DurationMs: time.Since(start).Milliseconds()}
	if err != nil {
		check.Status = StatusUnhealthy
		check.Message = err.Error()
	}
	return check
}

// Pinger умеет проверить соединение с хранилищем.
type Pinger interface {
	Ping(ctx context.Context) error
}

// NewStoreChecker проверяет доступность хранилища записей.
func NewStoreChecker(store Pinger) *Probe {
	return NewProbe("store", store.Ping)
}

// OutboxChecker помечает сервис degraded, когда события копятся в outbox.
// Нулевые пороги отключают соответствующее условие.
type OutboxChecker struct {
	stats      func() (domain.OutboxStats, error)
	maxPending int
	maxAge     time.Duration
	now        func() time.Time
}

func NewOutboxChecker(repo domain.OutboxRepository, maxPending int, maxAge time.Duration) *OutboxChecker {
	return &OutboxChecker{
		stats:      repo.Stats,
		maxPending: maxPending,
		maxAge:     maxAge,
		now:        time.Now,
	}
}

func (c *OutboxChecker) Check(_ context.Context) Check {
	start := time.Now()
	status, message := c.evaluate()
	return Check{
		Name:       "outbox",
		Status:     status,
		Message:    message,
		DurationMs: time.Since(start).Milliseconds(),
	}
}

func (c *OutboxChecker) evaluate() (Status, string) {
	stats, err := c.stats()
	if err != nil {
		return StatusDegraded, fmt.Sprintf("outbox stats unavailable: %v", err)
	}
	if c.maxPending > 0 && stats.PendingCount > c.maxPending {
		return StatusDegraded, fmt.Sprintf("%d pending events", stats.PendingCount)
	}
	if c.maxAge > 0 && !stats.OldestPendingAt.IsZero() {
		if age := c.now().Sub(stats.OldestPendingAt); age > c.maxAge {
			return StatusDegraded, fmt.Sprintf("oldest pending event is %s old", age.Round(time.Second))
		}
	}
	return StatusHealthy, ""
}
