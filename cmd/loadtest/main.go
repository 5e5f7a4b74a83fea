// Команда loadtest нагружает SalesService сценариями из нескольких RPC и печатает отчёт по задержкам.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	grpcsvc "github.com/vladislavdragonenkov/salesmaster/internal/service/grpc"
)

type loadMode string

const (
	// modeOrder: новый клиент и заказ на нагрузочный товар.
	modeOrder loadMode = "order"
	// modeOrderInvoice: то же плюс выставление счёта.
	modeOrderInvoice loadMode = "order-invoice"
	// modeChurn: клиент создаётся и сразу удаляется, каждый раз запуская уплотнение id.
	modeChurn loadMode = "churn"
)

type config struct {
	addr        string
	total       int
	totalSet    bool
	duration    time.Duration
	concurrency int
	connections int
	timeout     time.Duration
	mode        loadMode
	quantity    int
	price       decimal.Decimal
	productID   int64
	customerTag string
	outputPath  string
}

func parseConfig(args []string) (config, error) {
	cfg := config{}
	var mode, price string

	fs := flag.NewFlagSet("loadtest", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&cfg.addr, "addr", "localhost:50051", "SalesService gRPC address")
	fs.IntVar(&cfg.total, "total", 400, "scenarios to run; with -duration acts as an upper bound when set explicitly")
	fs.DurationVar(&cfg.duration, "duration", 0, "run for this long instead of a fixed count (e.g. 10m)")
	fs.IntVar(&cfg.concurrency, "concurrency", 40, "parallel workers")
	fs.IntVar(&cfg.connections, "connections", 20, "gRPC connections shared by workers")
	fs.DurationVar(&cfg.timeout, "timeout", 5*time.Second, "per-RPC timeout")
	fs.StringVar(&mode, "mode", string(modeOrder), "scenario: order | order-invoice | churn")
	fs.IntVar(&cfg.quantity, "quantity", 1, "quantity of the order line")
	fs.StringVar(&price, "price", "10.00", "unit price of the load product")
	fs.Int64Var(&cfg.productID, "product-id", 0, "use an existing product instead of creating one")
	fs.StringVar(&cfg.customerTag, "customer-tag", "load", "prefix of generated customer names and emails")
	fs.StringVar(&cfg.outputPath, "output", "", "write the JSON report to this file")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}
	fs.Visit(func(f *flag.Flag) { cfg.totalSet = cfg.totalSet || f.Name == "total" })

	var err error
	if cfg.mode, err = parseMode(mode); err != nil {
		return cfg, err
	}
	if cfg.price, err = decimal.NewFromString(strings.TrimSpace(price)); err != nil {
		return cfg, fmt.Errorf("parse price %q: %w", price, err)
	}
	return cfg, cfg.validate()
}

func (c config) validate() error {
	switch {
	case c.duration < 0:
		return errors.New("duration must be >= 0")
	case c.total <= 0 && (c.duration == 0 || c.totalSet):
		return errors.New("total must be > 0")
	case c.concurrency <= 0:
		return errors.New("concurrency must be > 0")
	case c.connections <= 0:
		return errors.New("connections must be > 0")
	case c.timeout <= 0:
		return errors.New("timeout must be > 0")
	case c.quantity <= 0:
		return errors.New("quantity must be > 0")
	case !c.price.IsPositive():
		return errors.New("price must be > 0")
	case c.productID < 0:
		return errors.New("product-id must be >= 0")
	case strings.TrimSpace(c.customerTag) == "":
		return errors.New("customer-tag is required")
	// Удаление сдвигает id остальных клиентов, параллельный churn удалял бы чужие записи.
	case c.mode == modeChurn && c.concurrency != 1:
		return errors.New("churn mode requires concurrency=1")
	}
	return nil
}

func parseMode(value string) (loadMode, error) {
	mode := loadMode(strings.TrimSpace(value))
	switch mode {
	case modeOrder, modeOrderInvoice, modeChurn:
		return mode, nil
	}
	return "", fmt.Errorf("unsupported mode: %s", value)
}

func main() {
	cfg, err := parseConfig(os.Args[1:])
	if err != nil {
		exit("invalid config: %v", err)
	}

	clients := make([]caller, 0, cfg.connections)
	for range cfg.connections {
		conn, err := grpc.NewClient(cfg.addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			exit("dial %s: %v", cfg.addr, err)
		}
		defer conn.Close()
		clients = append(clients, grpcsvc.NewSalesClient(conn))
	}

	result, err := runLoad(clients, cfg)
	if err != nil {
		exit("load test setup failed: %v", err)
	}

	printReport(os.Stdout, result, cfg)
	if cfg.outputPath != "" {
		if err := writeJSONReport(cfg.outputPath, result); err != nil {
			exit("write report: %v", err)
		}
	}
	if result.FailedScenarios > 0 || len(result.DuplicateInvoiceNumbers) > 0 {
		os.Exit(1)
	}
}

func exit(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
