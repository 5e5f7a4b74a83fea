package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	grpcsvc "github.com/vladislavdragonenkov/salesmaster/internal/service/grpc"
)

// caller описывает то, что сценарию нужно от gRPC-клиента; реализуется *grpcsvc.SalesClient.
type caller interface {
	Call(ctx context.Context, method string, req *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
}

// runLoad готовит товар и гоняет сценарии через пул клиентов.
func runLoad(clients []caller, cfg config) (report, error) {
	if len(clients) == 0 {
		return report{}, errors.New("at least one client is required")
	}

	startedAt := time.Now()
	runID := fmt.Sprintf("%d-%d", startedAt.UnixNano(), os.Getpid())
	col := newCollector()

	if cfg.mode != modeChurn && cfg.productID == 0 {
		id, err := createLoadProduct(clients[0], cfg, runID, col)
		if err != nil {
			return report{}, err
		}
		cfg.productID = id
	}

	jobs := make(chan int, cfg.concurrency*2)
	var wg sync.WaitGroup
	for worker := range cfg.concurrency {
		client := clients[worker%len(clients)]
		wg.Add(1)
		go func() {
			defer wg.Done()
			for index := range jobs {
				// Ошибка уже учтена в collector под scenarioName.
				_ = runScenario(client, cfg, index, runID, col)
			}
		}()
	}

	dispatchJobs(jobs, cfg)
	wg.Wait()

	return col.buildReport(startedAt, time.Since(startedAt)), nil
}

// dispatchJobs раздаёт номера сценариев: ровно total штук или до истечения duration.
func dispatchJobs(jobs chan<- int, cfg config) {
	defer close(jobs)

	var deadline <-chan time.Time
	if cfg.duration > 0 {
		timer := time.NewTimer(cfg.duration)
		defer timer.Stop()
		deadline = timer.C
	}
	bounded := cfg.duration <= 0 || cfg.totalSet

	for i := 0; !bounded || i < cfg.total; i++ {
		select {
		case <-deadline:
			return
		case jobs <- i:
		}
	}
}

func createLoadProduct(client caller, cfg config, runID string, col *collector) (int64, error) {
	resp, err := call(client, cfg.timeout, grpcsvc.MethodCreateProduct, map[string]any{
		"name":  "load-" + runID,
		"price": cfg.price.StringFixed(2),
	}, col)
	if err != nil {
		return 0, fmt.Errorf("create load product: %w", err)
	}
	return responseID(resp, "product")
}

// runScenario выполняет один сценарий режима cfg.mode и учитывает его как целое.
func runScenario(client caller, cfg config, index int, runID string, col *collector) (err error) {
	start := time.Now()
	defer func() { col.record(scenarioName, time.Since(start), grpcCode(err)) }()

	customer, err := call(client, cfg.timeout, grpcsvc.MethodCreateCustomer, map[string]any{
		"name":  fmt.Sprintf("%s %d", cfg.customerTag, index),
		"email": fmt.Sprintf("%s-%s-%d@load.test", cfg.customerTag, runID, index),
	}, col)
	if err != nil {
		return err
	}
	customerID, err := responseID(customer, "customer")
	if err != nil {
		return err
	}

	if cfg.mode == modeChurn {
		_, err = call(client, cfg.timeout, grpcsvc.MethodDeleteCustomer, map[string]any{"id": customerID}, col)
		return err
	}

	order, err := call(client, cfg.timeout, grpcsvc.MethodCreateOrder, map[string]any{
		"customer_id": customerID,
		"items":       []any{map[string]any{"product_id": cfg.productID, "quantity": cfg.quantity}},
	}, col)
	if err != nil || cfg.mode == modeOrder {
		return err
	}

	orderID, err := responseID(order, "order")
	if err != nil {
		return err
	}
	invoice, err := call(client, cfg.timeout, grpcsvc.MethodIssueInvoice, map[string]any{"order_id": orderID}, col)
	if err != nil {
		return err
	}
	col.recordInvoice(invoice.GetFields()["invoice"].GetStructValue().GetFields()["number"].GetStringValue())
	return nil
}

// call выполняет один RPC со своим таймаутом и записывает его задержку и код.
func call(client caller, timeout time.Duration, method string, fields map[string]any, col *collector) (*structpb.Struct, error) {
	req, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	start := time.Now()
	resp, err := client.Call(ctx, method, req)
	col.record(method, time.Since(start), grpcCode(err))
	return resp, err
}

// responseID достаёт id из ответа вида {key: {id: N}}.
func responseID(resp *structpb.Struct, key string) (int64, error) {
	entity := resp.GetFields()[key].GetStructValue()
	if entity == nil {
		return 0, status.Errorf(codes.Internal, "response has no %s", key)
	}
	if id := int64(entity.GetFields()["id"].GetNumberValue()); id > 0 {
		return id, nil
	}
	return 0, status.Errorf(codes.Internal, "response returned empty %s id", key)
}

func grpcCode(err error) codes.Code {
	if err == nil {
		return codes.OK
	}
	return status.Code(err)
}

// writeJSONReport пишет отчёт в файл внутри текущего каталога.
func writeJSONReport(path string, r report) error {
	clean := filepath.Clean(path)
	switch {
	case clean == "." || clean == string(filepath.Separator):
		return errors.New("output path must point to a file")
	case clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)):
		return fmt.Errorf("output path must be inside current directory: %s", path)
	}

	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	// #nosec G306 -- отчёт нагрузочного прогона не содержит секретов.
	return os.WriteFile(clean, append(data, '\n'), 0o644)
}
