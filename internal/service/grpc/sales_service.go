// Package grpcsvc публикует сценарии продаж через gRPC.
package grpcsvc

import (
	"context"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/vladislavdragonenkov/salesmaster/internal/domain"
	"github.com/vladislavdragonenkov/salesmaster/internal/service/compaction"
)

// Sales перечисляет сценарии, которые сервис вызывает на каждый запрос.
type Sales interface {
	CreateCustomer(ctx context.Context, name, email string) (domain.Customer, error)
	UpdateCustomer(ctx context.Context, id int64, name, email string) (domain.Customer, error)
	GetCustomer(ctx context.Context, id int64) (domain.Customer, error)
	ListCustomers(ctx context.Context) ([]domain.Customer, error)
	DeleteCustomer(ctx context.Context, id int64) error

	CreateProduct(ctx context.Context, name string, price decimal.Decimal) (domain.Product, error)
	UpdateProduct(ctx context.Context, id int64, name string, price decimal.Decimal) (domain.Product, error)
	GetProduct(ctx context.Context, id int64) (domain.Product, error)
	ListProducts(ctx context.Context) ([]domain.Product, error)
	DeleteProduct(ctx context.Context, id int64) error

	CreateOrder(ctx context.Context, customerID int64, items []domain.OrderItem) (domain.Order, error)
	GetOrder(ctx context.Context, id int64) (domain.Order, error)
	ListOrders(ctx context.Context) ([]domain.Order, error)

	IssueInvoice(ctx context.Context, orderID int64) (domain.Invoice, error)
	GetInvoice(ctx context.Context, id int64) (domain.Invoice, error)
	ListInvoices(ctx context.Context) ([]domain.Invoice, error)

	CompactIDs(ctx context.Context, kind domain.EntityKind) (compaction.Result, error)
}

// SalesService реализует SalesServer поверх фасада продаж.
type SalesService struct {
	sales  Sales
	logger *log.Entry
}

// NewSalesService конструирует сервис с зависимостями.
func NewSalesService(sales Sales, logger *log.Entry) *SalesService {
	if logger == nil {
		logger = log.New().WithField("component", "sales-grpc")
	}
	return &SalesService{sales: sales, logger: logger}
}

func (s *SalesService) reply(method string, fields map[string]any, err error) (*structpb.Struct, error) {
	if err != nil {
		return nil, toStatus(s.logger, method, err)
	}
	return toStruct(fields)
}

// CreateCustomer регистрирует клиента; в ответе id после уплотнения.
func (s *SalesService) CreateCustomer(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	name, err := stringField(req, "name")
	if err != nil {
		return nil, err
	}
	email, err := stringField(req, "email")
	if err != nil {
		return nil, err
	}
	c, err := s.sales.CreateCustomer(ctx, name, email)
	return s.reply(MethodCreateCustomer, map[string]any{"customer": customerFields(c)}, err)
}

// UpdateCustomer меняет имя и email клиента.
func (s *SalesService) UpdateCustomer(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id, err := idField(req, "id")
	if err != nil {
		return nil, err
	}
	name, err := stringField(req, "name")
	if err != nil {
		return nil, err
	}
	email, err := stringField(req, "email")
	if err != nil {
		return nil, err
	}
	c, err := s.sales.UpdateCustomer(ctx, id, name, email)
	return s.reply(MethodUpdateCustomer, map[string]any{"customer": customerFields(c)}, err)
}

func (s *SalesService) GetCustomer(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id, err := idField(req, "id")
	if err != nil {
		return nil, err
	}
	c, err := s.sales.GetCustomer(ctx, id)
	return s.reply(MethodGetCustomer, map[string]any{"customer": customerFields(c)}, err)
}

func (s *SalesService) ListCustomers(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	customers, err := s.sales.ListCustomers(ctx)
	return s.reply(MethodListCustomers, map[string]any{"customers": listOf(customers, customerFields)}, err)
}

// DeleteCustomer удаляет клиента без заказов; оставшиеся id уплотняются.
func (s *SalesService) DeleteCustomer(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id, err := idField(req, "id")
	if err != nil {
		return nil, err
	}
	err = s.sales.DeleteCustomer(ctx, id)
	return s.reply(MethodDeleteCustomer, map[string]any{"id": id, "deleted": true}, err)
}

func (s *SalesService) CreateProduct(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	name, err := stringField(req, "name")
	if err != nil {
		return nil, err
	}
	price, err := decimalField(req, "price")
	if err != nil {
		return nil, err
	}
	p, err := s.sales.CreateProduct(ctx, name, price)
	return s.reply(MethodCreateProduct, map[string]any{"product": productFields(p)}, err)
}

func (s *SalesService) UpdateProduct(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id, err := idField(req, "id")
	if err != nil {
		return nil, err
	}
	name, err := stringField(req, "name")
	if err != nil {
		return nil, err
	}
	price, err := decimalField(req, "price")
	if err != nil {
		return nil, err
	}
	p, err := s.sales.UpdateProduct(ctx, id, name, price)
	return s.reply(MethodUpdateProduct, map[string]any{"product": productFields(p)}, err)
}

func (s *SalesService) GetProduct(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id, err := idField(req, "id")
	if err != nil {
		return nil, err
	}
	p, err := s.sales.GetProduct(ctx, id)
	return s.reply(MethodGetProduct, map[string]any{"product": productFields(p)}, err)
}

func (s *SalesService) ListProducts(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	products, err := s.sales.ListProducts(ctx)
	return s.reply(MethodListProducts, map[string]any{"products": listOf(products, productFields)}, err)
}

func (s *SalesService) DeleteProduct(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id, err := idField(req, "id")
	if err != nil {
		return nil, err
	}
	err = s.sales.DeleteProduct(ctx, id)
	return s.reply(MethodDeleteProduct, map[string]any{"id": id, "deleted": true}, err)
}

// CreateOrder собирает заказ из позиций {product_id, quantity}.
func (s *SalesService) CreateOrder(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	customerID, err := idField(req, "customer_id")
	if err != nil {
		return nil, err
	}
	items, err := itemsField(req)
	if err != nil {
		return nil, err
	}
	o, err := s.sales.CreateOrder(ctx, customerID, items)
	return s.reply(MethodCreateOrder, map[string]any{"order": orderFields(o)}, err)
}

func (s *SalesService) GetOrder(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id, err := idField(req, "id")
	if err != nil {
		return nil, err
	}
	o, err := s.sales.GetOrder(ctx, id)
	return s.reply(MethodGetOrder, map[string]any{"order": orderFields(o)}, err)
}

func (s *SalesService) ListOrders(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	orders, err := s.sales.ListOrders(ctx)
	return s.reply(MethodListOrders, map[string]any{"orders": listOf(orders, orderFields)}, err)
}

// IssueInvoice выставляет счёт по заказу.
func (s *SalesService) IssueInvoice(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	orderID, err := idField(req, "order_id")
	if err != nil {
		return nil, err
	}
	inv, err := s.sales.IssueInvoice(ctx, orderID)
	return s.reply(MethodIssueInvoice, map[string]any{"invoice": invoiceFields(inv)}, err)
}

func (s *SalesService) GetInvoice(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id, err := idField(req, "id")
	if err != nil {
		return nil, err
	}
	inv, err := s.sales.GetInvoice(ctx, id)
	return s.reply(MethodGetInvoice, map[string]any{"invoice": invoiceFields(inv)}, err)
}

func (s *SalesService) ListInvoices(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	invoices, err := s.sales.ListInvoices(ctx)
	return s.reply(MethodListInvoices, map[string]any{"invoices": listOf(invoices, invoiceFields)}, err)
}

// CompactIDs запускает административный проход уплотнения для вида "customer" или "product".
func (s *SalesService) CompactIDs(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	raw, err := stringField(req, "kind")
	if err != nil {
		return nil, err
	}
	kind, err := domain.ParseEntityKind(raw)
	if err != nil {
		return nil, toStatus(s.logger, MethodCompactIDs, err)
	}
	result, err := s.sales.CompactIDs(ctx, kind)
	return s.reply(MethodCompactIDs, map[string]any{"result": compactionFields(result)}, err)
}

var _ SalesServer = (*SalesService)(nil)
