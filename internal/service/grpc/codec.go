package grpcsvc

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/vladislavdragonenkov/salesmaster/internal/domain"
	"github.com/vladislavdragonenkov/salesmaster/internal/service/compaction"
)

// Суммы отдаются строкой с двумя знаками после запятой.
const moneyPlaces = 2

func invalidArgument(format string, args ...any) error {
	return status.Errorf(codes.InvalidArgument, format, args...)
}

func requiredField(req *structpb.Struct, name string) (*structpb.Value, error) {
	if req == nil {
		return nil, invalidArgument("request is required")
	}
	v, ok := req.GetFields()[name]
	if !ok {
		return nil, invalidArgument("%s is required", name)
	}
	if _, isNull := v.GetKind().(*structpb.Value_NullValue); isNull {
		return nil, invalidArgument("%s is required", name)
	}
	return v, nil
}

// toInt64 принимает целое число или его строковую запись.
func toInt64(v *structpb.Value, name string) (int64, error) {
	switch kind := v.GetKind().(type) {
	case *structpb.Value_NumberValue:
		n := kind.NumberValue
		if n != math.Trunc(n) || math.Abs(n) > 1<<53 {
			return 0, invalidArgument("%s must be an integer", name)
		}
		return int64(n), nil
	case *structpb.Value_StringValue:
		n, err := strconv.ParseInt(strings.TrimSpace(kind.StringValue), 10, 64)
		if err != nil {
			return 0, invalidArgument("%s must be an integer", name)
		}
		return n, nil
	default:
		return 0, invalidArgument("%s must be an integer", name)
	}
}

func int64Field(req *structpb.Struct, name string) (int64, error) {
	v, err := requiredField(req, name)
	if err != nil {
		return 0, err
	}
	return toInt64(v, name)
}

// idField читает положительный идентификатор.
func idField(req *structpb.Struct, name string) (int64, error) {
	id, err := int64Field(req, name)
	if err != nil {
		return 0, err
	}
	if id <= 0 {
		return 0, invalidArgument("%s must be > 0", name)
	}
	return id, nil
}

func stringField(req *structpb.Struct, name string) (string, error) {
	v, err := requiredField(req, name)
	if err != nil {
		return "", err
	}
	s, ok := v.GetKind().(*structpb.Value_StringValue)
	if !ok {
		return "", invalidArgument("%s must be a string", name)
	}
	return s.StringValue, nil
}

// decimalField принимает цену строкой ("10.50") или числом.
func decimalField(req *structpb.Struct, name string) (decimal.Decimal, error) {
	v, err := requiredField(req, name)
	if err != nil {
		return decimal.Decimal{}, err
	}
	switch kind := v.GetKind().(type) {
	case *structpb.Value_StringValue:
		d, err := decimal.NewFromString(strings.TrimSpace(kind.StringValue))
		if err != nil {
			return decimal.Decimal{}, invalidArgument("%s must be a decimal number", name)
		}
		return d, nil
	case *structpb.Value_NumberValue:
		if math.IsNaN(kind.NumberValue) || math.IsInf(kind.NumberValue, 0) {
			return decimal.Decimal{}, invalidArgument("%s must be a decimal number", name)
		}
		return decimal.NewFromFloat(kind.NumberValue), nil
	default:
		return decimal.Decimal{}, invalidArgument("%s must be a decimal number", name)
	}
}

// itemsField разбирает позиции заказа: [{product_id, quantity}].
func itemsField(req *structpb.Struct) ([]domain.OrderItem, error) {
	v, err := requiredField(req, "items")
	if err != nil {
		return nil, err
	}
	list := v.GetListValue()
	if list == nil {
		return nil, invalidArgument("items must be a list")
	}

	items := make([]domain.OrderItem, 0, len(list.GetValues()))
	for idx, raw := range list.GetValues() {
		item := raw.GetStructValue()
		if item == nil {
			return nil, invalidArgument("items[%d] must be an object", idx)
		}
		productID, err := idField(item, "product_id")
		if err != nil {
			return nil, invalidArgument("items[%d]: %s", idx, status.Convert(err).Message())
		}
		qty, err := int64Field(item, "quantity")
		if err != nil {
			return nil, invalidArgument("items[%d]: %s", idx, status.Convert(err).Message())
		}
		if qty > math.MaxInt32 || qty < math.MinInt32 {
			return nil, invalidArgument("items[%d]: quantity out of range", idx)
		}
		items = append(items, domain.OrderItem{ProductID: productID, Quantity: int32(qty)})
	}
	return items, nil
}

func money(d decimal.Decimal) string {
	return d.StringFixed(moneyPlaces)
}

func timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func customerFields(c domain.Customer) map[string]any {
	return map[string]any{
		"id":    c.ID,
		"name":  c.Name,
		"email": c.Email,
	}
}

func productFields(p domain.Product) map[string]any {
	return map[string]any{
		"id":    p.ID,
		"name":  p.Name,
		"price": money(p.Price),
	}
}

func lineFields(lines []domain.OrderLine) []any {
	out := make([]any, 0, len(lines))
	for _, line := range lines {
		out = append(out, map[string]any{
			"product_id":   line.ProductID,
			"product_name": line.ProductName,
			"quantity":     int64(line.Quantity),
			"subtotal":     money(line.Subtotal),
		})
	}
	return out
}

func orderFields(o domain.Order) map[string]any {
	fields := map[string]any{
		"id":            o.ID,
		"customer_id":   o.CustomerID,
		"customer_name": o.CustomerName,
		"created_at":    timestamp(o.CreatedAt),
		"total":         money(o.Total),
		"lines":         lineFields(o.Lines),
		"invoiced":      o.Invoiced(),
	}
	if o.Invoiced() {
		fields["invoice_id"] = o.InvoiceID
	}
	return fields
}

func invoiceFields(inv domain.Invoice) map[string]any {
	return map[string]any{
		"id":            inv.ID,
		"order_id":      inv.OrderID,
		"number":        inv.Number,
		"issued_at":     timestamp(inv.IssuedAt),
		"total":         money(inv.Total),
		"customer_name": inv.CustomerName,
		"lines":         lineFields(inv.Lines),
	}
}

func compactionFields(r compaction.Result) map[string]any {
	remap := make(map[string]any, len(r.Remap))
	for from, to := range r.Remap {
		remap[strconv.FormatInt(from, 10)] = to
	}
	return map[string]any{
		"kind":        string(r.Kind),
		"count":       int64(r.Count),
		"renumbered":  r.Renumbered(),
		"remap":       remap,
		"duration_ms": r.Duration.Milliseconds(),
	}
}

func listOf[T any](items []T, fields func(T) map[string]any) []any {
	out := make([]any, 0, len(items))
	for _, item := range items {
		out = append(out, fields(item))
	}
	return out
}

func toStruct(fields map[string]any) (*structpb.Struct, error) {
	out, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, status.Error(codes.Internal, fmt.Sprintf("encode response: %v", err))
	}
	return out, nil
}
