package grpcsvc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName содержит полное имя gRPC-сервиса.
const ServiceName = "salesmaster.v1.SalesService"

// Имена методов SalesService.
const (
	MethodCreateCustomer = "CreateCustomer"
	MethodUpdateCustomer = "UpdateCustomer"
	MethodGetCustomer    = "GetCustomer"
	MethodListCustomers  = "ListCustomers"
	MethodDeleteCustomer = "DeleteCustomer"
	MethodCreateProduct  = "CreateProduct"
	MethodUpdateProduct  = "UpdateProduct"
	MethodGetProduct     = "GetProduct"
	MethodListProducts   = "ListProducts"
	MethodDeleteProduct  = "DeleteProduct"
	MethodCreateOrder    = "CreateOrder"
	MethodGetOrder       = "GetOrder"
	MethodListOrders     = "ListOrders"
	MethodIssueInvoice   = "IssueInvoice"
	MethodGetInvoice     = "GetInvoice"
	MethodListInvoices   = "ListInvoices"
	MethodCompactIDs     = "CompactIDs"
)

// FullMethod возвращает путь метода вида /salesmaster.v1.SalesService/Method.
func FullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

// SalesServer описывает серверную сторону SalesService. Запросы и ответы передаются
// как google.protobuf.Struct.
type SalesServer interface {
	CreateCustomer(context.Context, *structpb.Struct) (*structpb.Struct, error)
	UpdateCustomer(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetCustomer(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListCustomers(context.Context, *structpb.Struct) (*structpb.Struct, error)
	DeleteCustomer(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CreateProduct(context.Context, *structpb.Struct) (*structpb.Struct, error)
	UpdateProduct(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetProduct(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListProducts(context.Context, *structpb.Struct) (*structpb.Struct, error)
	DeleteProduct(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CreateOrder(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetOrder(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListOrders(context.Context, *structpb.Struct) (*structpb.Struct, error)
	IssueInvoice(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetInvoice(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListInvoices(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CompactIDs(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type unaryMethod func(SalesServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func methodDesc(name string, call unaryMethod) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(SalesServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(name)}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(SalesServer), ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// ServiceDesc описывает SalesService для grpc.Server.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*SalesServer)(nil),
	Methods: []grpc.MethodDesc{
		methodDesc(MethodCreateCustomer, SalesServer.CreateCustomer),
		methodDesc(MethodUpdateCustomer, SalesServer.UpdateCustomer),
		methodDesc(MethodGetCustomer, SalesServer.GetCustomer),
		methodDesc(MethodListCustomers, SalesServer.ListCustomers),
		methodDesc(MethodDeleteCustomer, SalesServer.DeleteCustomer),
		methodDesc(MethodCreateProduct, SalesServer.CreateProduct),
		methodDesc(MethodUpdateProduct, SalesServer.UpdateProduct),
		methodDesc(MethodGetProduct, SalesServer.GetProduct),
		methodDesc(MethodListProducts, SalesServer.ListProducts),
		methodDesc(MethodDeleteProduct, SalesServer.DeleteProduct),
		methodDesc(MethodCreateOrder, SalesServer.CreateOrder),
		methodDesc(MethodGetOrder, SalesServer.GetOrder),
		methodDesc(MethodListOrders, SalesServer.ListOrders),
		methodDesc(MethodIssueInvoice, SalesServer.IssueInvoice),
		methodDesc(MethodGetInvoice, SalesServer.GetInvoice),
		methodDesc(MethodListInvoices, SalesServer.ListInvoices),
		methodDesc(MethodCompactIDs, SalesServer.CompactIDs),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "salesmaster/v1/sales_service.proto",
}

// RegisterSalesServer регистрирует реализацию на gRPC-сервере.
func RegisterSalesServer(s grpc.ServiceRegistrar, srv SalesServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// SalesClient вызывает методы SalesService по имени.
type SalesClient struct {
	cc grpc.ClientConnInterface
}

// NewSalesClient создаёт клиента поверх соединения.
func NewSalesClient(cc grpc.ClientConnInterface) *SalesClient {
	return &SalesClient{cc: cc}
}

// Call выполняет унарный вызов метода; nil-запрос отправляется как пустой Struct.
func (c *SalesClient) Call(ctx context.Context, method string, req *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	if req == nil {
		req = &structpb.Struct{}
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, FullMethod(method), req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
