package server

import (
	"context"
	"log/slog"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

const ServiceName = "receipts.v1.ReconcileService"

// ReconcileServiceServer is the server API of receipts.v1.ReconcileService.
// Every method takes and returns a google.protobuf.Struct.
type ReconcileServiceServer interface {
	CheckDuplicate(context.Context, *structpb.Struct) (*structpb.Struct, error)
	FindAndFlagDuplicates(context.Context, *structpb.Struct) (*structpb.Struct, error)
	BackfillHashes(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ResolveDuplicate(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ResolveAllDuplicates(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListPendingReviews(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ReserveUsage(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetUsage(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SaveReceipt(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListReceipts(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ScanReceipt(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ImportReceipts(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ExportReceipts(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type unaryMethod func(ReconcileServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func method(name string, call unaryMethod) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(ReconcileServiceServer), ctx, req.(*structpb.Struct))
			}
			if interceptor == nil {
				return handler(ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + name}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// ReconcileServiceDesc is written by hand; payloads are Structs so there is
// no generated code to register.
var ReconcileServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ReconcileServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		method("CheckDuplicate", ReconcileServiceServer.CheckDuplicate),
		method("FindAndFlagDuplicates", ReconcileServiceServer.FindAndFlagDuplicates),
		method("BackfillHashes", ReconcileServiceServer.BackfillHashes),
		method("ResolveDuplicate", ReconcileServiceServer.ResolveDuplicate),
		method("ResolveAllDuplicates", ReconcileServiceServer.ResolveAllDuplicates),
		method("ListPendingReviews", ReconcileServiceServer.ListPendingReviews),
		method("ReserveUsage", ReconcileServiceServer.ReserveUsage),
		method("GetUsage", ReconcileServiceServer.GetUsage),
		method("SaveReceipt", ReconcileServiceServer.SaveReceipt),
		method("ListReceipts", ReconcileServiceServer.ListReceipts),
		method("ScanReceipt", ReconcileServiceServer.ScanReceipt),
		method("ImportReceipts", ReconcileServiceServer.ImportReceipts),
		method("ExportReceipts", ReconcileServiceServer.ExportReceipts),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "receipts/v1/reconcile.proto",
}

// Register adds srv to s.
func Register(s grpc.ServiceRegistrar, srv ReconcileServiceServer) {
	s.RegisterService(&ReconcileServiceDesc, srv)
}

// NewGRPCServer builds a server with the auth interceptor installed.
func NewGRPCServer(logger *slog.Logger, opts ...grpc.ServerOption) *grpc.Server {
	opts = append(opts, grpc.ChainUnaryInterceptor(UnaryAuthInterceptor(logger)))
	return grpc.NewServer(opts...)
}
