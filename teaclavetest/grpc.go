package teaclavetest

import (
	"context"

	"github.com/golang/protobuf/ptypes/wrappers"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	tc "github.com/kwonalbert/teaclave_client"
)

var (
	authenticationMethods = []tc.Method{
		tc.MethodUserRegister,
		tc.MethodUserLogin,
		tc.MethodUserChangePassword,
	}
	frontendMethods = []tc.Method{
		tc.MethodRegisterFunction,
		tc.MethodGetFunction,
		tc.MethodCreateTask,
		tc.MethodRegisterInputFile,
		tc.MethodRegisterOutputFile,
		tc.MethodAssignData,
		tc.MethodApproveTask,
		tc.MethodInvokeTask,
		tc.MethodCancelTask,
		tc.MethodGetTask,
	}
)

// RegisterGRPC registers the authentication and frontend services on
// srv, in the form GRPCDialer expects.
func (s *Service) RegisterGRPC(srv *grpc.Server) {
	srv.RegisterService(serviceDesc(tc.AuthenticationService, authenticationMethods), s)
	srv.RegisterService(serviceDesc(tc.FrontendService, frontendMethods), s)
}

func serviceDesc(service tc.Service, methods []tc.Method) *grpc.ServiceDesc {
	desc := &grpc.ServiceDesc{
		ServiceName: tc.GRPCServiceName(service),
		HandlerType: (*interface{})(nil),
		Streams:     []grpc.StreamDesc{},
	}
	for _, method := range methods {
		desc.Methods = append(desc.Methods, grpc.MethodDesc{
			MethodName: string(method),
			Handler:    methodHandler(service, method),
		})
	}
	return desc
}

func methodHandler(service tc.Service, method tc.Method) func(interface{}, context.Context, func(interface{}) error, grpc.UnaryServerInterceptor) (interface{}, error) {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(wrappers.BytesValue)
		if err := dec(in); err != nil {
			return nil, err
		}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return srv.(*Service).serveGRPC(ctx, service, method, req.(*wrappers.BytesValue))
		}
		if interceptor == nil {
			return handler(ctx, in)
		}
		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: "/" + tc.GRPCServiceName(service) + "/" + string(method),
		}
		return interceptor(ctx, in, info, handler)
	}
}

func (s *Service) serveGRPC(ctx context.Context, service tc.Service, method tc.Method, in *wrappers.BytesValue) (*wrappers.BytesValue, error) {
	var cred *tc.Credential
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		ids, tokens := md.Get(tc.MetadataUserID), md.Get(tc.MetadataToken)
		if len(ids) > 0 && len(tokens) > 0 {
			cred = &tc.Credential{UserID: ids[0], Token: tokens[0]}
		}
	}
	if in == nil {
		return nil, status.Error(codes.InvalidArgument, "empty request")
	}
	out, err := s.handle(ctx, service, method, cred, in.Value)
	if err != nil {
		return nil, err
	}
	return &wrappers.BytesValue{Value: out}, nil
}
