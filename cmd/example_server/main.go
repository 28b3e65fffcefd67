// example_server serves the in-memory Teaclave service over gRPC, so
// that example_client can be tried without an SGX deployment. Both
// services share one listener.
package main

import (
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"

	tc "github.com/kwonalbert/teaclave_client"
	"github.com/kwonalbert/teaclave_client/teaclavetest"
)

var (
	port     = pflag.String("port", "7777", "Port of this server")
	tlsKey   = pflag.String("tlsKey", "", "PEM encoded TLS private key of the server; serve without TLS if empty")
	tlsPub   = pflag.String("tlsPub", "", "PEM encoded TLS certificate of the server")
	logLevel = pflag.String("log", "info", "Log level")
)

func main() {
	pflag.Parse()

	logger, err := tc.NewLogger(tc.LogConfiguration{Level: *logLevel, Format: "console"})
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	var opts []grpc.ServerOption
	if *tlsKey != "" {
		creds, err := credentials.NewServerTLSFromFile(*tlsPub, *tlsKey)
		if err != nil {
			logger.Fatal("Could not parse the TLS certificates", zap.Error(err))
		}
		opts = append(opts, grpc.Creds(creds))
	}

	service := teaclavetest.NewService(teaclavetest.WithLogger(logger))
	srv := grpc.NewServer(opts...)
	service.RegisterGRPC(srv)

	lis, err := net.Listen("tcp", ":"+*port)
	if err != nil {
		logger.Fatal("Could not listen", zap.String("port", *port), zap.Error(err))
	}

	go func() {
		err = srv.Serve(lis)
		if err != nil && err != grpc.ErrServerStopped {
			logger.Fatal("Serve err", zap.Error(err))
		}
	}()
	logger.Info("Serving", zap.String("port", *port))

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs
	srv.GracefulStop()
}
