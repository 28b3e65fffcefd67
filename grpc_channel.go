package teaclave_client

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io/ioutil"

	"github.com/golang/protobuf/ptypes/wrappers"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/metadata"
)

// Metadata keys carrying the credential, as in the reference SDKs.
const (
	MetadataUserID = "id"
	MetadataToken  = "token"
)

// GRPCServiceName is the gRPC service that hosts service. Each Method
// is a unary method of that service taking and returning a
// google.protobuf.BytesValue holding the JSON envelope.
func GRPCServiceName(service Service) string {
	switch service {
	case AuthenticationService:
		return "teaclave.Authentication"
	case FrontendService:
		return "teaclave.Frontend"
	}
	return "teaclave." + string(service)
}

// AttestationVerifier checks the attestation evidence the service
// presents in its TLS certificate against the expected enclave
// measurements (enclaveInfo, a path) and the attestation service root
// certificate (PEM bytes).
type AttestationVerifier interface {
	VerifyAttestation(rawCerts [][]byte, enclaveInfo string, rootCA []byte) error
}

// GRPCDialer opens channels over gRPC and TLS.
//
// With a Verifier, the standard certificate chain check is replaced by
// the verifier, since enclave certificates are self-signed and carry
// the attestation report instead. Without one, the service certificate
// must chain to the endpoint's RootCACert.
type GRPCDialer struct {
	ServerName string
	Verifier   AttestationVerifier

	// Insecure disables TLS altogether. Only meant for simulation mode
	// and tests.
	Insecure bool

	DialOptions []grpc.DialOption
}

func (d *GRPCDialer) Dial(ctx context.Context, service Service, endpoint Endpoint) (Channel, error) {
	if endpoint.Address == "" {
		return nil, errors.New("empty address")
	}

	opts := append([]grpc.DialOption{}, d.DialOptions...)
	if d.Insecure {
		opts = append(opts, grpc.WithInsecure())
	} else {
		config, err := d.tlsConfig(endpoint)
		if err != nil {
			return nil, err
		}
		opts = append(opts, grpc.WithTransportCredentials(credentials.NewTLS(config)))
	}
	// block until the handshake, and with it the attestation, is done
	opts = append(opts, grpc.WithBlock(), grpc.FailOnNonTempDialError(true))

	conn, err := grpc.DialContext(ctx, endpoint.Address, opts...)
	if err != nil {
		return nil, fmt.Errorf("could not connect to %s: %w", endpoint.Address, err)
	}
	return &grpcChannel{
		conn:    conn,
		service: GRPCServiceName(service),
	}, nil
}

func (d *GRPCDialer) tlsConfig(endpoint Endpoint) (*tls.Config, error) {
	config := &tls.Config{
		ServerName: d.ServerName,
		MinVersion: tls.VersionTLS12,
	}

	var rootCA []byte
	if endpoint.RootCACert != "" {
		var err error
		rootCA, err = ioutil.ReadFile(endpoint.RootCACert)
		if err != nil {
			return nil, fmt.Errorf("could not read the root certificate: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(rootCA) {
			return nil, errors.New("no certificate found in " + endpoint.RootCACert)
		}
		config.RootCAs = pool
	}

	if d.Verifier != nil {
		verifier := d.Verifier
		enclaveInfo := endpoint.EnclaveInfo
		config.InsecureSkipVerify = true
		config.VerifyPeerCertificate = func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
			return verifier.VerifyAttestation(rawCerts, enclaveInfo, rootCA)
		}
	}
	return config, nil
}

type grpcChannel struct {
	conn    *grpc.ClientConn
	service string
}

func (c *grpcChannel) Call(ctx context.Context, method Method, request []byte) ([]byte, error) {
	if cred, ok := CredentialFromContext(ctx); ok {
		ctx = metadata.AppendToOutgoingContext(ctx, MetadataUserID, cred.UserID, MetadataToken, cred.Token)
	}

	in := &wrappers.BytesValue{Value: request}
	out := &wrappers.BytesValue{}
	if err := c.conn.Invoke(ctx, "/"+c.service+"/"+string(method), in, out); err != nil {
		return nil, err
	}
	return out.Value, nil
}

func (c *grpcChannel) Close() error {
	return c.conn.Close()
}
