package teaclave_client

import (
	"encoding/json"
	"fmt"
	"io/ioutil"
	"path/filepath"
	"strings"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

type Configuration struct {
	// Address (host:port) of the authentication service.
	AuthenticationAddress string `json:"authentication_address" yaml:"authentication_address"`

	// Address (host:port) of the frontend service.
	FrontendAddress string `json:"frontend_address" yaml:"frontend_address"`

	// Path to the file describing the enclave measurements
	// (MRENCLAVE/MRSIGNER) the services must attest to. Passed to
	// the AttestationVerifier as is.
	EnclaveInfo string `json:"enclave_info" yaml:"enclave_info"`

	// Path to the PEM encoded root certificate of the attestation
	// service.
	RootCACert string `json:"root_ca_cert" yaml:"root_ca_cert"`

	// Overrides the server name used for TLS verification.
	ServerName string `json:"server_name" yaml:"server_name"`

	// If true, connect without TLS. Only for services running in
	// simulation mode.
	Insecure bool `json:"insecure" yaml:"insecure"`

	// The maximum number of frontend sessions the session manager
	// keeps open. If MaxSessions is -1 (or 0), then we allow
	// unlimited number of sessions. Sessions pushed out are closed.
	MaxSessions int `json:"max_sessions" yaml:"max_sessions"`

	Log LogConfiguration `json:"log" yaml:"log"`
}

type LogConfiguration struct {
	// debug, info, warn or error
	Level string `json:"level" yaml:"level"`

	// console or json
	Format string `json:"format" yaml:"format"`

	// stdout, stderr, or file paths
	Outputs []string `json:"outputs" yaml:"outputs"`

	Development bool `json:"development" yaml:"development"`
}

// DefaultConfiguration returns the configuration fields a file may
// leave out.
func DefaultConfiguration() *Configuration {
	return &Configuration{
		MaxSessions: -1,
		Log: LogConfiguration{
			Level:   "info",
			Format:  "console",
			Outputs: []string{"stderr"},
		},
	}
}

// ReadConfiguration parses a configuration file. Files ending in .yaml
// or .yml are read as YAML, anything else as JSON with comments and
// trailing commas allowed.
func ReadConfiguration(fileName string) (*Configuration, error) {
	data, err := ioutil.ReadFile(fileName)
	if err != nil {
		return nil, fmt.Errorf("could not read configuration file: %w", err)
	}

	config := DefaultConfiguration()
	switch strings.ToLower(filepath.Ext(fileName)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, config)
	default:
		err = json.Unmarshal(jsonc.ToJSON(data), config)
	}
	if err != nil {
		return nil, fmt.Errorf("could not decode %s: %w", fileName, err)
	}
	return config, nil
}

func (c *Configuration) AuthenticationEndpoint() Endpoint {
	return Endpoint{
		Address:     c.AuthenticationAddress,
		EnclaveInfo: c.EnclaveInfo,
		RootCACert:  c.RootCACert,
	}
}

func (c *Configuration) FrontendEndpoint() Endpoint {
	return Endpoint{
		Address:     c.FrontendAddress,
		EnclaveInfo: c.EnclaveInfo,
		RootCACert:  c.RootCACert,
	}
}

// Dialer returns a gRPC dialer for the configured services. verifier
// may be nil, in which case the services' certificates must chain to
// RootCACert.
func (c *Configuration) Dialer(verifier AttestationVerifier) *GRPCDialer {
	return &GRPCDialer{
		ServerName: c.ServerName,
		Verifier:   verifier,
		Insecure:   c.Insecure,
	}
}
