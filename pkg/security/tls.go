package security

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"

	"github.com/c360/pjstream/errors"
)

// LoadServerTLSConfig builds the tls.Config for a listener, or nil when
// TLS is disabled so callers can hand it straight to their server.
func LoadServerTLSConfig(cfg ServerTLSConfig) (*tls.Config, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
	if err != nil {
		return nil, errors.WrapFatal(err, "security", "LoadServerTLSConfig", "load certificate")
	}

	tlsConfig := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   minTLSVersion(cfg.MinVersion),
	}
	if !cfg.MTLS.Enabled {
		return tlsConfig, nil
	}

	clientCAs := x509.NewCertPool()
	if err := poolFromFiles(clientCAs, cfg.MTLS.ClientCAFiles, "LoadServerTLSConfig"); err != nil {
		return nil, err
	}
	tlsConfig.ClientCAs = clientCAs

	tlsConfig.ClientAuth = tls.VerifyClientCertIfGiven
	if cfg.MTLS.RequireClientCert {
		tlsConfig.ClientAuth = tls.RequireAndVerifyClientCert
	}
	if len(cfg.MTLS.AllowedClientCNs) > 0 {
		tlsConfig.VerifyPeerCertificate = requireClientCN(cfg.MTLS.AllowedClientCNs)
	}

	return tlsConfig, nil
}

// LoadClientTLSConfig builds the tls.Config for outbound dials. The
// system CA bundle is trusted first and cfg.CAFiles extend it.
func LoadClientTLSConfig(cfg ClientTLSConfig) (*tls.Config, error) {
	rootCAs, err := x509.SystemCertPool()
	if err != nil {
		rootCAs = x509.NewCertPool()
	}
	if err := poolFromFiles(rootCAs, cfg.CAFiles, "LoadClientTLSConfig"); err != nil {
		return nil, err
	}

	tlsConfig := &tls.Config{
		MinVersion:         minTLSVersion(cfg.MinVersion),
		RootCAs:            rootCAs,
		InsecureSkipVerify: cfg.InsecureSkipVerify,
	}

	if cfg.MTLS.Enabled {
		cert, err := tls.LoadX509KeyPair(cfg.MTLS.CertFile, cfg.MTLS.KeyFile)
		if err != nil {
			return nil, errors.WrapFatal(err, "security", "LoadClientTLSConfig",
				"load client certificate")
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	return tlsConfig, nil
}

// poolFromFiles appends every PEM file to the pool. The operation name
// keeps the wrapped errors attributable to the loader that failed.
func poolFromFiles(pool *x509.CertPool, files []string, operation string) error {
	for _, file := range files {
		pemBytes, err := os.ReadFile(file)
		if err != nil {
			return errors.WrapFatal(err, "security", operation,
				fmt.Sprintf("read CA file %s", file))
		}
		if !pool.AppendCertsFromPEM(pemBytes) {
			return errors.WrapFatal(fmt.Errorf("no certificates found in %s", file),
				"security", operation, "parse CA certificate")
		}
	}
	return nil
}

// requireClientCN returns a VerifyPeerCertificate callback that accepts
// only leaf certificates whose common name is in allowed. It runs after
// chain verification, so the chain itself is already trusted.
func requireClientCN(allowed []string) func([][]byte, [][]*x509.Certificate) error {
	return func(_ [][]byte, chains [][]*x509.Certificate) error {
		if len(chains) == 0 {
			return fmt.Errorf("no verified certificate chains")
		}
		cn := chains[0][0].Subject.CommonName
		for _, name := range allowed {
			if cn == name {
				return nil
			}
		}
		return fmt.Errorf("client certificate CN %q not in allowed list", cn)
	}
}

// minTLSVersion maps the config strings to crypto/tls constants,
// defaulting to TLS 1.2 for anything unrecognized.
func minTLSVersion(version string) uint16 {
	if version == "1.3" {
		return tls.VersionTLS13
	}
	return tls.VersionTLS12
}
