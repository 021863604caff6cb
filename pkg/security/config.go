// Package security holds the TLS configuration shared by every
// listening surface in PJStream. The gateway, the WebSocket transport,
// and the metrics server all accept a Config and turn the relevant
// section into a *tls.Config through the loaders in this package.
package security

// Config is the platform security section of the service configuration.
type Config struct {
	TLS TLSConfig `json:"tls,omitempty"`
}

// TLSConfig splits TLS settings by role. Server covers the listeners
// this process runs, Client covers outbound HTTP and WebSocket dials.
type TLSConfig struct {
	Server ServerTLSConfig `json:"server,omitempty"`
	Client ClientTLSConfig `json:"client,omitempty"`
}

// ServerTLSConfig configures a listening socket. Certificates are
// static files; rotation happens by restarting with new paths.
type ServerTLSConfig struct {
	Enabled    bool   `json:"enabled"`
	CertFile   string `json:"cert_file,omitempty"`
	KeyFile    string `json:"key_file,omitempty"`
	MinVersion string `json:"min_version,omitempty"` // "1.2" (default) or "1.3"

	MTLS ServerMTLSConfig `json:"mtls,omitempty"`
}

// ServerMTLSConfig configures client certificate checks on a listener.
// With RequireClientCert false a presented certificate is still
// verified, but connections without one are let through.
type ServerMTLSConfig struct {
	Enabled           bool     `json:"enabled"`
	ClientCAFiles     []string `json:"client_ca_files,omitempty"`
	RequireClientCert bool     `json:"require_client_cert,omitempty"`
	AllowedClientCNs  []string `json:"allowed_client_cns,omitempty"`
}

// ClientTLSConfig configures outbound dials. The system CA bundle is
// always trusted; CAFiles add private CAs on top of it.
type ClientTLSConfig struct {
	CAFiles            []string `json:"ca_files,omitempty"`
	InsecureSkipVerify bool     `json:"insecure_skip_verify,omitempty"` // development only
	MinVersion         string   `json:"min_version,omitempty"`

	MTLS ClientMTLSConfig `json:"mtls,omitempty"`
}

// ClientMTLSConfig supplies the certificate a client presents when the
// server requests one.
type ClientMTLSConfig struct {
	Enabled  bool   `json:"enabled"`
	CertFile string `json:"cert_file,omitempty"`
	KeyFile  string `json:"key_file,omitempty"`
}
