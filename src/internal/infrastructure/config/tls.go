package config

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// TLSConfig holds TLS configuration for the hosting endpoint. The same
// section serves both sides: the controller presents CertFile/KeyFile and,
// when CAFile is set, requires client certificates signed by it; the
// control side verifies the controller against CAFile and presents
// CertFile/KeyFile as its client certificate when they are set.
type TLSConfig struct {
	Enabled    bool   `yaml:"enabled"`
	CertFile   string `yaml:"cert_file"`
	KeyFile    string `yaml:"key_file"`
	CAFile     string `yaml:"ca_file"`
	ServerName string `yaml:"server_name"`
}

// Validate checks if the TLS configuration is valid.
func (c *TLSConfig) Validate() error {
	if !c.Enabled {
		return nil // TLS disabled, no validation needed
	}

	if (c.CertFile == "") != (c.KeyFile == "") {
		return errors.New("cert and key files must be set together")
	}

	for _, f := range []string{c.CertFile, c.KeyFile, c.CAFile} {
		if f == "" {
			continue
		}
		if _, err := os.Stat(f); err != nil {
			return fmt.Errorf("tls file not found: %s", f)
		}
	}

	return nil
}

// ServerConfig returns the crypto/tls configuration of the hosting
// listener, or nil when TLS is disabled.
func (c *TLSConfig) ServerConfig() (*tls.Config, error) {
	if !c.Enabled {
		return nil, nil
	}
	if c.CertFile == "" || c.KeyFile == "" {
		return nil, errors.New("cert and key files required to serve TLS")
	}

	cert, err := tls.LoadX509KeyPair(c.CertFile, c.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load TLS certificates: %w", err)
	}

	cfg := baseConfig()
	cfg.Certificates = []tls.Certificate{cert}

	if c.CAFile != "" {
		pool, err := loadPool(c.CAFile)
		if err != nil {
			return nil, err
		}
		cfg.ClientCAs = pool
		cfg.ClientAuth = tls.RequireAndVerifyClientCert
	}
	return cfg, nil
}

// ClientConfig returns the crypto/tls configuration used to dial the
// hosting endpoint, or nil when TLS is disabled.
func (c *TLSConfig) ClientConfig() (*tls.Config, error) {
	if !c.Enabled {
		return nil, nil
	}

	cfg := baseConfig()
	cfg.ServerName = c.ServerName

	if c.CAFile != "" {
		pool, err := loadPool(c.CAFile)
		if err != nil {
			return nil, err
		}
		cfg.RootCAs = pool
	}

	if c.CertFile != "" && c.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(c.CertFile, c.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load TLS client certificate: %w", err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	}
	return cfg, nil
}

func baseConfig() *tls.Config {
	return &tls.Config{
		MinVersion: tls.VersionTLS12, // Minimum TLS 1.2
		CipherSuites: []uint16{
			// Prefer modern, secure cipher suites
			tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305,
			tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305,
			tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
		},
		CurvePreferences: []tls.CurveID{
			tls.X25519,
			tls.CurveP256,
		},
	}
}

func loadPool(caFile string) (*x509.CertPool, error) {
	pem, err := os.ReadFile(caFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA file: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("no certificates found in %s", caFile)
	}
	return pool, nil
}

// SetupCertificateDirectory creates dir with restrictive permissions and
// drops a README describing which files the hosting endpoint expects.
func SetupCertificateDirectory(dir string) error {
	// Create directory with secure permissions
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create TLS directory: %w", err)
	}

	readmePath := filepath.Join(dir, "README.md")
	readme := `# TLS Certificate Directory

Place the hosting endpoint certificates in this directory:

- cert.pem: the controller (or control client) certificate
- key.pem: its private key
- ca.pem: the CA used to verify the other side

Then set:
- PROJECT_HOST_TLS_ENABLED=true
- PROJECT_HOST_TLS_CERT=` + filepath.Join(dir, "cert.pem") + `
- PROJECT_HOST_TLS_KEY=` + filepath.Join(dir, "key.pem") + `
- PROJECT_HOST_TLS_CA=` + filepath.Join(dir, "ca.pem") + `
`

	if err := os.WriteFile(readmePath, []byte(readme), 0600); err != nil {
		return fmt.Errorf("failed to create README: %w", err)
	}

	return nil
}
