// Package tls builds crypto/tls configurations for the collector (server
// side) and the agent's HTTP transport (client side).
package tls

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	tlsCaCrt = "tls_ca.crt"
	tlsCrt   = "tls.crt"
	tlsKey   = "tls.key"
)

// Config describes where certificates come from. Server-side fields are
// CertFile/KeyFile or Dir (+AutoGenerate); client-side fields are CAFile
// and InsecureSkipVerify.
type Config struct {
	Enabled      bool   `toml:"enabled" mapstructure:"enabled"`
	CertFile     string `toml:"certFile" mapstructure:"certFile"`
	KeyFile      string `toml:"keyFile" mapstructure:"keyFile"`
	Dir          string `toml:"dir" mapstructure:"dir"`
	AutoGenerate bool   `toml:"autoGenerate" mapstructure:"autoGenerate"`
	// MinVersion is "1.2" or "1.3" (default).
	MinVersion         string `toml:"minVersion" mapstructure:"minVersion"`
	CAFile             string `toml:"caFile" mapstructure:"caFile"`
	InsecureSkipVerify bool   `toml:"insecureSkipVerify" mapstructure:"insecureSkipVerify"`
}

// parseTLSVersion parses TLS version string and returns the corresponding constant
func parseTLSVersion(ver string) (uint16, error) {
	switch ver {
	case "", "default", "1.3", "TLS1.3", "tls1.3":
		return tls.VersionTLS13, nil
	case "1.2", "TLS1.2", "tls1.2":
		return tls.VersionTLS12, nil
	default:
		return 0, fmt.Errorf("unsupported TLS version %q", ver)
	}
}

// safeReadFile reads file content safely within base directory
func safeReadFile(baseDir, p string) ([]byte, error) {
	clean := filepath.Clean(p)
	if baseDir != "" {
		absBase, _ := filepath.Abs(baseDir)
		absFile, _ := filepath.Abs(clean)
		if !strings.HasPrefix(absFile, absBase+string(filepath.Separator)) && absFile != absBase {
			return nil, errors.New("file path outside of allowed directory")
		}
	}
	return os.ReadFile(clean)
}

// certLoader reloads the key pair on each handshake so rotated files are
// picked up without a restart.
func certLoader(certFile, keyFile string) func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	baseDir := filepath.Dir(certFile)
	return func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
		readCert, err := safeReadFile(baseDir, certFile)
		if err != nil {
			return nil, err
		}
		readKey, err := safeReadFile(filepath.Dir(keyFile), keyFile)
		if err != nil {
			return nil, err
		}
		certificate, err := tls.X509KeyPair(readCert, readKey)
		return &certificate, err
	}
}

// Server returns the collector's TLS config, or nil when TLS is disabled.
// Explicit cert/key files win over Dir; with AutoGenerate a missing pair
// in Dir is created as a self-signed certificate.
func Server(cfg Config) (*tls.Config, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	minVer, err := parseTLSVersion(cfg.MinVersion)
	if err != nil {
		return nil, err
	}

	certPath, keyPath := cfg.CertFile, cfg.KeyFile
	switch {
	case certPath != "" && keyPath != "":
	case cfg.Dir != "":
		certPath = filepath.Join(cfg.Dir, tlsCrt)
		keyPath = filepath.Join(cfg.Dir, tlsKey)
		if cfg.AutoGenerate && !certificatesExist(certPath, keyPath) {
			if err := GenerateSelfSignedCert(CertConfig{
				CommonName: "localhost",
				DNSNames:   []string{"localhost"},
				IPs:        []string{"127.0.0.1", "::1"},
				NotAfter:   time.Now().AddDate(1, 0, 0),
				CertPath:   certPath,
				KeyPath:    keyPath,
				CACertPath: filepath.Join(cfg.Dir, tlsCaCrt),
			}); err != nil {
				return nil, fmt.Errorf("certificate generation failed: %w", err)
			}
		}
	default:
		return nil, errors.New("TLS enabled but no certificate configured")
	}
	if !certificatesExist(certPath, keyPath) {
		return nil, fmt.Errorf("certificate %s or key %s not found", certPath, keyPath)
	}
	return &tls.Config{
		GetCertificate: certLoader(certPath, keyPath),
		MinVersion:     minVer,
	}, nil
}

// Client returns the agent transport's TLS config, or nil when neither a CA
// nor InsecureSkipVerify is set and the system roots apply.
func Client(cfg Config) (*tls.Config, error) {
	if cfg.CAFile == "" && !cfg.InsecureSkipVerify && cfg.MinVersion == "" {
		return nil, nil
	}
	minVer, err := parseTLSVersion(cfg.MinVersion)
	if err != nil {
		return nil, err
	}
	// #nosec G402 InsecureSkipVerify is an explicit opt-in for test collectors
	tc := &tls.Config{MinVersion: minVer, InsecureSkipVerify: cfg.InsecureSkipVerify}
	if cfg.CAFile != "" {
		pem, err := os.ReadFile(filepath.Clean(cfg.CAFile))
		if err != nil {
			return nil, fmt.Errorf("read CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates in %s", cfg.CAFile)
		}
		tc.RootCAs = pool
	}
	return tc, nil
}

// certificatesExist checks if both certificate files exist
func certificatesExist(certPath, keyPath string) bool {
	_, certErr := os.Stat(certPath)
	_, keyErr := os.Stat(keyPath)
	return certErr == nil && keyErr == nil
}
