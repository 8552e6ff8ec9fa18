package sysprobe

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"strings"
	"time"
)

// X509Inspector inspects certificates either from a PEM file on disk or by
// performing a TLS handshake against host:port. Verification is skipped on
// purpose: the probe reports on whatever certificate is actually served.
type X509Inspector struct {
	Timeout time.Duration
}

// NewX509Inspector returns an inspector with the default tool timeout.
func NewX509Inspector() *X509Inspector {
	return &X509Inspector{Timeout: DefaultToolTimeout}
}

// Inspect resolves the target's leaf certificate.
func (x *X509Inspector) Inspect(ctx context.Context, target string) (*CertInfo, error) {
	if !strings.Contains(target, ":") {
		return x.inspectFile(target)
	}
	if _, err := os.Stat(target); err == nil {
		return x.inspectFile(target)
	}
	return x.inspectRemote(ctx, target)
}

func (x *X509Inspector) inspectFile(path string) (*CertInfo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read certificate file: %w", err)
	}
	block, _ := pem.Decode(data)
	if block == nil || block.Type != "CERTIFICATE" {
		return nil, fmt.Errorf("no CERTIFICATE block in %s", path)
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse certificate %s: %w", path, err)
	}
	return certInfo(cert), nil
}

func (x *X509Inspector) inspectRemote(ctx context.Context, addr string) (*CertInfo, error) {
	timeout := x.Timeout
	if timeout <= 0 {
		timeout = DefaultToolTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	dialer := &tls.Dialer{Config: &tls.Config{InsecureSkipVerify: true}}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("tls dial %s: %w", addr, err)
	}
	defer conn.Close()

	state := conn.(*tls.Conn).ConnectionState()
	if len(state.PeerCertificates) == 0 {
		return nil, fmt.Errorf("no peer certificate from %s", addr)
	}
	return certInfo(state.PeerCertificates[0]), nil
}

func certInfo(cert *x509.Certificate) *CertInfo {
	return &CertInfo{
		Subject:   cert.Subject.String(),
		Issuer:    cert.Issuer.String(),
		NotBefore: cert.NotBefore,
		NotAfter:  cert.NotAfter,
		DNSNames:  cert.DNSNames,
	}
}
