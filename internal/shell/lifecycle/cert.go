package lifecycle

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"time"

	"github.com/moby/sys/atomicwriter"

	"github.com/artpar/tunnelgate/internal/core/layout"
	"github.com/artpar/tunnelgate/internal/core/params"
)

// CertificateValidity is the lifetime of a generated self-signed certificate.
const CertificateValidity = 825 * 24 * time.Hour

// ensureCertificate writes a self-signed pair unless both files exist.
func (m *Manager) ensureCertificate(p params.Params) error {
	certPath, keyPath := m.layout.Path(layout.CertFile), m.layout.Path(layout.KeyFile)
	if exists(certPath) && exists(keyPath) {
		return nil
	}

	certPEM, keyPEM, err := SelfSignedCertificate(p, m.now())
	if err != nil {
		return err
	}

	// Key first: a cert without its key is never left behind.
	if err := atomicwriter.WriteFile(keyPath, keyPEM, layout.PermSecretFile); err != nil {
		return fmt.Errorf("write %s: %w", layout.KeyFile, err)
	}
	if err := atomicwriter.WriteFile(certPath, certPEM, layout.PermPublicFile); err != nil {
		return fmt.Errorf("write %s: %w", layout.CertFile, err)
	}

	m.logger.Info("self-signed certificate generated", "domain", p.BaseDomain, "expires", m.now().Add(CertificateValidity).Format(time.DateOnly))
	return nil
}

// SelfSignedCertificate returns a PEM certificate and PKCS#8 key covering
// the base domain, its wildcard and the public host.
func SelfSignedCertificate(p params.Params, now time.Time) (certPEM, keyPEM []byte, err error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("generate key: %w", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, nil, fmt.Errorf("generate serial: %w", err)
	}

	tmpl := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: p.BaseDomain, Organization: []string{"tunnelgate"}},
		NotBefore:             now.Add(-time.Hour),
		NotAfter:              now.Add(CertificateValidity),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		DNSNames:              []string{p.BaseDomain, "*." + p.BaseDomain},
	}
	if ip := net.ParseIP(p.PublicHost); ip != nil {
		tmpl.IPAddresses = []net.IP{ip}
	} else if p.PublicHost != "" && p.PublicHost != p.BaseDomain {
		tmpl.DNSNames = append(tmpl.DNSNames, p.PublicHost)
	}

	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		return nil, nil, fmt.Errorf("create certificate: %w", err)
	}
	keyDER, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal key: %w", err)
	}

	certPEM = pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM = pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: keyDER})
	return certPEM, keyPEM, nil
}
