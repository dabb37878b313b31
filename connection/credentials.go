package connection

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"

	"github.com/banshee-data/lidarlink/internal/fsutil"
)

// Credentials is the client certificate and key used for mutual TLS. The PEM
// material is held in memory; files are only read once when loading.
type Credentials struct {
	CertPEM []byte
	KeyPEM  []byte
	// CAPEM holds the trust anchors for the device certificate. When empty
	// the certificates in CertPEM are trusted.
	CAPEM []byte
}

// NewCredentials builds credentials from in-memory PEM blocks. A single blob
// holding both the certificate and the key may be passed as certPEM with a
// nil keyPEM.
func NewCredentials(certPEM, keyPEM []byte) (*Credentials, error) {
	if keyPEM == nil {
		certPEM, keyPEM = splitPEM(certPEM)
	}
	c := &Credentials{CertPEM: certPEM, KeyPEM: keyPEM}
	if _, err := c.TLSConfig(""); err != nil {
		return nil, err
	}
	return c, nil
}

// LoadCredentials reads a certificate and key from fsys.
func LoadCredentials(fsys fsutil.FileSystem, certFile, keyFile string) (*Credentials, error) {
	certPEM, err := fsys.ReadFile(certFile)
	if err != nil {
		return nil, fmt.Errorf("read certificate: %w", err)
	}
	var keyPEM []byte
	if keyFile != "" {
		keyPEM, err = fsys.ReadFile(keyFile)
		if err != nil {
			return nil, fmt.Errorf("read key: %w", err)
		}
	}
	return NewCredentials(certPEM, keyPEM)
}

// TLSConfig returns a client configuration that presents the certificate and
// requires the server certificate to verify against the trust anchors.
func (c *Credentials) TLSConfig(serverName string) (*tls.Config, error) {
	pair, err := tls.X509KeyPair(c.CertPEM, c.KeyPEM)
	if err != nil {
		return nil, fmt.Errorf("load key pair: %w", err)
	}
	anchors := c.CAPEM
	if len(anchors) == 0 {
		anchors = c.CertPEM
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(anchors) {
		return nil, errors.New("no trust anchors in PEM material")
	}
	return &tls.Config{
		Certificates: []tls.Certificate{pair},
		RootCAs:      pool,
		ServerName:   serverName,
	}, nil
}

func splitPEM(blob []byte) (certs, key []byte) {
	for {
		var block *pem.Block
		block, blob = pem.Decode(blob)
		if block == nil {
			return certs, key
		}
		if block.Type == "CERTIFICATE" {
			certs = append(certs, pem.EncodeToMemory(block)...)
		} else {
			key = append(key, pem.EncodeToMemory(block)...)
		}
	}
}
