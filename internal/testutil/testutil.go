// Package testutil provides shared test utilities and fixtures.
//
// FakeDevice is a scripted device on a loopback socket. Tests drive it with
// a handler that reads requests and writes responses, which keeps connection
// and stream tests on real sockets without a full device simulation.
package testutil

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/binary"
	"encoding/pem"
	"io"
	"math/big"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/banshee-data/lidarlink/protocol/schema"
)

// AssertNoError fails the test if err is not nil.
func AssertNoError(t testing.TB, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil.
func AssertError(t testing.TB, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

// DeviceConn is the device side of one accepted connection.
type DeviceConn struct {
	net.Conn
}

// ReadFrame reads one length-prefixed message.
func (c *DeviceConn) ReadFrame() ([]byte, error) {
	var prefix [4]byte
	if _, err := io.ReadFull(c, prefix[:]); err != nil {
		return nil, err
	}
	b := make([]byte, binary.LittleEndian.Uint32(prefix[:]))
	if _, err := io.ReadFull(c, b); err != nil {
		return nil, err
	}
	return b, nil
}

// WriteFrame writes one length-prefixed message.
func (c *DeviceConn) WriteFrame(b []byte) error {
	buf := binary.LittleEndian.AppendUint32(make([]byte, 0, 4+len(b)), uint32(len(b)))
	_, err := c.Write(append(buf, b...))
	return err
}

// ReadRequest reads and decodes one request.
func (c *DeviceConn) ReadRequest() (*schema.Request, error) {
	b, err := c.ReadFrame()
	if err != nil {
		return nil, err
	}
	req := &schema.Request{}
	if err := req.Unmarshal(b); err != nil {
		return nil, err
	}
	return req, nil
}

// WriteResponse encodes and writes one response.
func (c *DeviceConn) WriteResponse(resp *schema.Response) error {
	return c.WriteFrame(resp.Marshal())
}

// WriteEvent writes a pushed event.
func (c *DeviceConn) WriteEvent(ev *schema.Event) error {
	return c.WriteResponse(&schema.Response{Kind: schema.ResponseEvent, Event: ev})
}

// FakeDevice accepts connections on a loopback port and runs handle for each
// of them. It is closed automatically when the test ends.
type FakeDevice struct {
	ln     net.Listener
	handle func(*DeviceConn)

	mu    sync.Mutex
	conns []net.Conn
	wg    sync.WaitGroup
}

// NewFakeDevice starts a plain TCP fake device.
func NewFakeDevice(t testing.TB, handle func(*DeviceConn)) *FakeDevice {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	AssertNoError(t, err)
	return startFakeDevice(t, ln, handle)
}

// NewTLSFakeDevice starts a fake device that terminates TLS with cfg.
func NewTLSFakeDevice(t testing.TB, cfg *tls.Config, handle func(*DeviceConn)) *FakeDevice {
	t.Helper()
	ln, err := tls.Listen("tcp", "127.0.0.1:0", cfg)
	AssertNoError(t, err)
	return startFakeDevice(t, ln, handle)
}

func startFakeDevice(t testing.TB, ln net.Listener, handle func(*DeviceConn)) *FakeDevice {
	d := &FakeDevice{ln: ln, handle: handle}
	d.wg.Add(1)
	go d.serve()
	t.Cleanup(d.Close)
	return d
}

func (d *FakeDevice) serve() {
	defer d.wg.Done()
	for {
		c, err := d.ln.Accept()
		if err != nil {
			return
		}
		d.mu.Lock()
		d.conns = append(d.conns, c)
		d.mu.Unlock()

		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			defer c.Close()
			if tc, ok := c.(*tls.Conn); ok {
				if err := tc.Handshake(); err != nil {
					return
				}
			}
			d.handle(&DeviceConn{Conn: c})
		}()
	}
}

// Host is the listening address without port.
func (d *FakeDevice) Host() string { return "127.0.0.1" }

// Port is the listening port.
func (d *FakeDevice) Port() int { return d.ln.Addr().(*net.TCPAddr).Port }

// Addr is host:port.
func (d *FakeDevice) Addr() string { return net.JoinHostPort(d.Host(), strconv.Itoa(d.Port())) }

// Close stops accepting, closes open connections and waits for handlers.
func (d *FakeDevice) Close() {
	d.ln.Close()
	d.mu.Lock()
	for _, c := range d.conns {
		c.Close()
	}
	d.mu.Unlock()
	d.wg.Wait()
}

// Serve answers every request with reply until the peer goes away. A nil
// reply from the function ends the connection.
func Serve(reply func(*schema.Request) *schema.Response) func(*DeviceConn) {
	return func(c *DeviceConn) {
		for {
			req, err := c.ReadRequest()
			if err != nil {
				return
			}
			resp := reply(req)
			if resp == nil {
				return
			}
			if err := c.WriteResponse(resp); err != nil {
				return
			}
		}
	}
}

// SelfSignedPEM generates a self-signed certificate valid for 127.0.0.1 and
// localhost, usable both as server and client certificate.
func SelfSignedPEM(t testing.TB, commonName string) (certPEM, keyPEM []byte) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	AssertNoError(t, err)

	serial, err := rand.Int(rand.Reader, big.NewInt(1<<62))
	AssertNoError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: commonName},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
		IPAddresses:           []net.IP{net.ParseIP("127.0.0.1")},
		DNSNames:              []string{"localhost"},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	AssertNoError(t, err)
	keyDER, err := x509.MarshalECPrivateKey(key)
	AssertNoError(t, err)

	certPEM = pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM = pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})
	return certPEM, keyPEM
}

// ServerTLSConfig presents certPEM/keyPEM and requires clients to present a
// certificate signed by one of clientCAs.
func ServerTLSConfig(t testing.TB, certPEM, keyPEM []byte, clientCAs ...[]byte) *tls.Config {
	t.Helper()
	pair, err := tls.X509KeyPair(certPEM, keyPEM)
	AssertNoError(t, err)
	pool := x509.NewCertPool()
	for _, ca := range clientCAs {
		pool.AppendCertsFromPEM(ca)
	}
	return &tls.Config{
		Certificates: []tls.Certificate{pair},
		ClientAuth:   tls.RequireAndVerifyClientCert,
		ClientCAs:    pool,
		MinVersion:   tls.VersionTLS12,
	}
}
