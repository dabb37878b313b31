package connection

import (
	"errors"
	"fmt"
	"net"
)

// ErrorKind classifies transport failures.
type ErrorKind int

const (
	// KindConnect means the peer could not be reached or refused the connection.
	KindConnect ErrorKind = iota + 1
	// KindDNS means the host name could not be resolved.
	KindDNS
	// KindTLSHandshake means the TLS handshake or certificate verification failed.
	KindTLSHandshake
	// KindConnectionLost means an established connection broke or was closed
	// by the peer while a reply was expected.
	KindConnectionLost
)

func (k ErrorKind) String() string {
	switch k {
	case KindConnect:
		return "connect"
	case KindDNS:
		return "dns"
	case KindTLSHandshake:
		return "tls handshake"
	case KindConnectionLost:
		return "connection lost"
	}
	return fmt.Sprintf("ErrorKind(%d)", int(k))
}

// TransportError is a failure of the underlying socket. It is fatal to the
// connection; nothing is retried internally.
type TransportError struct {
	Kind ErrorKind
	Addr string
	Err  error
}

func (e *TransportError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("connection %s: %s", e.Addr, e.Kind)
	}
	return fmt.Sprintf("connection %s: %s: %v", e.Addr, e.Kind, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ErrClosed is returned by operations on a closed connection.
var ErrClosed = errors.New("connection: use of closed connection")

// IsKind reports whether err is a TransportError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var te *TransportError
	return errors.As(err, &te) && te.Kind == kind
}

func classifyDialError(addr string, err error) error {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return &TransportError{Kind: KindDNS, Addr: addr, Err: err}
	}
	return &TransportError{Kind: KindConnect, Addr: addr, Err: err}
}
