// Command lidar-mockup runs a simulated device that replays a recording to
// point cloud subscribers and answers configuration requests.
//
// Usage:
//
//	go run ./cmd/lidar-mockup [flags]
//
// Flags:
//
//	-addr            Listen address (default: 127.0.0.1:8000)
//	-recording       Point cloud recording to replay
//	-loop            Restart the recording at its end
//	-rate            Replay speed relative to the recorded timestamps (0: as fast as possible)
//	-max-frame-rate  Highest frame rate the simulated device reaches
//	-cert, -key, -ca Enable mutual TLS
package main

import (
	"crypto/tls"
	"crypto/x509"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/banshee-data/lidarlink/internal/fsutil"
	"github.com/banshee-data/lidarlink/internal/mockup"
	"github.com/banshee-data/lidarlink/internal/monitoring"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:8000", "Listen address")
	recording := flag.String("recording", "", "Point cloud recording to replay")
	loop := flag.Bool("loop", false, "Loop playback when reaching the end")
	rate := flag.Float64("rate", 1, "Replay speed; 0 sends frames as fast as the client reads")
	maxFrameRate := flag.Float64("max-frame-rate", 10, "Highest frame rate of any scan pattern, in Hz")
	clockOffset := flag.Duration("clock-offset", 0, "Offset added to device timestamps")
	syncAfter := flag.Int("sync-after", 3, "Status polls until time synchronization reports SYNCED (-1: never)")
	statusInterval := flag.Duration("status-interval", time.Second, "Period of status stream updates")
	certFile := flag.String("cert", "", "Server certificate (PEM) for TLS")
	keyFile := flag.String("key", "", "Server key (PEM) for TLS")
	caFile := flag.String("ca", "", "CA certificates (PEM) that sign client certificates")
	flag.Parse()

	opts := mockup.Options{
		FS:             fsutil.OSFileSystem{},
		Recording:      *recording,
		Loop:           *loop,
		Rate:           *rate,
		MaxFrameRate:   *maxFrameRate,
		ClockOffset:    *clockOffset,
		SyncAfterPolls: *syncAfter,
		StatusInterval: *statusInterval,
	}
	if *certFile != "" {
		cfg, err := serverTLS(*certFile, *keyFile, *caFile)
		if err != nil {
			log.Fatalf("Failed to load TLS material: %v", err)
		}
		opts.TLS = cfg
	}

	srv, err := mockup.Listen(*addr, opts)
	if err != nil {
		log.Fatalf("Failed to start mockup: %v", err)
	}
	log.Printf("Simulated device on %s (tls=%v)", srv.Addr(), opts.TLS != nil)
	if *recording != "" {
		log.Printf("Replaying %s (loop=%v, rate=%.2f)", *recording, *loop, *rate)
	} else {
		log.Printf("No recording given; point cloud subscriptions will be rejected")
	}
	monitoring.SetLogger(log.Printf)

	go func() {
		if err := srv.Serve(); err != nil {
			log.Fatalf("Serve: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Printf("Shutting down...")
	if err := srv.Close(); err != nil {
		log.Printf("Close: %v", err)
	}
}

// serverTLS presents cert/key and, when ca is set, requires client
// certificates signed by it.
func serverTLS(cert, key, ca string) (*tls.Config, error) {
	pair, err := tls.LoadX509KeyPair(cert, key)
	if err != nil {
		return nil, err
	}
	cfg := &tls.Config{Certificates: []tls.Certificate{pair}, MinVersion: tls.VersionTLS12}
	if ca != "" {
		pem, err := os.ReadFile(ca)
		if err != nil {
			return nil, err
		}
		pool := x509.NewCertPool()
		pool.AppendCertsFromPEM(pem)
		cfg.ClientCAs = pool
		cfg.ClientAuth = tls.RequireAndVerifyClientCert
	}
	return cfg, nil
}
