/*
 * Part of the OpenLI collector.
 * SPDX-License-Identifier: GPL-3.0-or-later
 */

// Command openli-mediator relays encoded PS-PDU records from collectors to
// connected law enforcement agency handovers. It accepts one listener for
// collector connections and one for agency connections, fanning every
// record it reads from any collector out to every currently connected
// agency -- the per-LIID agency routing a real deployment would apply is
// the provisioner's concern, not this relay's.
package main

import (
	"crypto/tls"
	"flag"
	"fmt"
	"net"
	"os"

	"github.com/openli-go/openli/internal/config"
	"github.com/openli-go/openli/internal/logging"
	"github.com/openli-go/openli/internal/metrics"
	"github.com/openli-go/openli/internal/relay"
)

func main() {
	cfgPath := flag.String("config", "/etc/openli/mediator-config.yaml", "path to mediator config file")
	flag.Parse()

	cfg, err := config.LoadMediator(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "openli-mediator: %v\n", err)
		os.Exit(1)
	}

	var lg *logging.Logger
	if cfg.Logging.LogFile == "" {
		lg = logging.New(os.Stderr)
	} else if lg, err = logging.NewFile(cfg.Logging.LogFile); err != nil {
		fmt.Fprintf(os.Stderr, "openli-mediator: opening log: %v\n", err)
		os.Exit(1)
	}
	if err := lg.SetLevelString(cfg.Logging.LogLevel); err != nil {
		lg.Warnf("invalid log_level %q: %v", cfg.Logging.LogLevel, err)
	}

	go func() {
		if err := metrics.Serve(cfg.MetricsListen); err != nil {
			lg.Errorf("metrics server exited: %v", err)
		}
	}()

	hub := relay.NewHub(lg)

	collectorListener, err := listen(cfg.CollectorListen, cfg.TLSCertFile, cfg.TLSKeyFile)
	if err != nil {
		lg.Fatalf("listening for collectors on %s: %v", cfg.CollectorListen, err)
	}
	agencyListener, err := listen(cfg.AgencyListen, cfg.TLSCertFile, cfg.TLSKeyFile)
	if err != nil {
		lg.Fatalf("listening for agencies on %s: %v", cfg.AgencyListen, err)
	}

	go hub.AcceptCollectors(collectorListener)
	go hub.AcceptAgencies(agencyListener)

	lg.Infof("openli-mediator listening for collectors on %s, agencies on %s", cfg.CollectorListen, cfg.AgencyListen)
	select {}
}

// listen opens a plain TCP listener, or a TLS listener when both cert and
// key are configured, matching the donor relay's plain/TLS bind-type split.
func listen(bind, certFile, keyFile string) (net.Listener, error) {
	if certFile == "" && keyFile == "" {
		return net.Listen("tcp", bind)
	}
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("loading tls keypair: %w", err)
	}
	cfg := &tls.Config{MinVersion: tls.VersionTLS12, Certificates: []tls.Certificate{cert}}
	return tls.Listen("tcp", bind, cfg)
}
