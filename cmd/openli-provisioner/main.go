/*
 * Part of the OpenLI collector.
 * SPDX-License-Identifier: GPL-3.0-or-later
 */

// Command openli-provisioner loads the set of active intercept warrants
// and agency bindings from its config file and pushes them to every
// collector or mediator that connects to its client-facing listener.
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
	"github.com/openli-go/openli/internal/provisioner"
)

func main() {
	cfgPath := flag.String("config", "/etc/openli/provisioner-config.yaml", "path to provisioner config file")
	flag.Parse()

	cfg, err := config.LoadProvisioner(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "openli-provisioner: %v\n", err)
		os.Exit(1)
	}

	var lg *logging.Logger
	if cfg.Logging.LogFile == "" {
		lg = logging.New(os.Stderr)
	} else if lg, err = logging.NewFile(cfg.Logging.LogFile); err != nil {
		fmt.Fprintf(os.Stderr, "openli-provisioner: opening log: %v\n", err)
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

	lst, err := listen(cfg.ClientListen, cfg.TLSCertFile, cfg.TLSKeyFile)
	if err != nil {
		lg.Fatalf("listening on %s: %v", cfg.ClientListen, err)
	}

	srv := provisioner.New(lg, cfg.Intercepts, cfg.Agencies)
	lg.Infof("openli-provisioner serving %d intercept(s) for %d agenc(y/ies) on %s",
		len(cfg.Intercepts), len(cfg.Agencies), cfg.ClientListen)
	srv.Serve(lst)
}

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
