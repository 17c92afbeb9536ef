/*
 * Part of the OpenLI collector.
 * SPDX-License-Identifier: GPL-3.0-or-later
 */

// Command openli-collector runs the capture, tracking and export pipeline
// described by the collector configuration: it watches configured flows,
// feeds their bytes through the IMAP/SIP trackers, encodes the resulting
// CC/IRI events and forwards them to whichever mediators have announced
// themselves.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/openli-go/openli/internal/capture"
	"github.com/openli-go/openli/internal/config"
	"github.com/openli-go/openli/internal/encoder"
	"github.com/openli-go/openli/internal/exporter"
	"github.com/openli-go/openli/internal/liid"
	"github.com/openli-go/openli/internal/logging"
	"github.com/openli-go/openli/internal/mediator"
	"github.com/openli-go/openli/internal/metrics"
	"github.com/openli-go/openli/internal/wire"
)

func main() {
	cfgPath := flag.String("config", "/etc/openli/collector-config.yaml", "path to collector config file")
	flag.Parse()

	cfg, err := config.LoadCollector(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "openli-collector: %v\n", err)
		os.Exit(1)
	}

	lg, err := openLogger(cfg.Logging.LogFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "openli-collector: opening log: %v\n", err)
		os.Exit(1)
	}
	if err := lg.SetLevelString(cfg.Logging.LogLevel); err != nil {
		lg.Warnf("invalid log_level %q, leaving at current level: %v", cfg.Logging.LogLevel, err)
	}

	go func() {
		if err := metrics.Serve(cfg.MetricsListen); err != nil {
			lg.Errorf("metrics server exited: %v", err)
		}
	}()

	reg := mediator.New(lg, cfg.MaxUnannouncedBufferBytes, spillDirFor(*cfgPath))
	tbl := liid.New()
	// Statically configured watches stand in for INTERCEPT_DETAILS from a
	// provisioner, so their LIIDs are registered before the loop starts.
	for _, w := range cfg.Watches {
		tbl.Add(w.LIID, w.AuthCC, w.DelivCC)
	}
	enc := encoder.New(encoder.HeaderTemplate{
		OperatorID:    cfg.OperatorID,
		NetworkElemID: cfg.NetworkElemID,
		IntPointID:    cfg.InterceptPointID,
	}, encoder.TLVCodec{})
	loop := exporter.New(lg, cfg.ExporterQueueSize, reg, tbl, enc)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		loop.Run(gctx)
		// Run also returns on PACKET_FIN; cancel so the collector shuts
		// down instead of waiting for a signal.
		cancel()
		return nil
	})

	var captureWG sync.WaitGroup
	workers, err := startCaptureWorkers(cfg, lg, loop.Queue, group, &captureWG)
	if err != nil {
		lg.Fatalf("starting capture: %v", err)
	}

	// Once every capture source has finished on its own (all configured
	// inputs were pcap:// replays that hit EOF), tell the exporter loop
	// there is nothing left to feed it rather than waiting indefinitely
	// for a signal.
	go func() {
		captureWG.Wait()
		select {
		case loop.Queue <- wire.Message{Kind: wire.MessagePacketFin}:
		case <-gctx.Done():
		}
	}()

	lg.Infof("openli-collector started, %d capture input(s)", len(workers))
	<-gctx.Done()
	lg.Infof("shutting down")
	// Closing each capture handle unblocks its blocking ReadPacketData
	// call so the worker goroutines can return and group.Wait can finish.
	for _, w := range workers {
		w.Close()
	}
	if err := group.Wait(); err != nil {
		lg.Warnf("worker group exited with error: %v", err)
	}
}

func openLogger(logFile string) (*logging.Logger, error) {
	if logFile == "" {
		return logging.New(os.Stderr), nil
	}
	return logging.NewFile(logFile)
}

// spillDirFor derives a per-config spill directory for the mediator
// registry's disk overflow, keeping each collector instance's backlog
// separate when multiple configs share a host.
func spillDirFor(cfgPath string) string {
	base := strings.TrimSuffix(cfgPath, ".yaml")
	base = strings.TrimSuffix(base, ".yml")
	return base + ".spill"
}

// startCaptureWorkers opens one capture.Worker per configured input,
// installs the statically configured watches onto every one of them and
// hands its read loop to group so the collector's top-level shutdown can
// observe capture failures and wait for every worker to actually stop.
// wg reaches zero once every worker's Run has returned, live or offline.
// The per-input URI is either "pcap:<interface>" for a live capture or
// "pcap://<path>" to replay a capture file; every watch is registered on
// every input since the config doesn't pin a watch to a particular capture
// source.
func startCaptureWorkers(cfg *config.CollectorConfig, lg *logging.Logger, queue chan wire.Message, group *errgroup.Group, wg *sync.WaitGroup) ([]*capture.Worker, error) {
	var workers []*capture.Worker
	for _, in := range cfg.Inputs {
		w, label, err := openInput(in.URI, lg, queue)
		if err != nil {
			return workers, fmt.Errorf("input %q: %w", in.URI, err)
		}
		for _, watch := range cfg.Watches {
			target := capture.Target{
				LIID:       watch.LIID,
				CIN:        watch.CIN,
				DestID:     watch.DestID,
				Protocol:   protocolFromString(watch.Protocol),
				ServerIP:   watch.ServerIP,
				ServerPort: watch.ServerPort,
			}
			w.Watch(watch.ClientIP, watch.ClientPort, target)
		}
		worker, workerLabel := w, label
		wg.Add(1)
		group.Go(func() error {
			defer wg.Done()
			if err := worker.Run(); err != nil {
				lg.Errorf("capture on %s stopped: %v", workerLabel, err)
				return err
			}
			return nil
		})
		workers = append(workers, w)
	}
	return workers, nil
}

// openInput dispatches on the input URI's scheme: "pcap://<path>" replays
// a capture file offline, "pcap:<interface>" opens a live capture on the
// named interface.
func openInput(uri string, lg *logging.Logger, queue chan wire.Message) (*capture.Worker, string, error) {
	const filePrefix = "pcap://"
	const livePrefix = "pcap:"
	switch {
	case strings.HasPrefix(uri, filePrefix):
		path := strings.TrimPrefix(uri, filePrefix)
		w, err := capture.OpenOffline(path, lg, queue)
		return w, path, err
	case strings.HasPrefix(uri, livePrefix):
		iface := strings.TrimPrefix(uri, livePrefix)
		w, err := capture.Open(iface, 65535, true, lg, queue)
		return w, iface, err
	default:
		return nil, "", fmt.Errorf("unsupported uri scheme, want pcap:<interface> or pcap://<path>")
	}
}

func protocolFromString(s string) capture.Protocol {
	if strings.EqualFold(s, "sip") {
		return capture.ProtocolSIP
	}
	return capture.ProtocolIMAP
}
