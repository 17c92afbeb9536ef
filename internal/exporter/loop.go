/*
 * Part of the OpenLI collector.
 * SPDX-License-Identifier: GPL-3.0-or-later
 */

// Package exporter implements the Exporter Loop: a single-threaded
// cooperative dispatcher over the inbound job queue, driving the mediator
// registry, intercept table and encoder adaptor. Grounded on the donor
// muxer's writeRelayRoutine select loop (die/entry/batch/newConn/ticker),
// generalised from a single upstream relay to OpenLI's typed-message
// dispatch over many mediators.
package exporter

import (
	"context"
	"time"

	"github.com/openli-go/openli/internal/encoder"
	"github.com/openli-go/openli/internal/liid"
	"github.com/openli-go/openli/internal/logging"
	"github.com/openli-go/openli/internal/mediator"
	"github.com/openli-go/openli/internal/metrics"
	"github.com/openli-go/openli/internal/wire"
)

const (
	// reconnectTick is the 1s wake-up timer that drives ConnectAll for
	// destinations with pending buffers.
	reconnectTick = time.Second

	// flagTimeout is the grace window after FLAG_MEDIATORS before
	// PurgeUnconfirmed runs.
	flagTimeout = 10 * time.Second

	// maxMessagesPerDrain bounds how many queue messages are processed
	// before yielding to the timers, per the core loop's draining rule.
	maxMessagesPerDrain = 1000
)

// Loop is one exporter instance: one Registry, one intercept Table, one
// Encoder Adaptor, one inbound queue. Queue is a Go channel standing in for
// the PULL-style inter-process queue described by the core design -- no
// messaging library in this codebase's dependency surface provides that
// primitive, so the substitution is a buffered channel shared by capture
// workers (writers) and this loop (sole reader), preserving
// multi-writer/single-reader/FIFO-per-writer semantics.
type Loop struct {
	Queue    chan wire.Message
	Registry *mediator.Registry
	Table    *liid.Table
	Encoder  *encoder.Adaptor
	lg       *logging.Logger
}

func New(lg *logging.Logger, queueSize int, reg *mediator.Registry, tbl *liid.Table, enc *encoder.Adaptor) *Loop {
	return &Loop{
		Queue:    make(chan wire.Message, queueSize),
		Registry: reg,
		Table:    tbl,
		Encoder:  enc,
		lg:       lg,
	}
}

// Run blocks until ctx is cancelled or a PACKET_FIN message is processed.
// It is the sole goroutine that touches Registry and Table.
func (l *Loop) Run(ctx context.Context) {
	reconnect := time.NewTicker(reconnectTick)
	defer reconnect.Stop()

	var flagTimer *time.Timer
	var flagC <-chan time.Time
	armFlagTimer := func() {
		l.Registry.FlagAll()
		if flagTimer != nil {
			flagTimer.Stop()
		}
		flagTimer = time.NewTimer(flagTimeout)
		flagC = flagTimer.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-reconnect.C:
			l.Registry.ConnectAll()
		case <-flagC:
			l.Registry.PurgeUnconfirmed()
			flagC = nil
		case msg, ok := <-l.Queue:
			if !ok {
				return
			}
			if l.handle(msg, armFlagTimer) {
				return
			}
			// drain up to maxMessagesPerDrain-1 more before yielding back
			// to the timers, matching the bounded-drain rule.
		drain:
			for i := 1; i < maxMessagesPerDrain; i++ {
				select {
				case msg, ok := <-l.Queue:
					if !ok {
						return
					}
					if l.handle(msg, armFlagTimer) {
						return
					}
				default:
					break drain
				}
			}
		}
	}
}

// handle processes one message, arming the flag timer via arm when the
// message is FLAG_MEDIATORS, and reports whether the loop should exit.
func (l *Loop) handle(msg wire.Message, arm func()) bool {
	if msg.Kind == wire.MessageFlagMediators {
		arm()
		return false
	}
	return l.dispatch(msg)
}

// dispatch processes one message and reports whether the loop should exit
// (PACKET_FIN).
func (l *Loop) dispatch(msg wire.Message) (exit bool) {
	switch msg.Kind {
	case wire.MessageMediator:
		if msg.Mediator != nil {
			l.Registry.Announce(*msg.Mediator)
		}
	case wire.MessageDropSingleMediator:
		if msg.Mediator != nil {
			if err := l.Registry.Drop(msg.Mediator.MediatorID); err != nil && l.lg != nil {
				l.lg.Warnf("drop unknown mediator %d: %v", msg.Mediator.MediatorID, err)
			}
		}
	case wire.MessageDropAllMediators:
		l.Registry.DropAll()
	case wire.MessageInterceptDetails:
		if msg.Intercept != nil {
			l.Table.Add(msg.Intercept.LIID, msg.Intercept.AuthCC, msg.Intercept.DelivCC)
		}
	case wire.MessageInterceptOver:
		if msg.Intercept != nil {
			if err := l.Table.End(msg.Intercept.LIID); err != nil && l.lg != nil {
				l.lg.Warnf("end unknown intercept %s: %v", msg.Intercept.LIID, err)
			}
		}
	case wire.MessageIPCC, wire.MessageIPMMCC:
		l.dispatchCC(msg.Job)
	case wire.MessageIPIRI, wire.MessageIPMMIRI:
		l.dispatchIRI(msg.Job)
	case wire.MessagePacketFin:
		return true
	}
	return false
}

func (l *Loop) dispatchCC(job *wire.Job) {
	if job == nil {
		return
	}
	ic, ok := l.Table.Get(job.LIID)
	if !ok {
		metrics.JobsDropped.WithLabelValues("unknown_liid").Inc()
		if job.Release != nil {
			job.Release()
		}
		if l.lg != nil {
			l.lg.Warnf("dropping %s job: unknown liid %q", job.Kind, job.LIID)
		}
		return
	}
	seq := ic.Counter(job.CIN)
	rec, err := l.Encoder.EncodeCC(ic, seq, job)
	if err != nil {
		metrics.EncoderFailures.Inc()
		if l.lg != nil {
			l.lg.Errorf("encode %s for liid %q cin %d: %v", job.Kind, job.LIID, job.CIN, err)
		}
		return
	}
	if err := l.Registry.Forward(job.DestID, rec); err != nil && l.lg != nil {
		l.lg.Warnf("forward to mediator %d failed, buffering: %v", job.DestID, err)
	}
}

func (l *Loop) dispatchIRI(job *wire.Job) {
	if job == nil {
		return
	}
	ic, ok := l.Table.Get(job.LIID)
	if !ok {
		metrics.JobsDropped.WithLabelValues("unknown_liid").Inc()
		if l.lg != nil {
			l.lg.Warnf("dropping %s job: unknown liid %q", job.Kind, job.LIID)
		}
		return
	}
	seq := ic.Counter(job.CIN)
	recs, err := l.Encoder.EncodeIRI(ic, seq, job)
	if err != nil {
		metrics.EncoderFailures.Inc()
		if l.lg != nil {
			l.lg.Errorf("encode %s for liid %q cin %d: %v", job.Kind, job.LIID, job.CIN, err)
		}
	}
	for _, rec := range recs {
		if err := l.Registry.Forward(job.DestID, rec); err != nil && l.lg != nil {
			l.lg.Warnf("forward to mediator %d failed, buffering: %v", job.DestID, err)
		}
	}
}
