/*
 * Part of the OpenLI collector.
 * SPDX-License-Identifier: GPL-3.0-or-later
 */

// Package logging provides the structured logger shared by the collector,
// mediator and provisioner binaries.
package logging

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/crewjam/rfc5424"
)

type Level int

const (
	OFF Level = iota
	DEBUG
	INFO
	WARN
	ERROR
	CRITICAL
	FATAL
)

const (
	callDepth = 3
	defaultID = `openli@1`
)

var (
	ErrNotOpen      = errors.New("logger is not open")
	ErrInvalidLevel = errors.New("invalid log level")
)

// Logger wraps one or more io.WriteClosers with RFC5424-framed output and a
// level filter. A single Logger is shared across goroutines in a process;
// all public methods are safe for concurrent use.
type Logger struct {
	hostname string
	appname  string

	mtx  sync.Mutex
	wtrs []io.WriteCloser
	lvl  Level
	hot  bool
}

// New creates a logger writing to wtr at level INFO.
func New(wtr io.WriteCloser) *Logger {
	l := &Logger{
		wtrs: []io.WriteCloser{wtr},
		lvl:  INFO,
		hot:  true,
	}
	l.guessIdentity()
	return l
}

// NewFile opens (or creates) f in append mode and wraps it in a Logger.
func NewFile(f string) (*Logger, error) {
	fout, err := os.OpenFile(f, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0640)
	if err != nil {
		return nil, err
	}
	return New(fout), nil
}

// NewDiscardLogger returns a Logger that throws away everything written to
// it; useful for tests that construct components requiring a non-nil
// logger but don't care about its output.
func NewDiscardLogger() *Logger {
	return New(discardCloser{})
}

func (l *Logger) guessIdentity() {
	if h, err := os.Hostname(); err == nil {
		l.hostname = h
	}
	if len(os.Args) > 0 {
		exe := filepath.Base(os.Args[0])
		if ext := filepath.Ext(exe); len(ext) > 0 && len(ext) < len(exe) {
			exe = strings.TrimSuffix(exe, ext)
		}
		l.appname = exe
	}
}

func (l *Logger) ready() error {
	if !l.hot || len(l.wtrs) == 0 {
		return ErrNotOpen
	}
	return nil
}

// AddWriter adds an additional destination; every subsequent log line goes
// to all registered writers.
func (l *Logger) AddWriter(wtr io.WriteCloser) error {
	if wtr == nil {
		return errors.New("nil writer")
	}
	l.mtx.Lock()
	defer l.mtx.Unlock()
	if err := l.ready(); err != nil {
		return err
	}
	l.wtrs = append(l.wtrs, wtr)
	return nil
}

func (l *Logger) Close() (err error) {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	if e := l.ready(); e != nil {
		return e
	}
	l.hot = false
	for _, w := range l.wtrs {
		if e := w.Close(); e != nil {
			err = e
		}
	}
	return
}

func (l *Logger) SetLevel(lvl Level) error {
	if !lvl.Valid() {
		return ErrInvalidLevel
	}
	l.mtx.Lock()
	l.lvl = lvl
	l.mtx.Unlock()
	return nil
}

func (l *Logger) SetLevelString(s string) error {
	lvl, err := LevelFromString(s)
	if err != nil {
		return err
	}
	return l.SetLevel(lvl)
}

func (l *Logger) Debugf(f string, args ...interface{}) { l.outputf(DEBUG, f, args...) }
func (l *Logger) Infof(f string, args ...interface{})  { l.outputf(INFO, f, args...) }
func (l *Logger) Warnf(f string, args ...interface{})  { l.outputf(WARN, f, args...) }
func (l *Logger) Errorf(f string, args ...interface{}) { l.outputf(ERROR, f, args...) }

// Criticalf logs at CRITICAL; used for conditions the operator must see but
// that do not warrant aborting the process (export buffer overflow).
func (l *Logger) Criticalf(f string, args ...interface{}) { l.outputf(CRITICAL, f, args...) }

// Fatalf logs at FATAL and terminates the process. The binaries use it for
// start-up failures they cannot continue past (opening capture inputs or
// listeners).
func (l *Logger) Fatalf(f string, args ...interface{}) {
	l.outputf(FATAL, f, args...)
	os.Exit(1)
}

// KV logs a structured message with key/value fields, for call sites where
// attaching identifiers (liid, mediatorid, cin) matters more than a
// human-readable sentence.
func (l *Logger) KV(lvl Level, msg string, kv ...rfc5424.SDParam) {
	l.outputStructured(lvl, msg, kv...)
}

func (l *Logger) outputf(lvl Level, f string, args ...interface{}) {
	if !l.enabled(lvl) {
		return
	}
	l.write(lvl, fmt.Sprintf(f, args...), nil)
}

func (l *Logger) outputStructured(lvl Level, msg string, sds ...rfc5424.SDParam) {
	if !l.enabled(lvl) {
		return
	}
	l.write(lvl, msg, sds)
}

// enabled reports whether lvl passes the current level filter, reading the
// level under mtx since SetLevel may change it concurrently.
func (l *Logger) enabled(lvl Level) bool {
	l.mtx.Lock()
	cur := l.lvl
	l.mtx.Unlock()
	return cur != OFF && lvl >= cur
}

func (l *Logger) write(lvl Level, msg string, sds []rfc5424.SDParam) {
	ts := time.Now()
	m := rfc5424.Message{
		Priority:  lvl.priority(),
		Timestamp: ts,
		Hostname:  trim(255, l.hostname),
		AppName:   trim(48, l.appname),
		MessageID: trim(32, callLoc()),
		Message:   []byte(msg),
	}
	if len(sds) > 0 {
		m.StructuredData = []rfc5424.StructuredData{{ID: defaultID, Parameters: sds}}
	}
	b, err := m.MarshalBinary()
	if err != nil {
		return
	}
	l.mtx.Lock()
	defer l.mtx.Unlock()
	if l.ready() != nil {
		return
	}
	for _, w := range l.wtrs {
		w.Write(b)
		io.WriteString(w, "\n")
	}
}

func callLoc() string {
	if _, file, line, ok := runtime.Caller(callDepth); ok {
		dir, file := filepath.Split(file)
		return fmt.Sprintf("%s:%d", filepath.Join(filepath.Base(dir), file), line)
	}
	return ""
}

func trim(n int, s string) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func (l Level) String() string {
	switch l {
	case OFF:
		return "OFF"
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	case CRITICAL:
		return "CRITICAL"
	case FATAL:
		return "FATAL"
	}
	return "UNKNOWN"
}

func (l Level) Valid() bool {
	return l >= OFF && l <= FATAL
}

func (l Level) priority() rfc5424.Priority {
	switch l {
	case DEBUG:
		return rfc5424.User | rfc5424.Debug
	case INFO:
		return rfc5424.User | rfc5424.Info
	case WARN:
		return rfc5424.User | rfc5424.Warning
	case ERROR:
		return rfc5424.User | rfc5424.Error
	case CRITICAL:
		return rfc5424.User | rfc5424.Crit
	case FATAL:
		return rfc5424.User | rfc5424.Emergency
	}
	return rfc5424.User | rfc5424.Debug
}

func LevelFromString(s string) (Level, error) {
	switch strings.ToUpper(s) {
	case "OFF":
		return OFF, nil
	case "DEBUG":
		return DEBUG, nil
	case "INFO":
		return INFO, nil
	case "WARN":
		return WARN, nil
	case "ERROR":
		return ERROR, nil
	case "CRITICAL":
		return CRITICAL, nil
	case "FATAL":
		return FATAL, nil
	}
	return OFF, ErrInvalidLevel
}

type discardCloser struct{}

func (discardCloser) Write(b []byte) (int, error) { return len(b), nil }
func (discardCloser) Close() error                { return nil }
