package main

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

type Logger interface {
	Debug(format string, v ...interface{})
	Info(format string, v ...interface{})
	Warn(format string, v ...interface{})
	Error(format string, v ...interface{})
	Fatal(format string, v ...interface{})
}

type logger struct {
	log *logrus.Logger
}

// make sure it implements Logger
var _ Logger = (*logger)(nil)

// NewLogger returns a Logger writing to stderr at the named level
// (debug, info, warn or error). Unknown names fall back to info.
func NewLogger(level string) Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetFormatter(&lineFormatter{pid: os.Getpid()})
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	l.SetLevel(lvl)
	return &logger{log: l}
}

func (l *logger) Debug(format string, v ...interface{}) {
	l.log.Debugf(format, v...)
}

func (l *logger) Info(format string, v ...interface{}) {
	l.log.Infof(format, v...)
}

func (l *logger) Warn(format string, v ...interface{}) {
	l.log.Warnf(format, v...)
}

func (l *logger) Error(format string, v ...interface{}) {
	l.log.Errorf(format, v...)
}

func (l *logger) Fatal(format string, v ...interface{}) {
	l.log.Fatalf(format, v...)
}

// lineFormatter renders entries as "[time] [pid] [LEVEL] message key=value...".
type lineFormatter struct {
	pid int
}

func (f *lineFormatter) Format(e *logrus.Entry) ([]byte, error) {
	var b bytes.Buffer
	fmt.Fprintf(&b, "[%s] [%d] [%s] %s",
		e.Time.Format("2006-01-02 15:04:05.000"),
		f.pid,
		strings.ToUpper(e.Level.String()),
		strings.TrimRight(e.Message, "\n"))
	for k, v := range e.Data {
		fmt.Fprintf(&b, " %s=%v", k, v)
	}
	b.WriteByte('\n')
	return b.Bytes(), nil
}
