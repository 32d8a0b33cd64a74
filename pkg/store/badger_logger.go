package store

import (
	"lol.mleku.dev/log"
)

// badgerLogger adapts badger's four-level Logger interface onto the
// package's structured logger. level gates how much of badger's own
// chatter reaches the log at all; badger is noisy at Debug.
type badgerLogger struct {
	level int
}

const (
	badgerLevelFatal = iota
	badgerLevelError
	badgerLevelWarn
	badgerLevelInfo
	badgerLevelDebug
)

func newBadgerLogger(level int) *badgerLogger { return &badgerLogger{level: level} }

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	if l.level >= badgerLevelError {
		log.E.F(format, args...)
	}
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	if l.level >= badgerLevelWarn {
		log.W.F(format, args...)
	}
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	if l.level >= badgerLevelInfo {
		log.I.F(format, args...)
	}
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	if l.level >= badgerLevelDebug {
		log.D.F(format, args...)
	}
}
