package lwm2m

import "github.com/sirupsen/logrus"

// Logger is the same minimal logging seam the teacher exposes on
// CoAPHTTP/Observations (coap_http.go, coap_observe.go): optional, since
// constructors given a nil Logger fall back to DefaultLogger, and any
// logrus-compatible type satisfies it without an adapter.
type Logger interface {
	Printf(format string, v ...interface{})
}

// logrusLogger adapts a *logrus.Entry to the Logger interface.
type logrusLogger struct {
	entry *logrus.Entry
}

func (l *logrusLogger) Printf(format string, v ...interface{}) {
	l.entry.Printf(format, v...)
}

// NewLogrusLogger wraps a logrus.FieldLogger as a Logger.
func NewLogrusLogger(log logrus.FieldLogger) Logger {
	entry, ok := log.(*logrus.Entry)
	if !ok {
		entry = logrus.NewEntry(logrus.StandardLogger())
	}
	return &logrusLogger{entry: entry}
}

// DefaultLogger is used by package-level helpers (e.g. Registry's ignored
// user_delete_cb error log) when no per-Context logger is reachable, and by
// constructors given a nil Logger. It writes to logrus's standard logger.
var DefaultLogger Logger = NewLogrusLogger(logrus.StandardLogger())
