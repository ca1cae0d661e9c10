package logging

import (
	"github.com/sirupsen/logrus"
)

// DefaultLog provides a default implementation of the Logger interface.
type DefaultLog struct {
	entry *logrus.Entry
}

// Logger instances provide custom logging.
type Logger interface {

	// Log with level ERROR
	Error(...interface{})

	// Log formatted messages with level ERROR
	Errorf(string, ...interface{})

	// Log with level WARN
	Warn(...interface{})

	// Log formatted messages with level WARN
	Warnf(string, ...interface{})

	// Log with level INFO
	Info(...interface{})

	// Log formatted messages with level INFO
	Infof(string, ...interface{})

	// Log with level DEBUG
	Debug(...interface{})

	// Log formatted messages with level DEBUG
	Debugf(string, ...interface{})
}

func (dl *DefaultLog) Error(a ...interface{})            { dl.entry.Error(a...) }
func (dl *DefaultLog) Errorf(f string, a ...interface{}) { dl.entry.Errorf(f, a...) }
func (dl *DefaultLog) Warn(a ...interface{})             { dl.entry.Warn(a...) }
func (dl *DefaultLog) Warnf(f string, a ...interface{})  { dl.entry.Warnf(f, a...) }
func (dl *DefaultLog) Info(a ...interface{})             { dl.entry.Info(a...) }
func (dl *DefaultLog) Infof(f string, a ...interface{})  { dl.entry.Infof(f, a...) }
func (dl *DefaultLog) Debug(a ...interface{})            { dl.entry.Debug(a...) }
func (dl *DefaultLog) Debugf(f string, a ...interface{}) { dl.entry.Debugf(f, a...) }

// WithFields returns a logger that adds the fields to every entry. The
// receiver is not modified.
func (dl *DefaultLog) WithFields(fields map[string]interface{}) *DefaultLog {
	return &DefaultLog{entry: dl.entry.WithFields(fields)}
}

// New returns a logger writing to the logrus standard logger, so that the
// settings applied by Init take effect.
func New() *DefaultLog {
	return &DefaultLog{entry: logrus.NewEntry(logrus.StandardLogger())}
}

// Component returns a logger tagging its entries with the component name.
func Component(name string) *DefaultLog {
	return New().WithFields(map[string]interface{}{"component": name})
}

// OrDefault returns l, or the standard logger for the component when l is
// nil.
func OrDefault(l Logger, component string) Logger {
	if l != nil {
		return l
	}

	return Component(component)
}
