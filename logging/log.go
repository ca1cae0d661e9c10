package logging

import (
	"io"

	"github.com/sirupsen/logrus"
)

type prefixFormatter struct {
	prefix    string
	formatter logrus.Formatter
}

// Init options for logging.
type Options struct {

	// Prefix for application log entries.
	ApplicationLogPrefix string

	// Output for the application log entries, when nil,
	// os.Stderr is used.
	ApplicationLogOutput io.Writer

	// Minimum level of the application log entries. When not set,
	// INFO is used.
	ApplicationLogLevel logrus.Level

	// When set, log in JSON format is used
	ApplicationLogJSONEnabled bool
}

func (f *prefixFormatter) Format(e *logrus.Entry) ([]byte, error) {
	b, err := f.formatter.Format(e)
	if err != nil {
		return nil, err
	}

	return append([]byte(f.prefix), b...), nil
}

// Init initializes the application log. It changes the settings of the
// logrus standard logger.
func Init(o Options) {
	var formatter logrus.Formatter = &logrus.TextFormatter{FullTimestamp: true}
	if o.ApplicationLogJSONEnabled {
		formatter = &logrus.JSONFormatter{}
	}

	if o.ApplicationLogPrefix != "" {
		formatter = &prefixFormatter{o.ApplicationLogPrefix, formatter}
	}

	logrus.SetFormatter(formatter)

	if o.ApplicationLogOutput != nil {
		logrus.SetOutput(o.ApplicationLogOutput)
	}

	if o.ApplicationLogLevel == 0 {
		o.ApplicationLogLevel = logrus.InfoLevel
	}

	logrus.SetLevel(o.ApplicationLogLevel)
}
