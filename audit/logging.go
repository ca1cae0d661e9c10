package audit

import (
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/zalando/routekeeper/heap"
)

const (
	LoggingName  = "LoggingAuditService"
	DefaultTopic = "audit"

	dateFormat      = "02/Jan/2006:15:04:05 -0700"
	commonLogFormat = `%s - - [%s] "%s %s %s" %d %d`
	// format:
	// remote_host - - [date] "method uri protocol" status response_size "referer" "user_agent"
	combinedLogFormat = commonLogFormat + ` "%s" "%s"`
	// extended with the duration in ms, the requested host, the topic and
	// the route id
	auditLogFormat = combinedLogFormat + " %d %s %s %s\n"
)

type auditLogFormatter struct {
	format string
}

// LoggingService writes the audit events in Apache combined log format,
// extended with the duration, the requested host, the topic and the route.
type LoggingService struct {
	topic string
	log   *logrus.Logger
}

func (f *auditLogFormatter) Format(e *logrus.Entry) ([]byte, error) {
	keys := []string{
		"host", "timestamp", "method", "uri", "proto",
		"status", "response-size", "referer", "user-agent",
		"duration", "requested-host", "topic", "route"}

	values := make([]interface{}, len(keys))
	for i, key := range keys {
		values[i] = e.Data[key]
	}

	return []byte(fmt.Sprintf(f.format, values...)), nil
}

// strip port from addresses with hostname, ipv4 or ipv6
func stripPort(address string) string {
	if h, _, err := net.SplitHostPort(address); err == nil {
		return h
	}

	return address
}

// The remote address of the client. When the 'X-Forwarded-For'
// header is set, then it is used instead.
func remoteHost(r *http.Request) string {
	a := r.Header.Get("X-Forwarded-For")
	if a == "" {
		a = r.RemoteAddr
	}

	if h := stripPort(a); h != "" {
		return h
	}

	return "-"
}

// NewLoggingService creates an audit service writing to out. When out is
// nil, stderr is used. With jsonEnabled the events are written as logrus
// JSON entries.
func NewLoggingService(topic string, out io.Writer, jsonEnabled bool) *LoggingService {
	if topic == "" {
		topic = DefaultTopic
	}

	if out == nil {
		out = os.Stderr
	}

	l := logrus.New()
	l.SetOutput(out)
	l.SetLevel(logrus.InfoLevel)
	if jsonEnabled {
		l.SetFormatter(&logrus.JSONFormatter{TimestampFormat: dateFormat, DisableTimestamp: true})
	} else {
		l.SetFormatter(&auditLogFormatter{format: auditLogFormat})
	}

	return &LoggingService{topic: topic, log: l}
}

// Topic returns the topic of the service.
func (s *LoggingService) Topic() string { return s.topic }

func (s *LoggingService) Publish(e Event) {
	host := "-"
	method := ""
	uri := ""
	proto := ""
	referer := ""
	userAgent := ""
	requestedHost := ""

	if e.Request != nil {
		host = remoteHost(e.Request)
		method = e.Request.Method
		uri = e.Request.RequestURI
		if uri == "" && e.Request.URL != nil {
			uri = e.Request.URL.RequestURI()
		}

		proto = e.Request.Proto
		referer = e.Request.Referer()
		userAgent = e.Request.UserAgent()
		requestedHost = e.Request.Host
	}

	s.log.WithFields(logrus.Fields{
		"timestamp":      e.Time.Format(dateFormat),
		"host":           host,
		"method":         method,
		"uri":            uri,
		"proto":          proto,
		"referer":        referer,
		"user-agent":     userAgent,
		"status":         e.Status,
		"response-size":  e.Size,
		"requested-host": requestedHost,
		"duration":       int64(e.Duration / time.Millisecond),
		"topic":          s.topic,
		"route":          e.RouteID,
	}).Infoln()
}

type loggingSpec struct{}

// NewLoggingSpec returns the heap spec of the logging audit service.
//
// Config:
//
//	{"topic": "payments", "json": false}
func NewLoggingSpec() heap.Spec { return loggingSpec{} }

func (loggingSpec) Name() string { return LoggingName }

func (loggingSpec) Create(_ *heap.Heap, config json.RawMessage) (any, error) {
	var c struct {
		Topic string `json:"topic"`
		JSON  bool   `json:"json"`
	}

	if err := json.Unmarshal(config, &c); err != nil {
		return nil, err
	}

	return NewLoggingService(c.Topic, nil, c.JSON), nil
}
