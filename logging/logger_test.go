package logging_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/zalando/routekeeper/logging"
)

func TestLogger(t *testing.T) {
	buf := &bytes.Buffer{}
	logging.Init(logging.Options{
		ApplicationLogOutput: buf,
		ApplicationLogLevel:  logrus.DebugLevel,
	})
	defer logging.Init(logging.Options{})

	log := logging.New()
	for _, tt := range []struct {
		logf func()
		want string
	}{
		{func() { log.Error("error") }, "error"},
		{func() { log.Errorf("errorf: %s", "foo") }, "errorf: foo"},
		{func() { log.Warn("warn") }, "warn"},
		{func() { log.Warnf("warnf: %s", "foo") }, "warnf: foo"},
		{func() { log.Info("info") }, "info"},
		{func() { log.Infof("infof: %s", "foo") }, "infof: foo"},
		{func() { log.Debug("debug") }, "debug"},
		{func() { log.Debugf("debugf: %s", "foo") }, "debugf: foo"},
	} {
		tt.logf()
		s := buf.String()
		buf.Reset()
		if !strings.Contains(s, tt.want) {
			t.Fatalf("want %q, got %q", tt.want, s)
		}
	}
}

func TestWithFieldsDoesNotModifyReceiver(t *testing.T) {
	buf := &bytes.Buffer{}
	logging.Init(logging.Options{ApplicationLogOutput: buf})
	defer logging.Init(logging.Options{})

	base := logging.New()
	tagged := base.WithFields(map[string]interface{}{"route": "login"})

	tagged.Info("tagged")
	if !strings.Contains(buf.String(), "route=login") {
		t.Fatalf("missing field, got %q", buf.String())
	}

	buf.Reset()
	base.Info("plain")
	if strings.Contains(buf.String(), "route=login") {
		t.Fatalf("unexpected field on the base logger, got %q", buf.String())
	}
}

func TestOrDefault(t *testing.T) {
	var l logging.Logger
	if logging.OrDefault(l, "test") == nil {
		t.Fatal("expected default logger")
	}

	custom := logging.New()
	if logging.OrDefault(custom, "test") != custom {
		t.Fatal("expected the passed logger")
	}
}
