package api

import (
	"os"
	"testing"

	"github.com/AlexanderYastrebov/noleak"
	codahale "github.com/rcrowley/go-metrics"
)

func TestMain(m *testing.M) {
	// the route monitors use the global meter arbiter of codahale
	_ = codahale.NewTimer()

	os.Exit(noleak.CheckMain(m))
}
