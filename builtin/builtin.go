/*
Package builtin provides the object types that route configurations can
declare in their heaps.

The registry returned by MakeRegistry contains:

	StaticResponseHandler   http.Handler serving a fixed response
	ReverseProxyHandler     http.Handler forwarding to a base URI
	Chain                   http.Handler applying filters before a handler
	HeaderFilter            filters.Filter changing request or response headers
	ThrottleFilter          filters.Filter limiting the request rate per client
	InMemorySessionManager  session.Manager keeping sessions in memory
	LoggingAuditService     audit.Service writing audit events to the log
*/
package builtin

import (
	"github.com/zalando/routekeeper/audit"
	"github.com/zalando/routekeeper/heap"
	"github.com/zalando/routekeeper/session"
)

const (
	StaticResponseName = "StaticResponseHandler"
	ReverseProxyName   = "ReverseProxyHandler"
	ChainName          = "Chain"
	HeaderFilterName   = "HeaderFilter"
	ThrottleFilterName = "ThrottleFilter"
)

// Specs returns the specs of all built-in object types.
func Specs() []heap.Spec {
	return []heap.Spec{
		NewStaticResponse(),
		NewReverseProxy(),
		NewChain(),
		NewHeaderFilter(),
		NewThrottle(),
		session.NewInMemorySpec(),
		audit.NewLoggingSpec(),
	}
}

// MakeRegistry returns a registry with all the built-in object types.
func MakeRegistry() *heap.Registry {
	return heap.NewRegistry(Specs()...)
}
