/*
Package metrics implements the collection of the route and router metrics.

The per route monitors use the Go implementation of the Coda Hale metrics
library:

https://github.com/dropwizard/metrics

A monitor counts the requests and the responses of a route by status
class, and measures the throughput and the response times. Its current
values are served as JSON on the monitoring endpoint of the route.

The router metrics are exposed in the Prometheus format on the support
listener. They include the number of the active routes, the route builds
and their failures, the rejected routes, the directory changes and the
requests that no route accepted.
*/
package metrics
