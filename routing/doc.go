/*
Package routing implements the dispatching of the incoming requests to a
continuously updated set of routes.

# Routes

A route is built from a JSON configuration, usually a file of the route
directory. The configuration declares the objects of the route in its
heap, references the handler serving the accepted requests, and
optionally contains a condition, a session manager, an audit service and
the settings of the route monitor:

	{
	    "name": "login",
	    "condition": "request.path == '/login'",
	    "session": "sessions",
	    "monitor": {"enabled": true, "percentiles": [0.5, 0.99]},
	    "heap": [{
	        "name": "sessions",
	        "type": "InMemorySessionManager",
	        "config": {"ttl": "15m"}
	    }],
	    "handler": {
	        "type": "StaticResponseHandler",
	        "config": {"status": 200, "body": "welcome"}
	    }
	}

The references not satisfied by the heap of the route are looked up in
the heap of the router.

# Request Evaluation

The active routes are ordered by their name, or by the custom comparator
of the router. The router asks them in this order whether they accept
the request, and the first one accepting it serves it. A route without a
condition accepts every request. When no route accepts the request, it is
served by the default handler, or answered with 404 Not Found.

# Updating Routes

The router receives the changes of the route directory from the
scanners. The removed files are processed first, then the added ones and
finally the modified ones. An invalid or conflicting route configuration
is logged and rejected, and when it replaces an existing route, the
existing route stays active.

The routes can be changed synchronously, too, through the management
operations Deploy, Update and Undeploy. They persist the changes in the
route directory.

# Route Lifecycle

A new route is started before it is made active, which mounts its
endpoint namespace. A replaced or removed route is destroyed after it
was made inactive: its endpoints are unmounted, unless its replacement
took them over already, and the objects of its heap are closed.
*/
package routing
