/*
Package routekeeper provides an HTTP gateway whose routes are loaded from a
directory of JSON files, and updated at runtime without restarting.

Each file in the route directory describes a single route: an optional
condition selecting the requests, the handler serving them, and the
objects the handler is made of. The directory is scanned periodically,
and the added, modified and removed files are applied to the active
routes, which are asked in order whether they accept a request.

Route configuration

	{
	    "name": "backend",
	    "condition": "request.path:find('^/api/') ~= nil",
	    "monitor": true,
	    "heap": [{
	        "name": "proxy",
	        "type": "ReverseProxyHandler",
	        "config": {"baseURI": "http://localhost:9090"}
	    }],
	    "handler": "proxy"
	}

The routes can be managed over HTTP, too, under /_router/routes. The
changes made this way are persisted in the route directory.

The routekeeper command starts the gateway with the options parsed from
the command line or from a YAML file, see the config package.
*/
package routekeeper
