/*
This command starts the gateway with the built-in object types.

For the list of command line options, run:

	routekeeper -help

The options can be loaded from a YAML file, too:

	routekeeper -config-file /etc/routekeeper/config.yaml

For details about the route files, see the documentation of the root
routekeeper package.
*/
package main

import (
	log "github.com/sirupsen/logrus"

	"github.com/zalando/routekeeper"
	"github.com/zalando/routekeeper/config"
)

func main() {
	cfg := config.NewConfig()
	if err := cfg.Parse(); err != nil {
		log.Fatalf("Error processing config: %s", err)
	}

	if err := routekeeper.Run(cfg.ToOptions()); err != nil {
		log.Fatal(err)
	}
}
