package config

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"gopkg.in/yaml.v2"

	"github.com/zalando/routekeeper"
	"github.com/zalando/routekeeper/heap"
	"github.com/zalando/routekeeper/routedir"
	"github.com/zalando/routekeeper/routing"
)

const (
	defaultAddress              = ":8080"
	defaultSupportListener      = ":9911"
	defaultScanInterval         = "10s"
	defaultApplicationLogLevel  = "INFO"
	defaultApplicationLogPrefix = "[APP]"
)

type Config struct {
	ConfigFile string
	Flags      *flag.FlagSet

	// generic:
	Address         string `yaml:"address"`
	SupportListener string `yaml:"support-listener"`

	// routes:
	InstanceDir        string             `yaml:"instance-dir"`
	RoutesDir          string             `yaml:"routes-dir"`
	ScanIntervalString string             `yaml:"scan-interval"`
	ScanInterval       time.Duration      `yaml:"-"`
	BasePath           string             `yaml:"base-path"`
	DisableAPI         bool               `yaml:"disable-api"`
	DefaultHandler     string             `yaml:"default-handler"`
	HeapFile           string             `yaml:"heap-file"`
	HeapDeclarations   []heap.Declaration `yaml:"-"`
	Properties         *mapFlags          `yaml:"properties"`

	// logging:
	ApplicationLog            string    `yaml:"application-log"`
	ApplicationLogLevel       log.Level `yaml:"-"`
	ApplicationLogLevelString string    `yaml:"application-log-level"`
	ApplicationLogPrefix      string    `yaml:"application-log-prefix"`
	ApplicationLogJSONEnabled bool      `yaml:"application-log-json-enabled"`
}

func NewConfig() *Config {
	cfg := new(Config)
	cfg.Properties = newMapFlags()

	flag := flag.NewFlagSet("", flag.ExitOnError)
	flag.StringVar(&cfg.ConfigFile, "config-file", "", "if provided the flags will be loaded/overwritten by the values on the file (yaml)")

	// generic:
	flag.StringVar(&cfg.Address, "address", defaultAddress, "network address that the gateway should listen on")
	flag.StringVar(&cfg.SupportListener, "support-listener", defaultSupportListener, "network address used for exposing the /metrics endpoint. An empty value disables support endpoint.")

	// routes:
	flag.StringVar(&cfg.InstanceDir, "instance-dir", routekeeper.DefaultInstanceDir(), "instance directory of the gateway, defaults to $"+routekeeper.InstanceDirEnv+" or $HOME/.routekeeper")
	flag.StringVar(&cfg.RoutesDir, "routes-dir", "", "directory of the route files, defaults to config/routes in the instance directory")
	flag.StringVar(&cfg.ScanIntervalString, "scan-interval", defaultScanInterval, "interval of the route directory scans, as a duration or in seconds. Zero, a negative value or one of disabled, never, off, unlimited means a single scan at startup")
	flag.StringVar(&cfg.BasePath, "base-path", routing.DefaultBasePath, "base path of the management API and of the endpoints of the routes")
	flag.BoolVar(&cfg.DisableAPI, "disable-api", false, "disables the management API, the endpoints of the routes are still served")
	flag.StringVar(&cfg.DefaultHandler, "default-handler", "", "handler serving the requests that no route accepts: the name of a shared object, or an inline JSON declaration")
	flag.StringVar(&cfg.HeapFile, "heap-file", "", "JSON file with the declarations of the objects shared by the routes")
	flag.Var(cfg.Properties, "properties", "properties available for expansion in the object configurations, in the format key=value,key=value")

	// logging:
	flag.StringVar(&cfg.ApplicationLog, "application-log", "", "output file for the application log. When not set, /dev/stderr is used")
	flag.StringVar(&cfg.ApplicationLogLevelString, "application-log-level", defaultApplicationLogLevel, "log level for application logs, possible values: PANIC, FATAL, ERROR, WARN, INFO, DEBUG")
	flag.StringVar(&cfg.ApplicationLogPrefix, "application-log-prefix", defaultApplicationLogPrefix, "prefix for each log entry")
	flag.BoolVar(&cfg.ApplicationLogJSONEnabled, "application-log-json-enabled", false, "when this flag is set, log in JSON format is used")

	cfg.Flags = flag
	return cfg
}

// parseReference accepts a heap reference either as JSON, or as the bare
// name of an object.
func parseReference(s string) json.RawMessage {
	if s == "" {
		return nil
	}

	if gjson.Valid(s) {
		return json.RawMessage(s)
	}

	b, _ := json.Marshal(s)
	return b
}

func readHeapFile(name string) ([]heap.Declaration, error) {
	if name == "" {
		return nil, nil
	}

	b, err := os.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("invalid heap file: %w", err)
	}

	var decls []heap.Declaration
	if err := json.Unmarshal(b, &decls); err != nil {
		return nil, fmt.Errorf("invalid heap file %s: %w", name, err)
	}

	for i, d := range decls {
		if d.Name == "" || d.Type == "" {
			return nil, fmt.Errorf("invalid heap file %s: declaration %d requires a name and a type", name, i)
		}
	}

	return decls, nil
}

func validate(c *Config) error {
	_, err := log.ParseLevel(c.ApplicationLogLevelString)
	if err != nil {
		return err
	}

	_, err = routedir.ParseInterval(c.ScanIntervalString)
	if err != nil {
		return err
	}

	if c.DefaultHandler != "" {
		ref := gjson.Parse(string(parseReference(c.DefaultHandler)))
		if !ref.IsObject() && ref.Type != gjson.String {
			return fmt.Errorf("invalid default handler: %s", c.DefaultHandler)
		}
	}

	return nil
}

func (c *Config) Parse() error {
	return c.ParseArgs(os.Args[0], os.Args[1:])
}

func (c *Config) ParseArgs(progname string, args []string) error {
	c.Flags.Init(progname, flag.ExitOnError)
	err := c.Flags.Parse(args)
	if err != nil {
		return err
	}

	// check if arguments were correctly parsed.
	if len(c.Flags.Args()) != 0 {
		return fmt.Errorf("invalid arguments: %s", c.Flags.Args())
	}

	if c.ConfigFile != "" {
		yamlFile, err := os.ReadFile(c.ConfigFile)
		if err != nil {
			return fmt.Errorf("invalid config file: %w", err)
		}

		err = yaml.Unmarshal(yamlFile, c)
		if err != nil {
			return fmt.Errorf("unmarshalling config file error: %w", err)
		}

		// the flags take precedence over the file
		err = c.Flags.Parse(args)
		if err != nil {
			return err
		}
	}

	if err := validate(c); err != nil {
		return err
	}

	c.ApplicationLogLevel, _ = log.ParseLevel(c.ApplicationLogLevelString)
	c.ScanInterval, _ = routedir.ParseInterval(c.ScanIntervalString)

	if c.RoutesDir == "" {
		c.RoutesDir = filepath.Join(c.InstanceDir, "config", "routes")
	}

	c.HeapDeclarations, err = readHeapFile(c.HeapFile)
	return err
}

func (c *Config) ToOptions() routekeeper.Options {
	return routekeeper.Options{
		// generic:
		Address:         c.Address,
		SupportListener: c.SupportListener,

		// routes:
		RoutesDir:        c.RoutesDir,
		ScanInterval:     c.ScanInterval,
		BasePath:         c.BasePath,
		DisableAPI:       c.DisableAPI,
		DefaultHandler:   parseReference(c.DefaultHandler),
		HeapDeclarations: c.HeapDeclarations,
		Properties:       c.Properties.values,

		// logging:
		ApplicationLog:            c.ApplicationLog,
		ApplicationLogLevel:       c.ApplicationLogLevel,
		ApplicationLogPrefix:      c.ApplicationLogPrefix,
		ApplicationLogJSONEnabled: c.ApplicationLogJSONEnabled,
	}
}
