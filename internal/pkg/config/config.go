// Package config loads the colony layout: devices, the links between them,
// and the runtime settings of the host loop and its outer surfaces.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	log "github.com/sirupsen/logrus"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	"github.com/ohowland/colony_grid/internal/pkg/asset/ess"
	"github.com/ohowland/colony_grid/internal/pkg/asset/feeder"
	"github.com/ohowland/colony_grid/internal/pkg/asset/meter"
	"github.com/ohowland/colony_grid/internal/pkg/asset/pv"
	"github.com/ohowland/colony_grid/internal/pkg/asset/rtg"
)

// Default settings.
const (
	DefaultStep     = 20 * time.Millisecond
	DefaultLogLevel = "info"
)

// Shed policy names.
const (
	ShedMembership    = "membership"
	ShedLargestFirst  = "largest-first"
	ShedSmallestFirst = "smallest-first"
)

// SQL driver names.
const (
	DriverSQLite   = "sqlite"
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("config: invalid")

// Kinds lists every device kind the host can build.
var Kinds = []string{rtg.Kind, pv.Kind, ess.BatteryKind, ess.ChargerKind, feeder.Kind, meter.Kind}

// Config is the colony layout and runtime configuration.
type Config struct {
	LogLevel    string        `yaml:"log_level"`
	Step        time.Duration `yaml:"step"`
	Interval    time.Duration `yaml:"interval"`
	Shed        string        `yaml:"shed"`
	Devices     []Device      `yaml:"devices"`
	Links       [][]string    `yaml:"links"`
	Datastreams Datastreams   `yaml:"datastreams"`
	Webservice  Webservice    `yaml:"webservice"`
}

// Device is one entry of the devices list. The kind-specific fields are kept
// undecoded until the host knows which configuration type to decode into.
type Device struct {
	Name string
	Kind string
	node yaml.Node
}

// UnmarshalYAML records the name and kind and keeps the raw node.
func (d *Device) UnmarshalYAML(value *yaml.Node) error {
	var head struct {
		Name string `yaml:"name"`
		Kind string `yaml:"kind"`
	}
	if err := value.Decode(&head); err != nil {
		return err
	}
	d.Name = head.Name
	d.Kind = head.Kind
	d.node = *value
	return nil
}

// Decode decodes the full device entry into v.
func (d Device) Decode(v interface{}) error {
	if d.node.Kind == 0 {
		return fmt.Errorf("config: device %q has no body", d.Name)
	}
	return d.node.Decode(v)
}

// Datastreams configures the status recorders. An empty section disables its recorder.
type Datastreams struct {
	SQL   SQL   `yaml:"sql"`
	NATS  NATS  `yaml:"nats"`
	Mongo Mongo `yaml:"mongo"`
}

// SQL configures the transition log.
type SQL struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// Enabled reports whether the section is configured.
func (s SQL) Enabled() bool { return s.DSN != "" }

// NATS configures the status publisher.
type NATS struct {
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
}

// Enabled reports whether the section is configured.
func (n NATS) Enabled() bool { return n.URL != "" }

// Mongo configures the latest-status store.
type Mongo struct {
	URI        string `yaml:"uri"`
	Database   string `yaml:"database"`
	Collection string `yaml:"collection"`
}

// Enabled reports whether the section is configured.
func (m Mongo) Enabled() bool { return m.URI != "" }

// Webservice configures the HTTP surface.
type Webservice struct {
	Addr string `yaml:"addr"`
}

// Enabled reports whether the section is configured.
func (w Webservice) Enabled() bool { return w.Addr != "" }

// Load reads and validates the configuration at path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	cfg, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", path, err)
	}
	log.WithField("path", path).Debugf("[Config] loaded %d devices, %d links", len(cfg.Devices), len(cfg.Links))
	return cfg, nil
}

// Parse decodes a configuration, applies defaults and validates it.
func Parse(r io.Reader) (*Config, error) {
	cfg := &Config{}
	if err := yaml.NewDecoder(r).Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns an empty colony with default settings.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	if c.Step == 0 {
		c.Step = DefaultStep
	}
	if c.Interval == 0 {
		c.Interval = c.Step
	}
	if c.Shed == "" {
		c.Shed = ShedMembership
	}
	if c.Datastreams.SQL.Enabled() && c.Datastreams.SQL.Driver == "" {
		c.Datastreams.SQL.Driver = DriverSQLite
	}
	if c.Datastreams.NATS.Enabled() && c.Datastreams.NATS.Subject == "" {
		c.Datastreams.NATS.Subject = "colony.power"
	}
	if c.Datastreams.Mongo.Enabled() {
		if c.Datastreams.Mongo.Database == "" {
			c.Datastreams.Mongo.Database = "colony"
		}
		if c.Datastreams.Mongo.Collection == "" {
			c.Datastreams.Mongo.Collection = "networks"
		}
	}
}

// Validate reports every problem in the configuration at once.
func (c *Config) Validate() error {
	var err error
	invalid := func(format string, args ...interface{}) {
		err = multierr.Append(err, fmt.Errorf("%w: "+format, append([]interface{}{ErrInvalid}, args...)...))
	}

	if _, levelErr := log.ParseLevel(c.LogLevel); levelErr != nil {
		invalid("log_level %q", c.LogLevel)
	}
	if c.Step <= 0 {
		invalid("step must be positive, got %v", c.Step)
	}
	if c.Interval <= 0 {
		invalid("interval must be positive, got %v", c.Interval)
	}
	switch c.Shed {
	case ShedMembership, ShedLargestFirst, ShedSmallestFirst:
	default:
		invalid("unknown shed policy %q", c.Shed)
	}

	names := make(map[string]bool, len(c.Devices))
	for i, d := range c.Devices {
		if d.Name == "" {
			invalid("device %d has no name", i)
			continue
		}
		if names[d.Name] {
			invalid("duplicate device name %q", d.Name)
		}
		names[d.Name] = true
		if !knownKind(d.Kind) {
			invalid("device %q has unknown kind %q", d.Name, d.Kind)
		}
	}

	for i, link := range c.Links {
		if len(link) != 2 {
			invalid("link %d must name two devices, got %d", i, len(link))
			continue
		}
		for _, name := range link {
			if !names[name] {
				invalid("link %d references undeclared device %q", i, name)
			}
		}
	}

	if sql := c.Datastreams.SQL; sql.Enabled() {
		switch sql.Driver {
		case DriverSQLite, DriverMySQL, DriverPostgres:
		default:
			invalid("unknown sql driver %q", sql.Driver)
		}
	}
	return err
}

func knownKind(kind string) bool {
	for _, k := range Kinds {
		if k == kind {
			return true
		}
	}
	return false
}
