package config

import (
	"errors"
	"time"
)

type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

type Config struct {
	LogLevel LogLevel `name:"log-level" description:"Logging level for the application. One of debug, info, warn, or error" default:"info"`
	NodeID   uint16   `name:"node-id" description:"Identifier of this node, used in logs" default:"1"`
	HTTP     HTTP     `name:"http" description:"Configuration for the schedule HTTP API"`
	Metrics  Metrics  `name:"metrics" description:"Configuration for Prometheus metrics"`
	Schedule Schedule `name:"schedule" description:"Configuration for schedule ingestion"`
	Datapath Datapath `name:"datapath" description:"Configuration for the transmit opportunity monitor"`
}

// HTTP serves schedule ingestion and slot queries.
type HTTP struct {
	Enabled bool   `name:"enabled" description:"Whether to serve the schedule HTTP API" default:"true"`
	Bind    string `name:"bind" description:"Address to bind the HTTP API to" default:"0.0.0.0"`
	Port    int    `name:"port" description:"Port to serve the HTTP API on" default:"8080"`
}

type Metrics struct {
	Enabled bool `name:"enabled" description:"Whether to expose Prometheus metrics on /metrics" default:"true"`
}

type Schedule struct {
	// Files are ingested in order at startup
	Files []string `name:"files" description:"Schedule event files (YAML or JSON) to ingest at startup, in order"`
}

// Datapath walks transmit opportunities window by window the way the MAC
// transmit path consumes them.
type Datapath struct {
	Enabled     bool `name:"enabled" description:"Whether to run the transmit opportunity monitor"`
	MultiFrames int  `name:"multiframes" description:"Number of multiframes scanned per transmit opportunity query" default:"1"`
	// PollInterval is in milliseconds
	PollInterval uint `name:"poll-interval" description:"How often in milliseconds the monitor checks for the next window" default:"1000"`
}

// PollDuration returns the monitor poll interval.
func (d Datapath) PollDuration() time.Duration {
	return time.Duration(d.PollInterval) * time.Millisecond
}

var (
	ErrInvalidLogLevel     = errors.New("invalid log level provided")
	ErrInvalidHTTPBind     = errors.New("invalid HTTP bind address provided")
	ErrInvalidHTTPPort     = errors.New("invalid HTTP port provided")
	ErrInvalidMultiFrames  = errors.New("invalid datapath multiframes (must be >= 1)")
	ErrInvalidPollInterval = errors.New("invalid datapath poll interval (must be > 0)")
	ErrInvalidScheduleFile = errors.New("invalid schedule file provided")
)

func (c Config) Validate() error {
	switch c.LogLevel {
	case LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError:
	default:
		return ErrInvalidLogLevel
	}

	if c.HTTP.Enabled {
		if c.HTTP.Bind == "" {
			return ErrInvalidHTTPBind
		}
		if c.HTTP.Port < 1 || c.HTTP.Port > 65535 {
			return ErrInvalidHTTPPort
		}
	}

	for _, f := range c.Schedule.Files {
		if f == "" {
			return ErrInvalidScheduleFile
		}
	}

	if c.Datapath.Enabled {
		if c.Datapath.MultiFrames < 1 {
			return ErrInvalidMultiFrames
		}
		if c.Datapath.PollInterval == 0 {
			return ErrInvalidPollInterval
		}
	}

	return nil
}
