// Package config loads tandem's CUE configuration.
//
// A configuration file is plain CUE (or JSON, which is valid CUE) unified
// with the embedded #Config schema. The schema carries every default, so
// unknown fields, bad durations and out-of-range limits are rejected with
// CUE's positioned errors before anything starts.
package config

import (
	_ "embed"
	"fmt"
	"os"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/format"

	"github.com/roach88/tandem/internal/transport"
)

//go:embed schema.cue
var schemaCUE string

// Config is the resolved configuration.
type Config struct {
	Site         string
	Listen       string
	ServerURL    string
	Documents    []string
	Database     string
	PostgresURL  string
	RedisAddr    string
	RedisChannel string
	PolicyFile   string
	Relay        bool
	Discovery    bool

	SnapshotInterval time.Duration

	Transport TransportConfig
	Document  DocumentConfig
}

// TransportConfig tunes every session.
type TransportConfig struct {
	HeartbeatInterval    time.Duration
	ConnectTimeout       time.Duration
	MaxReconnectAttempts int
	BackoffBase          time.Duration
	BackoffMax           time.Duration
	OutboundCapacity     int
	MaxMissedHeartbeats  int
}

// DocumentConfig tunes every document.
type DocumentConfig struct {
	PendingCapacity int
	MailboxCapacity int
}

// file mirrors the schema field for field.
type file struct {
	Site             string   `json:"site"`
	Listen           string   `json:"listen"`
	ServerURL        string   `json:"server_url"`
	Documents        []string `json:"documents"`
	Database         string   `json:"database"`
	PostgresURL      string   `json:"postgres_url"`
	RedisAddr        string   `json:"redis_addr"`
	RedisChannel     string   `json:"redis_channel"`
	PolicyFile       string   `json:"policy_file"`
	Relay            bool     `json:"relay"`
	Discovery        bool     `json:"discovery"`
	SnapshotInterval string   `json:"snapshot_interval"`
	Transport        struct {
		HeartbeatInterval    string `json:"heartbeat_interval"`
		ConnectTimeout       string `json:"connect_timeout"`
		MaxReconnectAttempts int    `json:"max_reconnect_attempts"`
		BackoffBase          string `json:"backoff_base"`
		BackoffMax           string `json:"backoff_max"`
		OutboundCapacity     int    `json:"outbound_capacity"`
		MaxMissedHeartbeats  int    `json:"max_missed_heartbeats"`
	} `json:"transport"`
	Document struct {
		PendingCapacity int `json:"pending_capacity"`
		MailboxCapacity int `json:"mailbox_capacity"`
	} `json:"document"`
}

// Default returns the schema defaults.
func Default() Config {
	cfg, err := Parse(nil, "default")
	if err != nil {
		panic("config: embedded schema defaults are invalid: " + err.Error())
	}
	return cfg
}

// Load reads and validates a configuration file.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	return Parse(data, path)
}

// Parse validates CUE source against the schema. name labels error
// positions.
func Parse(data []byte, name string) (Config, error) {
	v, err := unify(data, name)
	if err != nil {
		return Config{}, err
	}
	var f file
	if err := v.Decode(&f); err != nil {
		return Config{}, fmt.Errorf("decode config %s: %w", name, err)
	}
	return f.resolve()
}

func unify(data []byte, name string) (cue.Value, error) {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return cue.Value{}, fmt.Errorf("compile schema: %w", err)
	}
	user := ctx.CompileBytes(data, cue.Filename(name))
	if err := user.Err(); err != nil {
		return cue.Value{}, fmt.Errorf("parse config %s: %w", name, err)
	}
	v := schema.LookupPath(cue.ParsePath("#Config")).Unify(user)
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return cue.Value{}, fmt.Errorf("invalid config %s: %w", name, err)
	}
	return v, nil
}

func (f file) resolve() (Config, error) {
	cfg := Config{
		Site:         f.Site,
		Listen:       f.Listen,
		ServerURL:    f.ServerURL,
		Documents:    f.Documents,
		Database:     f.Database,
		PostgresURL:  f.PostgresURL,
		RedisAddr:    f.RedisAddr,
		RedisChannel: f.RedisChannel,
		PolicyFile:   f.PolicyFile,
		Relay:        f.Relay,
		Discovery:    f.Discovery,
		Transport: TransportConfig{
			MaxReconnectAttempts: f.Transport.MaxReconnectAttempts,
			OutboundCapacity:     f.Transport.OutboundCapacity,
			MaxMissedHeartbeats:  f.Transport.MaxMissedHeartbeats,
		},
		Document: DocumentConfig{
			PendingCapacity: f.Document.PendingCapacity,
			MailboxCapacity: f.Document.MailboxCapacity,
		},
	}
	durations := []struct {
		field string
		raw   string
		dst   *time.Duration
	}{
		{"snapshot_interval", f.SnapshotInterval, &cfg.SnapshotInterval},
		{"transport.heartbeat_interval", f.Transport.HeartbeatInterval, &cfg.Transport.HeartbeatInterval},
		{"transport.connect_timeout", f.Transport.ConnectTimeout, &cfg.Transport.ConnectTimeout},
		{"transport.backoff_base", f.Transport.BackoffBase, &cfg.Transport.BackoffBase},
		{"transport.backoff_max", f.Transport.BackoffMax, &cfg.Transport.BackoffMax},
	}
	for _, d := range durations {
		parsed, err := time.ParseDuration(d.raw)
		if err != nil {
			return Config{}, fmt.Errorf("%s: %w", d.field, err)
		}
		*d.dst = parsed
	}
	if cfg.Transport.BackoffMax < cfg.Transport.BackoffBase {
		return Config{}, fmt.Errorf("transport.backoff_max (%s) is below transport.backoff_base (%s)",
			cfg.Transport.BackoffMax, cfg.Transport.BackoffBase)
	}
	return cfg, nil
}

// Session returns the transport settings for a session named id.
func (c Config) Session(id string) transport.Config {
	return transport.Config{
		ID:                   id,
		Site:                 c.Site,
		HeartbeatInterval:    c.Transport.HeartbeatInterval,
		ConnectTimeout:       c.Transport.ConnectTimeout,
		MaxReconnectAttempts: c.Transport.MaxReconnectAttempts,
		BackoffBase:          c.Transport.BackoffBase,
		BackoffMax:           c.Transport.BackoffMax,
		OutboundCapacity:     c.Transport.OutboundCapacity,
		MaxMissedHeartbeats:  c.Transport.MaxMissedHeartbeats,
	}
}

// Store returns the snapshot store location, preferring PostgresURL.
func (c Config) Store() string {
	if c.PostgresURL != "" {
		return c.PostgresURL
	}
	return c.Database
}

// Format renders c as CUE source that Parse accepts.
func (c Config) Format() ([]byte, error) {
	var f file
	f.Site = c.Site
	f.Listen = c.Listen
	f.ServerURL = c.ServerURL
	f.Documents = c.Documents
	if f.Documents == nil {
		f.Documents = []string{}
	}
	f.Database = c.Database
	f.PostgresURL = c.PostgresURL
	f.RedisAddr = c.RedisAddr
	f.RedisChannel = c.RedisChannel
	f.PolicyFile = c.PolicyFile
	f.Relay = c.Relay
	f.Discovery = c.Discovery
	f.SnapshotInterval = c.SnapshotInterval.String()
	f.Transport.HeartbeatInterval = c.Transport.HeartbeatInterval.String()
	f.Transport.ConnectTimeout = c.Transport.ConnectTimeout.String()
	f.Transport.MaxReconnectAttempts = c.Transport.MaxReconnectAttempts
	f.Transport.BackoffBase = c.Transport.BackoffBase.String()
	f.Transport.BackoffMax = c.Transport.BackoffMax.String()
	f.Transport.OutboundCapacity = c.Transport.OutboundCapacity
	f.Transport.MaxMissedHeartbeats = c.Transport.MaxMissedHeartbeats
	f.Document.PendingCapacity = c.Document.PendingCapacity
	f.Document.MailboxCapacity = c.Document.MailboxCapacity

	v := cuecontext.New().Encode(f)
	if err := v.Err(); err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	out, err := format.Node(v.Syntax())
	if err != nil {
		return nil, fmt.Errorf("format config: %w", err)
	}
	return out, nil
}
