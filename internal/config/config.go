// Package config holds process options, filled from defaults, an optional
// config file, DUPLEX_* environment variables and command line flags.
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment variables, e.g. DUPLEX_LOG_LEVEL.
const EnvPrefix = "duplex"

// Index modes of the quixote line source.
const (
	IndexMemory = "memory"
	IndexScan   = "scan"
)

// Options is the configuration shared by the protocol binaries.
type Options struct {
	vp *viper.Viper

	Host string
	Port int

	Log struct {
		Level string // debug, info, warn, error
		Dir   string // rotating files are written here when set
		JSON  bool
	}

	Metrics struct {
		Addr string // host:port of the prometheus endpoint, disabled when empty
	}

	Conn struct {
		BufferSize int
		InboxSize  int
		Heartbeat  time.Duration
	}

	Server struct {
		ShutdownTimeout time.Duration
	}

	Client struct {
		Requests int
	}

	Quixote struct {
		Text          string
		Index         string
		CacheSize     int
		PoolSize      int
		LookupTimeout time.Duration
	}
}

// New returns the default options.
func New() *Options {
	o := &Options{
		Host: "127.0.0.1",
		Port: 6000,
	}
	o.Log.Level = "info"
	o.Conn.BufferSize = 16
	o.Conn.InboxSize = 16
	o.Client.Requests = 100
	o.Quixote.Text = "quixote.txt"
	o.Quixote.Index = IndexMemory
	o.Quixote.CacheSize = 1024
	o.Quixote.PoolSize = 256
	o.Quixote.LookupTimeout = time.Minute
	return o
}

// NewViper returns a viper instance reading cfgFile (when set) and the
// environment.
func NewViper(cfgFile string) (*viper.Viper, error) {
	vp := viper.New()
	if cfgFile != "" {
		vp.SetConfigFile(cfgFile)
		if err := vp.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	vp.SetEnvPrefix(EnvPrefix)
	vp.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	vp.AutomaticEnv()
	return vp, nil
}

// ConfigureWithViper overrides the options with every value set in vp.
func (o *Options) ConfigureWithViper(vp *viper.Viper) {
	o.vp = vp

	o.Host = o.getString("host", o.Host)
	o.Port = o.getInt("port", o.Port)

	o.Log.Level = o.getString("log.level", o.Log.Level)
	o.Log.Dir = o.getString("log.dir", o.Log.Dir)
	o.Log.JSON = o.getBool("log.json", o.Log.JSON)

	o.Metrics.Addr = o.getString("metrics.addr", o.Metrics.Addr)

	o.Conn.BufferSize = o.getInt("conn.bufferSize", o.Conn.BufferSize)
	o.Conn.InboxSize = o.getInt("conn.inboxSize", o.Conn.InboxSize)
	o.Conn.Heartbeat = o.getDuration("conn.heartbeat", o.Conn.Heartbeat)

	o.Server.ShutdownTimeout = o.getDuration("server.shutdownTimeout", o.Server.ShutdownTimeout)

	o.Client.Requests = o.getInt("client.requests", o.Client.Requests)

	o.Quixote.Text = o.getString("quixote.text", o.Quixote.Text)
	o.Quixote.Index = strings.ToLower(o.getString("quixote.index", o.Quixote.Index))
	o.Quixote.CacheSize = o.getInt("quixote.cacheSize", o.Quixote.CacheSize)
	o.Quixote.PoolSize = o.getInt("quixote.poolSize", o.Quixote.PoolSize)
	o.Quixote.LookupTimeout = o.getDuration("quixote.lookupTimeout", o.Quixote.LookupTimeout)
}

func (o *Options) getString(key string, defaultValue string) string {
	v := o.vp.GetString(key)
	if v == "" {
		return defaultValue
	}
	return v
}

func (o *Options) getInt(key string, defaultValue int) int {
	v := o.vp.GetInt(key)
	if v == 0 {
		return defaultValue
	}
	return v
}

func (o *Options) getBool(key string, defaultValue bool) bool {
	if !o.vp.IsSet(key) {
		return defaultValue
	}
	return o.vp.GetBool(key)
}

func (o *Options) getDuration(key string, defaultValue time.Duration) time.Duration {
	v := o.vp.GetDuration(key)
	if v == 0 {
		return defaultValue
	}
	return v
}
