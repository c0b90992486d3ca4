// Package cli is the command line shared by the protocol binaries.
//
//	<name>                      server and client in one process on 127.0.0.1:6000
//	<name> server [host] [port] server only
//	<name> client [host] [port] client only
package cli

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Zereker/duplex"
	"github.com/Zereker/duplex/internal/config"
	"github.com/Zereker/duplex/internal/logging"
)

// Env is what a protocol needs to build its server and client.
type Env struct {
	Options *config.Options
	Logger  duplex.Logger
	Metrics *duplex.Metrics
}

// ConnOptions returns the connection options derived from the configuration.
func (e *Env) ConnOptions() []duplex.Option {
	return []duplex.Option{
		duplex.LoggerOption(e.Logger),
		duplex.MetricsOption(e.Metrics),
		duplex.BufferSizeOption(e.Options.Conn.BufferSize),
		duplex.InboxSizeOption(e.Options.Conn.InboxSize),
		duplex.HeartbeatOption(e.Options.Conn.Heartbeat),
	}
}

// Protocol plugs one protocol into the command line.
type Protocol struct {
	Name  string
	Short string

	// Flags registers protocol specific flags on the root command.
	Flags func(cmd *cobra.Command)
	// Bindings maps config keys to the flag names registered by Flags.
	Bindings map[string]string

	// NewHandler builds the server handler. release frees what it holds once
	// the server is stopped.
	NewHandler func(env *Env) (handler duplex.Handler, release func(), err error)
	// RunClient runs one client exchange on conn and closes it.
	RunClient func(ctx context.Context, env *Env, conn net.Conn) error
}

// globalBindings maps config keys to the flags every binary has.
var globalBindings = map[string]string{
	"log.level":              "log-level",
	"log.dir":                "log-dir",
	"log.json":               "log-json",
	"metrics.addr":           "metrics-addr",
	"conn.bufferSize":        "buffer-size",
	"conn.inboxSize":         "inbox-size",
	"conn.heartbeat":         "heartbeat",
	"server.shutdownTimeout": "shutdown-timeout",
	"client.requests":        "requests",
}

// NewCommand returns the root command of proto's binary.
func NewCommand(proto Protocol) *cobra.Command {
	var (
		cfgFile string
		env     = &Env{Options: config.New()}
		logger  *zap.Logger
		metrics *metricsServer
	)

	root := &cobra.Command{
		Use:           proto.Name,
		Short:         proto.Short,
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		Args: cobra.NoArgs,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			vp, err := config.NewViper(cfgFile)
			if err != nil {
				return errors.Wrap(err, "read config")
			}
			for key, flag := range globalBindings {
				if err := vp.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
					return err
				}
			}
			for key, flag := range proto.Bindings {
				if err := vp.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
					return err
				}
			}
			env.Options.ConfigureWithViper(vp)

			logger, err = logging.New(logging.Options{
				Name:  proto.Name,
				Level: env.Options.Log.Level,
				Dir:   env.Options.Log.Dir,
				JSON:  env.Options.Log.JSON,
			})
			if err != nil {
				return err
			}
			env.Logger = duplex.NewZapLogger(logger)

			if env.Options.Metrics.Addr != "" {
				metrics = startMetrics(proto.Name, env.Options.Metrics.Addr, env.Logger)
				env.Metrics = metrics.metrics
			}
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			metrics.stop()
			if logger != nil {
				_ = logger.Sync()
			}
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runCombined(ctx, proto, env)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file")
	flags.String("log-level", "", "log level: debug, info, warn, error")
	flags.String("log-dir", "", "directory for rotated log files")
	flags.Bool("log-json", false, "log in JSON")
	flags.String("metrics-addr", "", "serve prometheus metrics on this address")
	flags.Int("buffer-size", 0, "outbound frames queued per connection")
	flags.Int("inbox-size", 0, "inbound messages queued per connection")
	flags.Duration("heartbeat", 0, "read/write deadline is twice this value, 0 disables it")
	flags.Duration("shutdown-timeout", 0, "time given to connections after a stop signal")
	flags.Int("requests", 0, "requests sent by the client")
	if proto.Flags != nil {
		proto.Flags(root)
	}

	root.AddCommand(&cobra.Command{
		Use:   "server [host] [port]",
		Short: "Run the server only",
		Args:  cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			host, port, err := address(args, env.Options)
			if err != nil {
				return err
			}
			return runServer(proto, env, host, port)
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "client [host] [port]",
		Short: "Run the client only",
		Args:  cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			host, port, err := address(args, env.Options)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runClient(ctx, proto, env, host, port)
		},
	})

	return root
}

// Execute runs the command and exits with status 1 on error.
func Execute(proto Protocol) {
	if err := NewCommand(proto).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// address picks host and port from the positional arguments, falling back
// to the configured address.
func address(args []string, opts *config.Options) (string, int, error) {
	host, port := opts.Host, opts.Port
	if len(args) > 0 {
		host = args[0]
	}
	if len(args) > 1 {
		p, err := strconv.Atoi(args[1])
		if err != nil || p < 0 || p > 65535 {
			return "", 0, errors.Errorf("invalid port %q", args[1])
		}
		port = p
	}
	return host, port, nil
}

// metricsServer serves the prometheus registry of one process.
type metricsServer struct {
	metrics *duplex.Metrics
	srv     *http.Server
}

func startMetrics(namespace, addr string, logger duplex.Logger) *metricsServer {
	reg := prometheus.NewRegistry()
	m := &metricsServer{
		metrics: duplex.NewMetrics(namespace, reg),
		srv: &http.Server{
			Addr:    addr,
			Handler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		},
	}

	go func() {
		if err := m.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "addr", addr, "error", err)
		}
	}()
	logger.Info("metrics server started", "addr", addr)
	return m
}

func (m *metricsServer) stop() {
	if m == nil {
		return
	}
	_ = m.srv.Close()
}
