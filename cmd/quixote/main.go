// Command quixote serves lines of a text file by index.
//
// Use without arguments to start both client and server on 127.0.0.1:6000.
// Use `server [host] [port]` or `client [host] [port]` to run one role.
package main

import (
	"context"
	"net"

	"github.com/spf13/cobra"

	"github.com/Zereker/duplex"
	"github.com/Zereker/duplex/internal/cli"
	"github.com/Zereker/duplex/internal/config"
	"github.com/Zereker/duplex/linesource"
	"github.com/Zereker/duplex/quixote"
)

func main() {
	cli.Execute(cli.Protocol{
		Name:  "quixote",
		Short: "Line lookups over a length-framed TCP protocol",
		Flags: func(cmd *cobra.Command) {
			flags := cmd.PersistentFlags()
			flags.String("text", "", "text file the server reads lines from")
			flags.String("index", "", "line index: memory or scan")
			flags.Int("cache-size", 0, "lines cached in scan mode")
			flags.Int("pool-size", 0, "concurrent lookups")
			flags.Duration("lookup-timeout", 0, "time a single lookup may take")
		},
		Bindings: map[string]string{
			"quixote.text":          "text",
			"quixote.index":         "index",
			"quixote.cacheSize":     "cache-size",
			"quixote.poolSize":      "pool-size",
			"quixote.lookupTimeout": "lookup-timeout",
		},
		NewHandler: newHandler,
		RunClient: func(ctx context.Context, env *cli.Env, conn net.Conn) error {
			client := &quixote.Client{
				Requests: env.Options.Client.Requests,
				OnLine: func(index int32, line string) {
					env.Logger.Info("client received from server", "index", index, "line", line)
				},
				Options: env.ConnOptions(),
			}
			return client.Run(ctx, conn)
		},
	})
}

func newHandler(env *cli.Env) (duplex.Handler, func(), error) {
	opts := env.Options.Quixote

	src, err := linesource.Open(opts.Text, opts.Index == config.IndexScan, opts.CacheSize)
	if err != nil {
		return nil, nil, err
	}

	async, err := linesource.NewAsync(src, opts.PoolSize, opts.LookupTimeout)
	if err != nil {
		return nil, nil, err
	}

	env.Logger.Info("line source ready", "text", opts.Text, "index", opts.Index)
	responder := quixote.NewResponder(async,
		quixote.WithTimeout(opts.LookupTimeout),
		quixote.WithLogger(env.Logger),
		quixote.WithMetrics(env.Metrics),
	)
	return quixote.NewHandler(responder, env.ConnOptions()...), async.Release, nil
}
