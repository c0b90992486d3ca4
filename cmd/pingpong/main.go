// Command pingpong runs the ping-pong protocol.
//
// Use without arguments to start both client and server on 127.0.0.1:6000.
// Use `server 0.0.0.0 6001` to start a server listening on port 6001 and
// `client 127.0.0.1 6001` to start a client connecting to it.
package main

import (
	"context"
	"net"

	"github.com/Zereker/duplex"
	"github.com/Zereker/duplex/internal/cli"
	"github.com/Zereker/duplex/pingpong"
)

func main() {
	cli.Execute(cli.Protocol{
		Name:  "pingpong",
		Short: "Ping-pong over a length-framed TCP protocol",
		NewHandler: func(env *cli.Env) (duplex.Handler, func(), error) {
			return pingpong.NewHandler(env.ConnOptions()...), func() {}, nil
		},
		RunClient: func(ctx context.Context, env *cli.Env, conn net.Conn) error {
			client := &pingpong.Client{
				Requests: env.Options.Client.Requests,
				OnPong: func(m pingpong.Message) {
					env.Logger.Info("client received from server", "message", m.String())
				},
				Options: env.ConnOptions(),
			}
			return client.Run(ctx, conn)
		},
	})
}
