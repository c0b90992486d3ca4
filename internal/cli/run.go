package cli

import (
	"context"
	"syscall"

	"github.com/judwhite/go-svc"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/Zereker/duplex"
)

// program runs the server under go-svc, which stops it on SIGINT/SIGTERM.
type program struct {
	proto Protocol
	env   *Env
	host  string
	port  int

	server  *duplex.Server
	release func()
	cancel  context.CancelFunc
	served  chan error
}

func (p *program) Init(svc.Environment) error {
	return nil
}

func (p *program) Start() error {
	server, handler, release, err := startServer(p.proto, p.env, p.host, p.port)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.server, p.release, p.cancel = server, release, cancel
	p.served = make(chan error, 1)
	go func() {
		p.served <- server.Serve(ctx, handler)
	}()
	return nil
}

func (p *program) Stop() error {
	p.cancel()
	err := <-p.served
	p.server.Wait()
	p.release()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// startServer binds host:port and builds the protocol handler.
func startServer(proto Protocol, env *Env, host string, port int) (*duplex.Server, duplex.Handler, func(), error) {
	handler, release, err := proto.NewHandler(env)
	if err != nil {
		return nil, nil, nil, err
	}

	server, err := duplex.ListenAddress(host, port,
		duplex.ServerLoggerOption(env.Logger),
		duplex.ServerShutdownTimeoutOption(env.Options.Server.ShutdownTimeout),
	)
	if err != nil {
		release()
		return nil, nil, nil, err
	}
	return server, handler, release, nil
}

func runServer(proto Protocol, env *Env, host string, port int) error {
	return svc.Run(&program{proto: proto, env: env, host: host, port: port}, syscall.SIGINT, syscall.SIGTERM)
}

func runClient(ctx context.Context, proto Protocol, env *Env, host string, port int) error {
	conn, err := duplex.Dial(ctx, host, port)
	if err != nil {
		env.Logger.Error("client could not connect", "host", host, "port", port, "error", err)
		return err
	}

	env.Logger.Info("client connected", "addr", conn.RemoteAddr())
	if err := proto.RunClient(ctx, env, conn); err != nil {
		env.Logger.Error("client failed", "error", err)
		return err
	}
	env.Logger.Info("client done")
	return nil
}

// runCombined starts the server, runs one client against it and stops the
// server once the client is done.
func runCombined(ctx context.Context, proto Protocol, env *Env) error {
	host, port := env.Options.Host, env.Options.Port
	server, handler, release, err := startServer(proto, env, host, port)
	if err != nil {
		return err
	}
	defer release()

	serveCtx, stopServe := context.WithCancel(ctx)
	group := new(errgroup.Group)
	group.Go(func() error {
		err := server.Serve(serveCtx, handler)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	clientErr := runClient(ctx, proto, env, host, port)

	stopServe()
	serveErr := group.Wait()
	server.Wait()

	if clientErr != nil {
		return clientErr
	}
	return serveErr
}
