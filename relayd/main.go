package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/docopt/docopt-go"
	"github.com/golang/glog"
	"golang.org/x/sync/errgroup"

	"github.com/bringyour/collab/relay"
)

const RelaydVersion = "0.0.1"

func main() {
	usage := fmt.Sprintf(
		`Collaboration relay.

Settings are read from the environment (RELAY_PORT, RELAY_READ_TIMEOUT,
RELAY_WRITE_TIMEOUT, RELAY_PING_TIMEOUT, RELAY_SEND_BUFFER). Flags override them.

Usage:
    relayd [--port=<port>] [--log_v=<level>]
    relayd -h | --help
    relayd --version

Options:
    -h --help            Show this screen.
    --version            Show version.
    -p --port=<port>     Listen port. Defaults to RELAY_PORT, or %d.
    --log_v=<level>      Log verbosity.`,
		relay.DefaultPort,
	)

	opts, err := docopt.ParseArgs(usage, os.Args[1:], RelaydVersion)
	if err != nil {
		panic(err)
	}

	flag.Set("logtostderr", "true")
	if level, _ := opts.String("--log_v"); level != "" {
		flag.Set("v", level)
	}
	flag.CommandLine.Parse([]string{})

	config, err := relay.ParseConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
	port := config.Port
	if opts["--port"] != nil {
		if port, err = opts.Int("--port"); err != nil {
			fmt.Fprintf(os.Stderr, "bad port: %s\n", err)
			os.Exit(1)
		}
	}

	if err := serve(port, config.Settings()); err != nil {
		glog.Errorf("relay error = %s\n", err)
		os.Exit(1)
	}
}

func serve(port int, settings *relay.Settings) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGQUIT, syscall.SIGTERM)
	defer cancel()

	server := relay.NewServer(ctx, settings)
	defer server.Close()

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: server.Handler(),
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	fmt.Printf("Relay %s on *:%d\n", settings.Version, port)

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	eg.Go(func() error {
		<-egCtx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		// hijacked websocket connections are not tracked by the http server
		server.Close()
		return httpServer.Shutdown(shutdownCtx)
	})
	return eg.Wait()
}
