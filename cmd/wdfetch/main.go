// Command wdfetch identifies, batches and fetches Wikibase entities and runs
// SPARQL queries against the Wikidata Query Service.
//
// Usage:
//
//	wdfetch identify ID...
//	wdfetch fetch [-force] [-group NAME] ID...
//	wdfetch get ID...
//	wdfetch sparql [-dry-run] [-post|-get] [-accept TYPE] QUERY|-
//	wdfetch stats
//	wdfetch prune -older-than DURATION
//	wdfetch version
//
// Configuration comes from CONFIG_PATH (or ./config.yaml) and the
// environment. Exit codes: 0 = success, 1 = error, 2 = unknown command.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/heartmarshall/wdfetch/internal/app"
	"github.com/heartmarshall/wdfetch/pkg/ctxutil"
)

type command struct {
	name  string
	usage string
	// offline commands run without configuration or network.
	offline bool
	run     func(ctx context.Context, env *env, args []string) error
}

// env is what every command gets: the wired App (nil for offline commands)
// and the standard streams.
type env struct {
	app    *app.App
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
}

var commands = []command{
	{name: "identify", usage: "identify ID...", offline: true, run: runIdentify},
	{name: "fetch", usage: "fetch [-force] [-group NAME] ID...", run: runFetch},
	{name: "get", usage: "get ID...", run: runGet},
	{name: "sparql", usage: "sparql [-dry-run] [-post|-get] [-accept TYPE] QUERY|-", run: runSPARQL},
	{name: "stats", usage: "stats", run: runStats},
	{name: "prune", usage: "prune -older-than DURATION", run: runPrune},
	{name: "version", usage: "version", offline: true, run: runVersion},
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr, app.Bootstrap)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer,
	bootstrap func(context.Context) (*app.App, error)) int {
	if len(args) == 0 {
		usage(stderr)
		return 2
	}

	var cmd *command
	for i := range commands {
		if commands[i].name == args[0] {
			cmd = &commands[i]
			break
		}
	}
	if cmd == nil {
		fmt.Fprintf(stderr, "wdfetch: unknown command %q\n", args[0])
		usage(stderr)
		return 2
	}

	e := &env{stdin: stdin, stdout: stdout, stderr: stderr}
	if cmd.offline {
		if err := cmd.run(ctx, e, args[1:]); err != nil {
			fmt.Fprintf(stderr, "wdfetch %s: %v\n", cmd.name, err)
			return 1
		}
		return 0
	}

	ctx = ctxutil.WithRunID(ctx, uuid.New())
	a, err := bootstrap(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "wdfetch: %v\n", err)
		return 1
	}
	defer a.Close()
	e.app = a

	stopMetrics, err := a.ServeMetrics(ctx)
	if err != nil {
		a.Log.ErrorContext(ctx, "metrics", slog.String("error", err.Error()))
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_ = stopMetrics(shutdownCtx)
	}()

	err = cmd.run(ctx, e, args[1:])
	a.LogMetrics(ctx)
	if err != nil {
		a.Log.ErrorContext(ctx, cmd.name+" failed", slog.String("error", err.Error()))
		return 1
	}
	return 0
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "usage:")
	for _, c := range commands {
		fmt.Fprintf(w, "  wdfetch %s\n", c.usage)
	}
}
