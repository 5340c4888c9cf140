package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/perrin/forcebulk/internal/bulk"
	"github.com/perrin/forcebulk/internal/codec"
	"github.com/perrin/forcebulk/internal/config"
	"github.com/perrin/forcebulk/internal/logger"
	"github.com/perrin/forcebulk/internal/transport"
)

func main() {
	appLogger := logger.New(&logger.Config{
		Level:       "info",
		Format:      "json",
		ServiceName: "bulkquery",
	})
	logger.SetDefault(appLogger)

	soql := flag.String("soql", "", "SOQL query text, e.g. \"SELECT Id, Name FROM Account\"")
	outPath := flag.String("out", "", "Output CSV path (default stdout)")
	configPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	// Allow the query as a bare positional argument too.
	if *soql == "" && flag.NArg() > 0 {
		*soql = strings.Join(flag.Args(), " ")
	}
	if *soql == "" {
		appLogger.Fatal("A SOQL query is required (-soql or positional)")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to load config")
	}

	appLogger = logger.New(&logger.Config{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		ServiceName: "bulkquery",
		File:        cfg.Log.File,
	})
	logger.SetDefault(appLogger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tr := transport.New(&transport.Session{
		InstanceURL: cfg.Auth.InstanceURL,
		AccessToken: cfg.Auth.AccessToken,
		APIVersion:  cfg.Auth.APIVersion,
	}, transport.WithLogger(appLogger))

	client := bulk.NewClient(tr,
		bulk.WithLogger(appLogger),
		bulk.WithPollInterval(cfg.Poll.Interval),
		bulk.WithPollTimeout(cfg.Poll.Timeout),
	)

	out := os.Stdout
	if *outPath != "" {
		f, err := os.Create(*outPath)
		if err != nil {
			appLogger.WithError(err).Fatal("Failed to create output file")
		}
		defer f.Close()
		out = f
	}

	appLogger.WithField("soql", *soql).Info("Starting bulk query")

	stream, err := client.Query(ctx, *soql)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to start query")
	}
	defer stream.Close()

	enc := codec.NewEncoder(out)
	rows := 0
	for {
		rec, ok := stream.Next()
		if !ok {
			break
		}
		if err := enc.Write(rec); err != nil {
			appLogger.WithError(err).Fatal("Failed to write output row")
		}
		rows++
	}
	if err := stream.Err(); err != nil {
		appLogger.WithError(err).Fatal("Query failed")
	}
	if err := enc.Flush(); err != nil {
		appLogger.WithError(err).Fatal("Failed to flush output")
	}

	appLogger.WithField("rows", rows).Info("Bulk query finished")
}
