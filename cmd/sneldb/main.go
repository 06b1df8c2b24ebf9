// Command sneldb is SnelDB's CLI entrypoint: it opens (or creates) a
// shard group at a configured base directory and serves ingestion and
// query over newline-delimited JSON on stdin/stdout, the same shape the
// teacher's component binaries wrap around a long-running server object.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/sneldb/sneldb/internal/config"
	"github.com/sneldb/sneldb/internal/event"
	"github.com/sneldb/sneldb/internal/log"
	"github.com/sneldb/sneldb/internal/query"
	"github.com/sneldb/sneldb/internal/store"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: sneldb <serve|ingest|query> [flags]")
	}

	switch args[0] {
	case "serve":
		return runServe(args[1:])
	case "ingest":
		return runIngest(args[1:])
	case "query":
		return runQuery(args[1:])
	default:
		return fmt.Errorf("unknown command %q (want serve, ingest, or query)", args[0])
	}
}

func openStore(fs *flag.FlagSet, args []string) (*store.Store, error) {
	configPath := fs.String("config", "", "path to a YAML config file (optional)")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		return nil, err
	}
	return store.Open(cfg)
}

// runServe opens the store and blocks until SIGINT/SIGTERM, flushing
// every shard before exit.
func runServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	st, err := openStore(fs, args)
	if err != nil {
		return err
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	log.Info("sneldb: serving, waiting for shutdown signal")
	<-sig

	log.Info("sneldb: shutting down")
	if err := st.Flush(); err != nil {
		log.Warn("sneldb: flush on shutdown failed", zap.Error(err))
	}
	return st.Close()
}

// eventLine is the JSON shape one line of `sneldb ingest`'s stdin takes.
// Payload values are read as strings; richer scalar types are out of
// scope for this line protocol.
type eventLine struct {
	EventType string            `json:"event_type"`
	ContextID string            `json:"context_id"`
	Timestamp uint64            `json:"timestamp"`
	Payload   map[string]string `json:"payload"`
}

// runIngest reads newline-delimited JSON events from stdin and stores
// each one, printing its assigned event_id.
func runIngest(args []string) error {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	st, err := openStore(fs, args)
	if err != nil {
		return err
	}
	defer func() {
		_ = st.Flush()
		_ = st.Close()
	}()

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var el eventLine
		if err := json.Unmarshal(line, &el); err != nil {
			return fmt.Errorf("sneldb: malformed event line: %w", err)
		}
		payload := make(map[string]event.Scalar, len(el.Payload))
		for k, v := range el.Payload {
			payload[k] = event.FromString(v)
		}
		id, err := st.Put(event.Event{
			EventType: el.EventType,
			ContextID: el.ContextID,
			Timestamp: el.Timestamp,
			Payload:   payload,
		})
		if err != nil {
			return err
		}
		fmt.Fprintln(os.Stdout, id)
	}
	return scanner.Err()
}

// runQuery streams every event matching --event-type (and, optionally,
// --context-id / --since) to stdout as newline-delimited JSON.
func runQuery(args []string) error {
	fs := flag.NewFlagSet("query", flag.ExitOnError)
	eventType := fs.String("event-type", "*", "event_type to query, or * for all")
	contextID := fs.String("context-id", "", "restrict to one context_id (optional)")
	since := fs.Int64("since", -1, "only events with timestamp >= since (optional)")
	timeout := fs.Duration("timeout", 30*time.Second, "query timeout")
	st, err := openStore(fs, args)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	cmd := query.Command{EventType: *eventType}
	if *contextID != "" {
		cmd.ContextID = contextID
	}
	if *since >= 0 {
		cmd.Since = since
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	out, errc, err := st.QueryStream(ctx, cmd)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	for ev := range out {
		if err := enc.Encode(ev); err != nil {
			return err
		}
	}
	return <-errc
}
