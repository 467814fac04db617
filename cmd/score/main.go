// Command score runs the anomaly scoring pipeline against a local CSV
// file without starting the HTTP server.
//
// Usage:
//
//	go run ./cmd/score -csv transactions.csv
//	go run ./cmd/score -csv transactions.csv -flagged-only -json
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mbd888/txsentry/internal/config"
	"github.com/mbd888/txsentry/internal/engine"
	"github.com/mbd888/txsentry/internal/ingest"
	"github.com/mbd888/txsentry/internal/logging"
	"github.com/mbd888/txsentry/internal/results"
)

func main() {
	var (
		csvPath     = flag.String("csv", "", "path to the CSV file to score (required)")
		flaggedOnly = flag.Bool("flagged-only", false, "print only flagged transactions")
		asJSON      = flag.Bool("json", false, "print verdicts as JSON lines")
		maxRows     = flag.Int("max-rows", config.DefaultMaxUploadRows, "row cap, rows beyond this are ignored")
	)
	flag.Parse()

	if *csvPath == "" {
		flag.Usage()
		os.Exit(2)
	}

	if err := run(*csvPath, *maxRows, *flaggedOnly, *asJSON); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(csvPath string, maxRows int, flaggedOnly, asJSON bool) error {
	f, err := os.Open(csvPath) // #nosec G304 -- path comes from the operator
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	batch, err := ingest.DecodeCSV(f, maxRows)
	if err != nil {
		return fmt.Errorf("read csv: %w", err)
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	eng := engine.New(cfg.EngineConfig(),
		engine.WithLogger(logging.New(cfg.LogLevel, cfg.LogFormat)))

	start := time.Now()
	verdicts, err := eng.ProcessBatch(context.Background(), batch.Transactions)
	if err != nil {
		return fmt.Errorf("score batch: %w", err)
	}
	elapsed := time.Since(start)

	scoredAt := time.Now().UTC()
	flagged := 0
	enc := json.NewEncoder(os.Stdout)
	for i := range verdicts {
		v := &verdicts[i]
		if v.Flagged {
			flagged++
		}
		if flaggedOnly && !v.Flagged {
			continue
		}
		if asJSON {
			st := results.NewScoredTransaction(&batch.Transactions[i], v, scoredAt)
			if err := enc.Encode(st); err != nil {
				return err
			}
			continue
		}
		marker := " "
		if v.Flagged {
			marker = "!"
		}
		fmt.Printf("%s %-24s %-16s score=%.3f", marker,
			batch.Transactions[i].ID, batch.Transactions[i].SenderAccount, v.Score)
		if len(v.Reasons) > 0 {
			fmt.Printf("  %s", strings.Join(v.Reasons, "; "))
		}
		fmt.Println()
	}

	fmt.Fprintf(os.Stderr, "scored %d transactions in %s, %d flagged\n",
		len(verdicts), elapsed.Round(time.Millisecond), flagged)
	if len(batch.MissingFeatures) > 0 {
		fmt.Fprintf(os.Stderr, "absent feature columns: %s\n",
			strings.Join(batch.MissingFeatures, ", "))
	}
	return nil
}
