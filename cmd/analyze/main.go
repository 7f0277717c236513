// Command analyze identifies the hidden participant structure of a
// JoinMarket CoinJoin transaction: it fetches the transaction from a
// block explorer, runs the greedy preprocessor and residual ILP solve
// to enumerate every assignment of inputs and change outputs to
// participants consistent with the fee and balance constraints, and
// writes the resulting solution set to disk.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rawblock/joinmarket-unmix/internal/archive"
	"github.com/rawblock/joinmarket-unmix/internal/config"
	"github.com/rawblock/joinmarket-unmix/internal/enumerate"
	"github.com/rawblock/joinmarket-unmix/internal/errs"
	"github.com/rawblock/joinmarket-unmix/internal/fetch"
	"github.com/rawblock/joinmarket-unmix/internal/ilpsolve"
	"github.com/rawblock/joinmarket-unmix/internal/liveapi"
	"github.com/rawblock/joinmarket-unmix/internal/memguard"
	"github.com/rawblock/joinmarket-unmix/internal/solution"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg := config.Default()

	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: analyze <txid> [flags]")
		flag.PrintDefaults()
	}

	maxFeeRel := flag.Float64("max-fee-rel", cfg.MaxFeeRel, "max taker-to-maker fee as a fraction of equal_amount")
	maxSolutions := flag.Int("max-solutions", cfg.MaxSolutions, "maximum number of distinct solutions to enumerate")
	output := flag.String("output", "", "output JSON path (default solutions_<first8(txid)>.json)")
	timeoutPerSolve := flag.Int("timeout-per-solve", int(cfg.PerSolveTimeout.Seconds()), "per-solve wall-clock budget in seconds")
	memoryLimitGB := flag.Int("memory-limit-gb", int(cfg.MemoryLimitBytes/(1024*1024*1024)), "memory ceiling in GiB before the run aborts")
	mempoolURL := flag.String("mempool-url", fetch.DefaultMempoolURL, "block explorer base URL")
	archiveDSN := flag.String("archive-dsn", getEnvOrDefault("DATABASE_URL", ""), "optional Postgres DSN to archive completed analyses")
	serve := flag.Bool("serve", false, "run the live HTTP/WebSocket server instead of a one-shot analysis")
	port := flag.String("port", getEnvOrDefault("PORT", "8080"), "port for --serve")
	flag.Parse()

	cfg.MaxFeeRel = *maxFeeRel
	cfg.MaxSolutions = *maxSolutions
	cfg.PerSolveTimeout = time.Duration(*timeoutPerSolve) * time.Second
	cfg.MemoryLimitBytes = int64(*memoryLimitGB) * 1024 * 1024 * 1024

	fetcher := fetch.NewClient(*mempoolURL)
	backend := ilpsolve.NewAdaptive()

	var store *archive.Store
	if *archiveDSN != "" {
		s, err := archive.Connect(context.Background(), *archiveDSN)
		if err != nil {
			log.Printf("archive: %v (continuing without persistence)", err)
		} else {
			defer s.Close()
			if err := s.InitSchema(context.Background()); err != nil {
				log.Printf("archive: schema init failed: %v", err)
			} else {
				store = s
			}
		}
	}

	if *serve {
		return runServer(fetcher, cfg, backend, store, *port)
	}

	if flag.NArg() != 1 {
		flag.Usage()
		return exitInputError
	}
	txid := flag.Arg(0)
	outPath := *output
	if outPath == "" {
		outPath = defaultOutputPath(txid)
	}

	return runOnce(fetcher, cfg, backend, store, txid, outPath)
}

const (
	exitSuccess     = 0
	exitNoSolutions = 1
	exitCancelled   = 2
	exitInputError  = 3
	exitSolverError = 4
	exitMemoryLimit = 5
)

func runOnce(fetcher *fetch.Client, cfg config.Config, backend ilpsolve.Backend, store *archive.Store, txid, outPath string) int {
	ctx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	ctx, stopGuard, guard := memguard.Watch(ctx, cfg.MemoryLimitBytes)
	defer stopGuard()

	tx, err := fetcher.Fetch(ctx, txid)
	if err != nil {
		log.Printf("fetch failed: %v", err)
		return exitCodeForError(err)
	}
	log.Printf("analyzing %s: %d inputs, %d equal outputs of %d sats, %d change outputs, network fee %d sats",
		tx.Txid, tx.NumInputs(), tx.N, tx.EqualAmount, tx.NumChange(), tx.NetworkFee)

	var partial []solution.Solution
	flush := func(s solution.Solution) {
		partial = append(partial, s)
		data := solution.Document(tx, partial)
		if err := solution.WriteAtomic(outPath, data); err != nil {
			log.Printf("incremental write failed: %v", err)
		}
	}

	solutions, runErr := enumerate.Run(ctx, tx, cfg, backend, flush)

	data := solution.Document(tx, solutions)
	if err := solution.WriteAtomic(outPath, data); err != nil {
		log.Printf("final write failed: %v", err)
	}

	if store != nil {
		if err := store.SaveAnalysis(context.Background(), tx, cfg.MaxFeeRel, solutions); err != nil {
			log.Printf("archive: save failed: %v", err)
		}
	}

	if guard.Tripped() {
		log.Printf("memory limit exceeded; %d solution(s) saved to %s", len(solutions), outPath)
		return exitMemoryLimit
	}

	if runErr != nil {
		log.Printf("%v", runErr)
		log.Printf("%d solution(s) saved to %s", len(solutions), outPath)
		return exitCodeForError(runErr)
	}

	log.Printf("found %d distinct solution(s), saved to %s", len(solutions), outPath)
	if len(solutions) == 0 {
		return exitNoSolutions
	}
	return exitSuccess
}

func runServer(fetcher *fetch.Client, cfg config.Config, backend ilpsolve.Backend, store *archive.Store, port string) int {
	hub := liveapi.NewHub()
	go hub.Run()

	handler := &liveapi.Handler{
		Fetcher: fetcher,
		Config:  cfg,
		Backend: backend,
		Hub:     hub,
		Store:   store,
	}
	router := liveapi.SetupRouter(handler)

	log.Printf("live server listening on :%s", port)
	if err := router.Run(":" + port); err != nil {
		log.Printf("server exited: %v", err)
		return exitSolverError
	}
	return exitSuccess
}

func exitCodeForError(err error) int {
	var e *errs.Error
	if !errors.As(err, &e) {
		return exitSolverError
	}
	switch e.Kind {
	case errs.KindInputError:
		return exitInputError
	case errs.KindNetworkError:
		return exitInputError
	case errs.KindInfeasible:
		return exitNoSolutions
	case errs.KindCancelled:
		return exitCancelled
	case errs.KindMemoryLimitExceeded:
		return exitMemoryLimit
	case errs.KindTimeLimit, errs.KindSolverError:
		return exitSolverError
	default:
		return exitSolverError
	}
}

func defaultOutputPath(txid string) string {
	prefix := txid
	if len(prefix) > 8 {
		prefix = prefix[:8]
	}
	return fmt.Sprintf("solutions_%s.json", prefix)
}

func getEnvOrDefault(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}
