package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/joho/godotenv"

	"docrag/internal/chunkstore/jsonl"
	"docrag/internal/config"
	"docrag/internal/server"
	"docrag/internal/service"
	"docrag/internal/tui"
)

const usage = `Usage: docrag [--config=config.yaml] <command> [args]

Commands:
  ingest FILE...   extract, chunk and embed files (globs allowed)
  query TEXT...    answer a question from the corpus
  search TEXT...   list the closest chunks without answering
  serve            run the HTTP server
  chat [FILE...]   open the terminal chat, ingesting FILEs first
  backfill         embed chunks left without vectors
  compact          rewrite the JSONL store with one record per chunk
  stats            print corpus counts
  reset            drop the whole corpus
`

func main() {
	_ = godotenv.Load()

	var cfgPath string
	flag.StringVar(&cfgPath, "config", "", "Path to YAML config file (optional; uses ~/.config/docrag/config.yaml if not provided)")
	flag.Usage = func() { fmt.Fprint(flag.CommandLine.Output(), usage) }
	flag.Parse()
	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	var cfg *config.AppConfig
	var err error
	if cfgPath == "" {
		cfg, _, err = config.LoadDefault()
	} else {
		cfg, err = config.Load(cfgPath)
	}
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := build(ctx, cfg)
	if err != nil {
		log.Fatalf("failed to start: %v", err)
	}
	code := run(ctx, a, args[0], args[1:])
	a.Close()
	os.Exit(code)
}

func run(ctx context.Context, a *app, cmd string, args []string) int {
	svc := a.svc
	switch cmd {
	case "ingest":
		if len(args) == 0 {
			fmt.Fprintln(os.Stderr, "ingest needs at least one file")
			return 2
		}
		return printIngest(svc.IngestAll(ctx, args))
	case "query":
		res := svc.Query(ctx, strings.Join(args, " "))
		if res.Status == service.StatusError {
			fmt.Fprintf(os.Stderr, "error: %s\n", res.Message)
			if res.Payload != "" {
				fmt.Fprintf(os.Stderr, "payload: %s\n", res.Payload)
			}
			return 1
		}
		fmt.Println(res.Answer)
		for i, s := range res.Sources {
			fmt.Printf("  [%d] %s #%d (%.3f)\n", i+1, s.SourceName, s.Sequence, s.Similarity)
		}
		return 0
	case "search":
		hits, err := svc.Search(ctx, strings.Join(args, " "), 0)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			return 1
		}
		for _, h := range hits {
			fmt.Printf("%.3f  %s #%d  chunk %d\n    %s\n", h.Similarity, h.SourceName, h.Sequence, h.ChunkID, oneLine(h.Text, 160))
		}
		return 0
	case "serve":
		srv := server.New(svc, a.cfg.Ingest.DataDir, prefixed("[server] "),
			server.WithAccept(a.extractors.Supports),
			server.WithFrontend(a.cfg.Server.FrontendDir))
		errc := make(chan error, 1)
		go func() { errc <- srv.Start(a.cfg.Server.Addr) }()
		select {
		case err := <-errc:
			if err != nil {
				log.Printf("server: %v", err)
				return 1
			}
			return 0
		case <-ctx.Done():
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("shutdown: %v", err)
			return 1
		}
		return 0
	case "chat":
		if len(args) > 0 {
			if code := printIngest(svc.IngestAll(ctx, args)); code != 0 {
				return code
			}
		}
		st, err := svc.Stats(ctx)
		if err != nil {
			log.Printf("stats: %v", err)
			return 1
		}
		summary := fmt.Sprintf("%d chunks, %d embedded, %d pending", st.Chunks, st.Embedded, st.Pending)
		m := tui.New(svc, summary, 2*time.Minute)
		if _, err := tea.NewProgram(m, tea.WithContext(ctx)).Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
			log.Print(err)
			return 1
		}
		return 0
	case "backfill":
		res := svc.Backfill(ctx)
		fmt.Printf("%s: %s\n", res.Status, res.Message)
		if res.Status == service.StatusError {
			return 1
		}
		return 0
	case "compact":
		js, ok := a.store.(*jsonl.Store)
		if !ok {
			fmt.Fprintf(os.Stderr, "compact applies to the jsonl store, configured store is %s\n", a.cfg.Store.Type)
			return 2
		}
		if err := js.Compact(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			return 1
		}
		fmt.Println("compacted", a.cfg.Store.Path)
		return 0
	case "stats":
		st, err := svc.Stats(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			return 1
		}
		fmt.Printf("chunks=%d embedded=%d pending=%d dimension=%d\n", st.Chunks, st.Embedded, st.Pending, st.Dimension)
		return 0
	case "reset":
		if err := svc.Reset(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			return 1
		}
		fmt.Println("corpus reset")
		return 0
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", cmd, usage)
		return 2
	}
}

func printIngest(results []service.IngestResult) int {
	code := 0
	for _, r := range results {
		fmt.Printf("%s: %s\n", r.Status, r.Message)
		if r.Status == service.StatusError {
			code = 1
		}
	}
	return code
}

func oneLine(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > n {
		return string(r[:n]) + "..."
	}
	return s
}
