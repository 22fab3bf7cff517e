package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/banshee-data/localba/internal/api"
	"github.com/banshee-data/localba/internal/config"
	"github.com/banshee-data/localba/internal/db"
	"github.com/banshee-data/localba/internal/lbastats"
	"github.com/banshee-data/localba/internal/localba"
	"github.com/banshee-data/localba/internal/sfm"
	"github.com/banshee-data/localba/internal/version"
)

var (
	scenePath   = flag.String("scene", "", "Scene JSON file to adjust (required)")
	newViews    = flag.String("new-views", "", "Comma-separated ids of the newly registered views; empty runs a full adjustment")
	replayBatch = flag.Int("replay-batch", 0, "Replay view registration in batches of this size instead of -new-views")
	configPath  = flag.String("config", "", "Local BA config file (.json or .yaml); defaults apply when empty")
	statsDir    = flag.String("stats-dir", "", "Directory for BaStats.txt, charts and dashboard")
	outputPath  = flag.String("output", "", "Write the adjusted scene to this file")
	dbPath      = flag.String("db", "", "SQLite database receiving the statistics records")
	debugAddr   = flag.String("debug-addr", "", "Serve /metrics, the dashboard and /debug/ on this address until interrupted")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

// options is the parsed command line.
type options struct {
	scene       string
	newViews    []sfm.ViewID
	replayBatch int
	config      string
	statsDir    string
	output      string
	db          string
}

func parseViewIDs(s string) ([]sfm.ViewID, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	var ids []sfm.ViewID
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		v, err := strconv.ParseUint(part, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid view id %q: %w", part, err)
		}
		ids = append(ids, sfm.ViewID(v))
	}
	return ids, nil
}

func loadConfig(path string) (*config.LocalBAConfig, error) {
	if path == "" {
		return config.DefaultLocalBAConfig(), nil
	}
	return config.LoadLocalBAConfig(path)
}

// batches splits the registered views of r into registration batches.
func batches(r *sfm.Reconstruction, size int) [][]sfm.ViewID {
	ids := r.RegisteredViewIDs()
	var out [][]sfm.ViewID
	for start := 0; start < len(ids); start += size {
		end := start + size
		if end > len(ids) {
			end = len(ids)
		}
		out = append(out, ids[start:end])
	}
	return out
}

// run adjusts the scene and writes the requested outputs. Adjustment
// failures are logged and counted; output failures are returned.
func run(ctx context.Context, o options, rec *lbastats.Recorder, out io.Writer) error {
	cfg, err := loadConfig(o.config)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	opts, err := localba.OptionsFromConfig(cfg)
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	r, tracks, err := sfm.LoadScene(o.scene)
	if err != nil {
		return err
	}
	log.Printf("loaded %s: %d views, %d poses, %d intrinsics, %d landmarks, %d observations",
		o.scene, len(r.Views), len(r.Poses), len(r.Intrinsics), len(r.Landmarks), r.ObservationCount())

	adj := localba.NewLocalAdjuster(opts, nil)
	adj.SetStatisticsContainer(rec)

	steps := [][]sfm.ViewID{o.newViews}
	if o.replayBatch > 0 {
		steps = batches(r, o.replayBatch)
	}

	failed := 0
	for i, step := range steps {
		if err := ctx.Err(); err != nil {
			return err
		}
		res, err := adj.AdjustNewViews(ctx, r, tracks, step)
		switch {
		case errors.Is(err, localba.ErrSolverFailed), errors.Is(err, localba.ErrEmptyProblem):
			failed++
			log.Printf("step %d/%d: %v", i+1, len(steps), err)
		case err != nil:
			return err
		default:
			log.Printf("step %d/%d: local=%v %s", i+1, len(steps), res.Local, res.Summary.BriefReport())
		}
	}
	fmt.Fprintf(out, "%d adjustments, %d failed, session %s\n", len(steps), failed, rec.SessionID())

	if o.output != "" {
		if err := sfm.SaveScene(o.output, r, tracks); err != nil {
			return err
		}
	}
	if o.statsDir != "" {
		if err := rec.ExportReport(o.statsDir); err != nil {
			log.Printf("failed to export statistics report: %v", err)
		}
	}
	if o.db != "" {
		database, err := db.NewDB(o.db)
		if err != nil {
			return fmt.Errorf("failed to open statistics database: %w", err)
		}
		defer database.Close()
		if err := database.InsertRecords(rec.SessionID(), filepath.Base(o.scene), rec.Records()); err != nil {
			return err
		}
	}
	return nil
}

// debugMux serves the metrics, the dashboard, the JSON statistics API and,
// when database is set, the tailsql console.
func debugMux(metrics *lbastats.Metrics, rec *lbastats.Recorder, database *db.DB) (*http.ServeMux, error) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/debug/localba/dashboard", lbastats.DashboardHandler(rec))
	mux.Handle("/api/", api.LoggingMiddleware(api.NewServer(rec, database).ServeMux()))
	mux.HandleFunc("/version", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, version.String())
	})
	if database != nil {
		if err := database.AttachAdminRoutes(mux); err != nil {
			return nil, err
		}
	}
	return mux, nil
}

func serveDebug(ctx context.Context, addr string, mux *http.ServeMux) {
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("debug server failed: %v", err)
		}
	}()
	log.Printf("debug server listening on %s", addr)

	<-ctx.Done()
	log.Println("shutting down debug server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("debug server shutdown error: %v", err)
		if err := server.Close(); err != nil {
			log.Printf("debug server force close error: %v", err)
		}
	}
}

func main() {
	if len(os.Args) > 1 && os.Args[1] == "migrate" {
		fs := flag.NewFlagSet("migrate", flag.ExitOnError)
		path := fs.String("db", "localba.db", "SQLite database path")
		_ = fs.Parse(os.Args[2:])
		if err := db.RunMigrateCommand(fs.Args(), *path, os.Stdout); err != nil {
			log.Fatal(err)
		}
		return
	}

	flag.Parse()
	if *showVersion {
		fmt.Println(version.String())
		return
	}
	if *scenePath == "" {
		log.Fatal("-scene is required")
	}
	ids, err := parseViewIDs(*newViews)
	if err != nil {
		log.Fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics := lbastats.NewMetrics()
	rec := lbastats.NewRecorder()
	rec.SetMetrics(metrics)

	o := options{
		scene:       *scenePath,
		newViews:    ids,
		replayBatch: *replayBatch,
		config:      *configPath,
		statsDir:    *statsDir,
		output:      *outputPath,
		db:          *dbPath,
	}
	if err := run(ctx, o, rec, os.Stdout); err != nil {
		log.Fatal(err)
	}

	if *debugAddr == "" {
		return
	}
	var database *db.DB
	if *dbPath != "" {
		database, err = db.NewDB(*dbPath)
		if err != nil {
			log.Fatalf("failed to open statistics database: %v", err)
		}
		defer database.Close()
	}
	mux, err := debugMux(metrics, rec, database)
	if err != nil {
		log.Fatal(err)
	}
	serveDebug(ctx, *debugAddr, mux)
}
