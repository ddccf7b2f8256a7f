package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"cellarena.io/internal/metrics"
	"cellarena.io/internal/persistence/indexdb"
	persistlog "cellarena.io/internal/persistence/log"
	"cellarena.io/internal/sim/tuning"
	"cellarena.io/internal/sim/world"
	"cellarena.io/internal/transport/broadcast"
	"cellarena.io/internal/transport/observer"
	"cellarena.io/internal/transport/tcp"
)

func main() {
	var (
		addr        = flag.String("addr", "127.0.0.1:9999", "game tcp listen address")
		httpAddr    = flag.String("http", "127.0.0.1:9090", "admin/metrics http listen address (empty to disable)")
		tuningPath  = flag.String("tuning", "./configs/tuning.yaml", "path to tuning.yaml")
		dataDir     = flag.String("data", "./data", "runtime data directory")
		disableDB   = flag.Bool("disable_db", false, "disable the sqlite session index")
		seed        = flag.Int64("seed", 0, "world seed (0: time based)")
		acceptRate  = flag.Float64("accept_rate", 0, "max new connections per second per remote IP (0: unlimited)")
		acceptBurst = flag.Int("accept_burst", 5, "burst for -accept_rate")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	tune, err := tuning.Load(*tuningPath)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Fatalf("load tuning: %v", err)
		}
		logger.Printf("tuning not found (%s); using defaults", *tuningPath)
		tune = tuning.Defaults()
	}
	if *seed == 0 {
		*seed = time.Now().UnixNano()
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	conns := broadcast.NewRegistry(logger, m)
	w := world.New(world.WorldConfig{Tuning: tune, Seed: *seed}, conns, logger, m)
	metrics.WorldGauges(reg, w.PlayerCount, conns.Len)
	logger.Printf("world ready: cells=%d map=%.0f seed=%d", w.CellCount(), tune.MapSize, *seed)

	if err := os.MkdirAll(*dataDir, 0o755); err != nil {
		logger.Fatalf("data dir: %v", err)
	}
	auditLog := persistlog.NewAuditLogger(*dataDir)
	defer auditLog.Close()

	var idx *indexdb.SQLiteIndex
	if !*disableDB {
		idx, err = indexdb.OpenSQLite(filepath.Join(*dataDir, "index", "sessions.sqlite"))
		if err != nil {
			logger.Fatalf("open index: %v", err)
		}
		defer idx.Close()
		if err := idx.UpsertTuning(tune); err != nil {
			logger.Printf("index: upsert tuning: %v", err)
		}
	}
	w.SetAuditLogger(multiAuditLogger{a: auditLog, b: idx})

	ctx, cancel := signalContext()
	defer cancel()

	if strings.TrimSpace(*httpAddr) != "" {
		srv := &http.Server{
			Addr: *httpAddr,
			Handler: newRouter(routerDeps{
				world:    w,
				gatherer: reg,
				observer: observer.NewServer(w, logger, m),
				index:    idx,
				admin:    envBool("CA_ENABLE_ADMIN_HTTP", defaultEnableAdminHTTP()),
				pprof:    envBool("CA_ENABLE_PPROF_HTTP", false),
				logger:   logger,
			}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			<-ctx.Done()
			ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel2()
			_ = srv.Shutdown(ctx2)
		}()
		go func() {
			logger.Printf("http listening on %s", *httpAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Printf("http: %v", err)
			}
		}()
	}

	game := tcp.NewServer(w, tcp.Config{
		Addr:        *addr,
		AcceptRate:  *acceptRate,
		AcceptBurst: *acceptBurst,
	}, logger, m)
	if err := game.ListenAndServe(ctx); err != nil {
		logger.Fatalf("tcp: %v", err)
	}
	logger.Printf("shutdown complete")
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}

type multiAuditLogger struct {
	a world.AuditLogger
	b world.AuditLogger
}

func (m multiAuditLogger) WriteAudit(entry world.AuditEntry) error {
	if m.a != nil {
		_ = m.a.WriteAudit(entry)
	}
	if m.b != nil {
		_ = m.b.WriteAudit(entry)
	}
	return nil
}
