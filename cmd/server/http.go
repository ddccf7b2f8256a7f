package main

import (
	"encoding/json"
	"log"
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"cellarena.io/internal/persistence/indexdb"
	"cellarena.io/internal/sim/world"
	"cellarena.io/internal/transport/observer"
)

type routerDeps struct {
	world    *world.World
	gatherer prometheus.Gatherer
	observer *observer.Server
	index    *indexdb.SQLiteIndex
	admin    bool
	pprof    bool
	logger   *log.Logger
}

func newRouter(d routerDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(http.StatusOK)
		_, _ = rw.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.HandlerFor(d.gatherer, promhttp.HandlerOpts{}))

	if d.admin {
		// Local-only admin endpoints; they never mutate game state.
		r.Get("/admin/v1/state", d.observer.StateHandler())
		r.Get("/admin/v1/observer/ws", d.observer.WSHandler())
		r.Get("/admin/v1/index/stats", func(rw http.ResponseWriter, r *http.Request) {
			if !isLoopbackRemote(r.RemoteAddr) {
				http.Error(rw, "forbidden", http.StatusForbidden)
				return
			}
			rw.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(rw).Encode(struct {
				Enabled bool          `json:"enabled"`
				Stats   indexdb.Stats `json:"stats"`
			}{Enabled: d.index != nil, Stats: d.index.Stats()})
		})
	} else if d.logger != nil {
		d.logger.Printf("admin endpoints disabled (CA_ENABLE_ADMIN_HTTP=false)")
	}

	if d.pprof {
		r.HandleFunc("/debug/pprof/", pprof.Index)
		r.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		r.HandleFunc("/debug/pprof/profile", pprof.Profile)
		r.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		r.HandleFunc("/debug/pprof/trace", pprof.Trace)
		r.Handle("/debug/pprof/{name}", http.HandlerFunc(pprof.Index))
	} else if d.logger != nil {
		d.logger.Printf("pprof endpoints disabled (CA_ENABLE_PPROF_HTTP=false)")
	}
	return r
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func defaultEnableAdminHTTP() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("DEPLOY_ENV"))) {
	case "staging", "production":
		return false
	default:
		return true
	}
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}
