package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/gorilla/mux"
	stdprometheus "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/weaveworks/common/middleware"

	fluxmetrics "github.com/fluxcd/ecsroll/pkg/metrics"
	"github.com/fluxcd/ecsroll/pkg/rollout"
)

var (
	requestDuration = stdprometheus.NewHistogramVec(stdprometheus.HistogramOpts{
		Namespace: "ecsroll",
		Name:      "request_duration_seconds",
		Help:      "Time (in seconds) spent serving HTTP requests.",
		Buckets:   stdprometheus.DefBuckets,
	}, []string{fluxmetrics.LabelMethod, fluxmetrics.LabelRoute, "status_code", "ws"})
)

func init() {
	stdprometheus.MustRegister(requestDuration)
}

// Server is what the API reports on; *rollout.Coordinator is one.
type Server interface {
	Verify(ctx context.Context) error
	Status(ctx context.Context) []rollout.Status
}

func NewRouter() *mux.Router {
	r := NewAPIRouter()
	r.NewRoute().Name("NotFound").HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		WriteError(w, r, http.StatusNotFound, MakeAPINotFound(r.URL.Path))
	})
	return r
}

func NewHandler(s Server, outcomes *OutcomeStore, r *mux.Router) http.Handler {
	handle := APIServer{server: s, outcomes: outcomes}
	r.Get(Verify).HandlerFunc(handle.Verify)
	r.Get(Status).HandlerFunc(handle.Status)
	r.Get(Outcomes).HandlerFunc(handle.Outcomes)

	return middleware.Instrument{
		RouteMatcher: r,
		Duration:     requestDuration,
	}.Wrap(r)
}

type APIServer struct {
	server   Server
	outcomes *OutcomeStore
}

func (s APIServer) Verify(w http.ResponseWriter, r *http.Request) {
	if err := s.server.Verify(r.Context()); err != nil {
		ErrorResponse(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s APIServer) Status(w http.ResponseWriter, r *http.Request) {
	JSONResponse(w, r, s.server.Status(r.Context()))
}

func (s APIServer) Outcomes(w http.ResponseWriter, r *http.Request) {
	JSONResponse(w, r, s.outcomes.Outcomes(r.URL.Query().Get("service")))
}

// NewMux puts the API under /api, next to metrics and a liveness
// check.
func NewMux(s Server, outcomes *OutcomeStore) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	mux.Handle("/api/", http.StripPrefix("/api", NewHandler(s, outcomes, NewRouter())))
	return mux
}

// ListenAndServe serves NewMux on listenAddr until ctx is done, then
// shuts down gracefully.
func ListenAndServe(ctx context.Context, listenAddr string, s Server, outcomes *OutcomeStore, logger log.Logger) error {
	srv := &http.Server{
		Addr:         listenAddr,
		Handler:      NewMux(s, outcomes),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 1 * time.Minute,
		IdleTimeout:  15 * time.Second,
	}

	logger.Log("info", fmt.Sprintf("Starting HTTP server on %s", listenAddr))
	errc := make(chan error, 1)
	go func() {
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdown); err != nil {
		logger.Log("warn", fmt.Sprintf("HTTP server graceful shutdown failed %v", err))
		return err
	}
	logger.Log("info", "HTTP server stopped")
	return nil
}
