package web

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	"github.com/nz-facilities/internal/facility"
)

// Server serves one loaded change set read-only.
type Server struct {
	changes    *ChangeSet
	httpServer *http.Server
	router     *mux.Router
}

// NewServer creates a review server for a change set.
func NewServer(addr string, changes *ChangeSet) *Server {
	s := &Server{changes: changes}
	s.setupRoutes()
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) setupRoutes() {
	s.router = mux.NewRouter()
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")

	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/changes", s.handleChanges).Methods("GET")
	api.HandleFunc("/changes/{action}", s.handleChangesByAction).Methods("GET")
	api.HandleFunc("/summary", s.handleSummary).Methods("GET")

	s.router.Use(requestLogging)
}

// Start serves until SIGINT or SIGTERM, then shuts down gracefully.
func (s *Server) Start() error {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		fmt.Printf("Serving change review on http://%s\n", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("server error: %v", err)
		}
	}()

	<-stop
	fmt.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"status":  "ok",
		"domain":  s.changes.Domain,
		"records": len(s.changes.Records),
	})
}

func (s *Server) handleChanges(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.changes)
}

func (s *Server) handleChangesByAction(w http.ResponseWriter, r *http.Request) {
	action := facility.ChangeAction(mux.Vars(r)["action"])
	switch action {
	case facility.ActionIgnore, facility.ActionAdd, facility.ActionRemove,
		facility.ActionUpdateGeom, facility.ActionUpdateAttr,
		facility.ActionUpdateGeomAttr, facility.ActionCannotCompare:
	default:
		http.Error(w, fmt.Sprintf("unknown change action %q", action), http.StatusNotFound)
		return
	}
	records := s.changes.ByAction(action)
	if records == nil {
		records = []ChangeRecord{}
	}
	writeJSON(w, records)
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.changes.Summary())
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("encoding response: %v", err)
	}
}

// requestLogging logs each request with its duration.
func requestLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Printf("%s %s %v", r.Method, r.URL.Path, time.Since(start))
	})
}
