package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/gpusched/blocksbysm/occupancy/report"
)

// reportServer serves precomputed scenario reports as JSON.
type reportServer struct {
	reports []*report.Report
	byName  map[string]*report.Report
}

func newReportServer(reports []*report.Report) *reportServer {
	s := &reportServer{reports: reports, byName: make(map[string]*report.Report, len(reports))}
	for _, r := range reports {
		s.byName[r.Scenario] = r
	}
	return s
}

// scenarioEntry is one element of the /scenarios listing.
type scenarioEntry struct {
	Name    string `json:"name"`
	Streams int    `json:"streams"`
	Blocks  int    `json:"blocks"`
	NumSMs  int    `json:"num_sms"`
}

// Router returns the HTTP routes:
//
//	GET /scenarios                  scenario names with block counts
//	GET /scenarios/{name}           full report (summary and rows)
//	GET /scenarios/{name}/sms/{sm}  rows of one SM
func (s *reportServer) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/scenarios", s.listScenarios).Methods(http.MethodGet)
	r.HandleFunc("/scenarios/{name}", s.getScenario).Methods(http.MethodGet)
	r.HandleFunc("/scenarios/{name}/sms/{sm:[0-9]+}", s.getSM).Methods(http.MethodGet)
	return r
}

func (s *reportServer) listScenarios(w http.ResponseWriter, _ *http.Request) {
	entries := make([]scenarioEntry, 0, len(s.reports))
	for _, r := range s.reports {
		entries = append(entries, scenarioEntry{
			Name:    r.Scenario,
			Streams: len(r.Streams),
			Blocks:  len(r.Rows),
			NumSMs:  r.NumSMs,
		})
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *reportServer) getScenario(w http.ResponseWriter, req *http.Request) {
	r, ok := s.byName[mux.Vars(req)["name"]]
	if !ok {
		writeError(w, http.StatusNotFound, "unknown scenario")
		return
	}
	writeJSON(w, http.StatusOK, r)
}

func (s *reportServer) getSM(w http.ResponseWriter, req *http.Request) {
	vars := mux.Vars(req)
	r, ok := s.byName[vars["name"]]
	if !ok {
		writeError(w, http.StatusNotFound, "unknown scenario")
		return
	}
	sm, err := strconv.Atoi(vars["sm"])
	if err != nil || sm >= r.NumSMs {
		writeError(w, http.StatusNotFound, "unknown SM")
		return
	}
	rows := r.RowsForSM(sm)
	if rows == nil {
		rows = []report.Row{}
	}
	writeJSON(w, http.StatusOK, rows)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logrus.Warnf("writing response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// serveReports listens on addr until ctx is cancelled.
func serveReports(ctx context.Context, addr string, reports []*report.Report) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           newReportServer(reports).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logrus.Infof("Serving %d scenario reports on %s", len(reports), addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		logrus.Info("Shutting down report server")
		return srv.Shutdown(shutdownCtx)
	}
}
