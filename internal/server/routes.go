package server

import (
	"net/http"
	"time"
)

// handleShutdown handles POST /api/shutdown (dev mode only).
func (s *Server) handleShutdown(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	if s.app.Config.IsProduction() {
		WriteError(w, http.StatusForbidden, "Shutdown endpoint disabled in production")
		return
	}

	s.logger.Info().Msg("Shutdown requested via HTTP endpoint")

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Shutting down gracefully...\n"))

	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}

	if s.shutdownChan != nil {
		go func() {
			time.Sleep(100 * time.Millisecond)
			s.shutdownChan <- struct{}{}
		}()
	}
}

// registerRoutes sets up all REST API routes on the mux.
func (s *Server) registerRoutes(mux *http.ServeMux) {
	// System
	mux.HandleFunc("/api/health", s.handleHealth)
	mux.HandleFunc("/api/version", s.handleVersion)
	mux.HandleFunc("/api/market-status", s.handleMarketStatus)
	mux.HandleFunc("/api/shutdown", s.handleShutdown)

	// Scanner
	mux.HandleFunc("/api/scanner/run/", s.handleScanRun)
	mux.HandleFunc("/api/scanner/cancel/", s.handleScanCancel)
	mux.HandleFunc("/api/scanner/results/", s.handleScanResults)
	mux.HandleFunc("/api/scanner/results", s.handleScanResultsAll)
	mux.HandleFunc("/api/scanner/sessions/", s.handleScanSessions)
	mux.HandleFunc("/api/scanner/status", s.handleScanStatus)
	mux.HandleFunc("/api/scanner/analyze/", s.handleScanAnalyze)
}
