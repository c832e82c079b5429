package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/bobmcallan/vire-scanner/internal/models"
	"github.com/bobmcallan/vire-scanner/internal/services/scanner"
)

const defaultSessionLimit = 20

// marketParam parses the {market} path segment, writing a 400 when invalid.
func marketParam(w http.ResponseWriter, r *http.Request, prefix string) (models.Market, bool) {
	raw := PathParam(r, prefix, "")
	market, ok := models.ParseMarket(raw)
	if !ok {
		WriteError(w, http.StatusBadRequest, "Unknown market: "+raw)
		return "", false
	}
	return market, true
}

// writeScanError maps scanner errors onto HTTP statuses.
func writeScanError(w http.ResponseWriter, err error) {
	var fetchErr *scanner.FetchError
	switch {
	case errors.Is(err, scanner.ErrScanInProgress):
		WriteErrorWithCode(w, http.StatusConflict, err.Error(), "scan_in_progress")
	case errors.Is(err, scanner.ErrUnknownMarket):
		WriteErrorWithCode(w, http.StatusNotFound, err.Error(), "unknown_market")
	case errors.As(err, &fetchErr) && fetchErr.Kind == models.FetchErrorNotFound:
		WriteErrorWithCode(w, http.StatusNotFound, err.Error(), string(fetchErr.Kind))
	case errors.As(err, &fetchErr):
		WriteErrorWithCode(w, http.StatusBadGateway, err.Error(), string(fetchErr.Kind))
	default:
		WriteError(w, http.StatusInternalServerError, err.Error())
	}
}

// handleScanRun handles POST /api/scanner/run/{market} with optional thresholds.
func (s *Server) handleScanRun(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	market, ok := marketParam(w, r, "/api/scanner/run/")
	if !ok {
		return
	}

	var thresholds models.Thresholds
	if !DecodeOptionalJSON(w, r, &thresholds) {
		return
	}
	if thresholds.MinSqueezeDays < 0 || thresholds.MinTurnover < 0 || thresholds.MinVolumeRatio < 0 {
		WriteError(w, http.StatusBadRequest, "Thresholds must not be negative")
		return
	}

	session, err := s.scans.StartScan(r.Context(), market, models.ScanTriggerManual, thresholds)
	if err != nil {
		writeScanError(w, err)
		return
	}
	WriteJSON(w, http.StatusAccepted, session)
}

// handleScanCancel handles POST /api/scanner/cancel/{market}.
func (s *Server) handleScanCancel(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	market, ok := marketParam(w, r, "/api/scanner/cancel/")
	if !ok {
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"market":    market,
		"cancelled": s.scans.CancelScan(market),
	})
}

// handleScanResults handles GET /api/scanner/results/{market}.
func (s *Server) handleScanResults(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	market, ok := marketParam(w, r, "/api/scanner/results/")
	if !ok {
		return
	}

	res, err := s.scans.GetLatest(r.Context(), market)
	if err != nil {
		writeScanError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, res)
}

// handleScanResultsAll handles GET /api/scanner/results.
func (s *Server) handleScanResultsAll(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	all, err := s.scans.GetAllLatest(r.Context())
	if err != nil {
		writeScanError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, all)
}

// handleScanSessions handles GET /api/scanner/sessions/{market}?limit=N.
func (s *Server) handleScanSessions(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	market, ok := marketParam(w, r, "/api/scanner/sessions/")
	if !ok {
		return
	}

	sessions, err := s.scans.ListSessions(r.Context(), market, QueryInt(r, "limit", defaultSessionLimit))
	if err != nil {
		writeScanError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"market":   market,
		"sessions": sessions,
	})
}

// handleScanStatus handles GET /api/scanner/status.
func (s *Server) handleScanStatus(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	WriteJSON(w, http.StatusOK, s.app.Status())
}

// handleScanAnalyze handles GET /api/scanner/analyze/{market}/{symbol}.
func (s *Server) handleScanAnalyze(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	market, ok := marketParam(w, r, "/api/scanner/analyze/")
	if !ok {
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/api/scanner/analyze/")
	_, symbol, _ := strings.Cut(rest, "/")
	symbol = strings.Trim(symbol, "/ ")
	if symbol == "" || strings.Contains(symbol, "/") {
		WriteError(w, http.StatusBadRequest, "Symbol is required")
		return
	}

	analysis, err := s.scans.AnalyzeSymbol(r.Context(), market, symbol)
	if err != nil {
		writeScanError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, analysis)
}
