package server

import (
	"net/http"

	"github.com/bobmcallan/vire-scanner/internal/common"
	"github.com/bobmcallan/vire-scanner/internal/models"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet, http.MethodHead) {
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet, http.MethodHead) {
		return
	}
	WriteJSON(w, http.StatusOK, common.GetVersionInfo())
}

// handleMarketStatus handles GET /api/market-status[?market=AU].
// The default is the US session.
func (s *Server) handleMarketStatus(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	market := models.MarketUS
	if q := r.URL.Query().Get("market"); q != "" {
		m, ok := models.ParseMarket(q)
		if !ok {
			WriteError(w, http.StatusBadRequest, "Unknown market: "+q)
			return
		}
		market = m
	}

	status, err := marketStatusAt(market, s.now())
	if err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, status)
}
