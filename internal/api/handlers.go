package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/gorilla/mux"

	"github.com/ducminhle1904/adaptive-dip-bot/internal/engine"
	boterrors "github.com/ducminhle1904/adaptive-dip-bot/internal/errors"
	"github.com/ducminhle1904/adaptive-dip-bot/internal/ledger"
	"github.com/ducminhle1904/adaptive-dip-bot/internal/strategy"
)

const maxBodyBytes = 1 << 20

type errorResponse struct {
	Error    string `json:"error"`
	Category string `json:"category,omitempty"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warning("Encode response: %v", err)
	}
}

// writeError maps categorized errors onto status codes
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	resp := errorResponse{Error: err.Error()}

	var botErr *boterrors.BotError
	if errors.As(err, &botErr) {
		resp.Category = string(botErr.Category)
		switch botErr.Category {
		case boterrors.ErrorCategoryValidation, boterrors.ErrorCategoryConfiguration:
			status = http.StatusBadRequest
		case boterrors.ErrorCategoryUnknownAsset:
			status = http.StatusNotFound
		case boterrors.ErrorCategoryInsufficientData:
			status = http.StatusConflict
		case boterrors.ErrorCategoryQuoteUnavailable, boterrors.ErrorCategoryExecutionFailed:
			status = http.StatusBadGateway
		}
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error("API request failed: %v", err)
	}
	s.writeJSON(w, status, resp)
}

func (s *Server) notFound(w http.ResponseWriter, what, id string) {
	s.writeJSON(w, http.StatusNotFound, errorResponse{Error: fmt.Sprintf("%s %s not found", what, id)})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return boterrors.NewValidationError("api", "decode", "invalid request body: "+err.Error())
	}
	return nil
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.controller.Status())
}

func (s *Server) handleLedgers(w http.ResponseWriter, r *http.Request) {
	ledgers := s.controller.Ledgers()
	out := make([]ledger.AssetLedger, 0, len(ledgers))
	for _, l := range ledgers {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if err := s.controller.SaveSnapshot(r.Context()); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "saved"})
}

func (s *Server) handleListAssets(w http.ResponseWriter, r *http.Request) {
	assets := s.controller.Status().Assets
	if assets == nil {
		assets = []engine.AssetStatus{}
	}
	s.writeJSON(w, http.StatusOK, assets)
}

func (s *Server) handleAddAsset(w http.ResponseWriter, r *http.Request) {
	var spec engine.AssetSpec
	if err := decodeBody(w, r, &spec); err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.controller.AddAsset(r.Context(), spec); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, spec)
}

func (s *Server) handleRemoveAsset(w http.ResponseWriter, r *http.Request) {
	if err := s.controller.RemoveAsset(mux.Vars(r)["address"]); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleHistory serves stored points. since is RFC3339; window is a
// duration back from now. Without either the last hour is returned.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	since := time.Now().Add(-time.Hour)
	q := r.URL.Query()
	if v := q.Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			s.writeError(w, boterrors.NewValidationError("api", "history", "since must be RFC3339"))
			return
		}
		since = t
	} else if v := q.Get("window"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			s.writeError(w, boterrors.NewValidationError("api", "history", "window must be a positive duration"))
			return
		}
		since = time.Now().Add(-d)
	}

	address := mux.Vars(r)["address"]
	points, err := s.controller.PriceHistory(address, since)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"asset":  address,
		"since":  since,
		"count":  len(points),
		"points": points,
	})
}

func (s *Server) handleListStrategies(w http.ResponseWriter, r *http.Request) {
	list := s.controller.Status().Strategies
	if list == nil {
		list = []strategy.Status{}
	}
	s.writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleCreateStrategy(w http.ResponseWriter, r *http.Request) {
	var req strategyRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	cfg, err := req.toConfig()
	if err != nil {
		s.writeError(w, err)
		return
	}
	st, err := s.controller.CreateStrategy(r.Context(), cfg)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if req.AutoStart {
		if err := s.controller.StartStrategy(st.ID); err != nil {
			s.writeError(w, err)
			return
		}
		st, _ = s.controller.StrategyStatus(st.ID)
	}
	s.writeJSON(w, http.StatusCreated, st)
}

func (s *Server) handleGetStrategy(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	st, ok := s.controller.StrategyStatus(id)
	if !ok {
		s.notFound(w, "strategy", id)
		return
	}
	s.writeJSON(w, http.StatusOK, st)
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	positions, ok := s.controller.StrategyPositions(id)
	if !ok {
		s.notFound(w, "strategy", id)
		return
	}
	if positions == nil {
		positions = []strategy.Position{}
	}
	s.writeJSON(w, http.StatusOK, positions)
}

func (s *Server) handleStartStrategy(w http.ResponseWriter, r *http.Request) {
	s.strategyAction(w, r, func(id string) error { return s.controller.StartStrategy(id) })
}

func (s *Server) handleStopStrategy(w http.ResponseWriter, r *http.Request) {
	s.strategyAction(w, r, func(id string) error { return s.controller.StopStrategy(id) })
}

func (s *Server) handleCloseStrategy(w http.ResponseWriter, r *http.Request) {
	s.strategyAction(w, r, func(id string) error { return s.controller.CloseStrategy(r.Context(), id) })
}

// strategyAction runs fn on an existing strategy and replies with its
// updated status
func (s *Server) strategyAction(w http.ResponseWriter, r *http.Request, fn func(id string) error) {
	id := mux.Vars(r)["id"]
	if _, ok := s.controller.StrategyStatus(id); !ok {
		s.notFound(w, "strategy", id)
		return
	}
	if err := fn(id); err != nil {
		s.writeError(w, err)
		return
	}
	st, _ := s.controller.StrategyStatus(id)
	s.writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleListTriggers(w http.ResponseWriter, r *http.Request) {
	list := s.controller.Triggers()
	if list == nil {
		s.writeJSON(w, http.StatusOK, []interface{}{})
		return
	}
	s.writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleCreateTrigger(w http.ResponseWriter, r *http.Request) {
	var req triggerRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	t, err := req.toTrigger()
	if err != nil {
		s.writeError(w, err)
		return
	}
	created, err := s.controller.CreateTrigger(r.Context(), t)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleRemoveTrigger(w http.ResponseWriter, r *http.Request) {
	if err := s.controller.RemoveTrigger(mux.Vars(r)["id"]); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
