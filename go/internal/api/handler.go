// Package api serves the game service as JSON over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/mcdev12/capturezone/go/internal/metrics"
	"github.com/mcdev12/capturezone/go/internal/models"
	"github.com/rs/zerolog/log"
)

// Game is the part of game.Service the HTTP layer serves.
type Game interface {
	GetMatch(ctx context.Context, matchID uuid.UUID) (*models.Match, error)
	GetGameTime(ctx context.Context, matchID uuid.UUID) (models.GameTime, error)
	GetControlPointTimes(ctx context.Context, matchID uuid.UUID) ([]models.ControlPointTime, error)
	GetBombTime(ctx context.Context, controlPointID uuid.UUID) (*models.BombTimeData, error)
	GetCurrentAreaControlSnapshot(ctx context.Context, matchID uuid.UUID) (map[uuid.UUID]map[string]float64, error)
	GetResultsReport(ctx context.Context, matchID uuid.UUID) (*models.ResultsReport, error)
	OnMatchLifecycle(ctx context.Context, matchID uuid.UUID, action models.LifecycleAction) (models.HistoryEvent, error)
	OnPositionUpdate(matchID uuid.UUID, userID string, lat, lng, accuracy float64) bool
	CapturePoint(ctx context.Context, controlPointID uuid.UUID, userID, code string) (models.ControlPointTime, error)
	ArmBomb(ctx context.Context, controlPointID uuid.UUID, userID, code string) (*models.BombTimeData, error)
	DisarmBomb(ctx context.Context, controlPointID uuid.UUID, userID, code string) (*models.BombTimeData, error)
}

type Handler struct {
	game Game
}

func NewHandler(game Game) *Handler {
	return &Handler{game: game}
}

// RegisterRoutes mounts every route on r, each counted under its own name on m. m may be nil.
func (h *Handler) RegisterRoutes(r *mux.Router, m *metrics.Metrics) {
	route := func(method, path, name string, fn http.HandlerFunc) {
		r.Handle(path, m.WrapHandler(name, fn)).Methods(method)
	}

	route(http.MethodGet, "/health", "health", h.health)

	route(http.MethodGet, "/matches/{matchId}", "match", h.getMatch)
	route(http.MethodGet, "/matches/{matchId}/time", "game_time", h.getGameTime)
	route(http.MethodGet, "/matches/{matchId}/control-points/times", "control_point_times", h.getControlPointTimes)
	route(http.MethodGet, "/matches/{matchId}/area-control", "area_control", h.getAreaControl)
	route(http.MethodGet, "/matches/{matchId}/results", "results", h.getResults)
	route(http.MethodPost, "/matches/{matchId}/lifecycle/{action}", "lifecycle", h.postLifecycle)
	route(http.MethodPost, "/matches/{matchId}/positions", "position", h.postPosition)

	route(http.MethodGet, "/control-points/{controlPointId}/bomb", "bomb_time", h.getBombTime)
	route(http.MethodPost, "/control-points/{controlPointId}/capture", "capture", h.postCapture)
	route(http.MethodPost, "/control-points/{controlPointId}/bomb/arm", "bomb_arm", h.postArm)
	route(http.MethodPost, "/control-points/{controlPointId}/bomb/disarm", "bomb_disarm", h.postDisarm)
}

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) getMatch(w http.ResponseWriter, r *http.Request) {
	matchID, ok := pathID(w, r, "matchId")
	if !ok {
		return
	}
	match, err := h.game.GetMatch(r.Context(), matchID)
	respond(w, r, match, err)
}

func (h *Handler) getGameTime(w http.ResponseWriter, r *http.Request) {
	matchID, ok := pathID(w, r, "matchId")
	if !ok {
		return
	}
	gt, err := h.game.GetGameTime(r.Context(), matchID)
	respond(w, r, gt, err)
}

func (h *Handler) getControlPointTimes(w http.ResponseWriter, r *http.Request) {
	matchID, ok := pathID(w, r, "matchId")
	if !ok {
		return
	}
	times, err := h.game.GetControlPointTimes(r.Context(), matchID)
	respond(w, r, times, err)
}

func (h *Handler) getAreaControl(w http.ResponseWriter, r *http.Request) {
	matchID, ok := pathID(w, r, "matchId")
	if !ok {
		return
	}
	snap, err := h.game.GetCurrentAreaControlSnapshot(r.Context(), matchID)
	respond(w, r, snap, err)
}

func (h *Handler) getResults(w http.ResponseWriter, r *http.Request) {
	matchID, ok := pathID(w, r, "matchId")
	if !ok {
		return
	}
	report, err := h.game.GetResultsReport(r.Context(), matchID)
	respond(w, r, report, err)
}

func (h *Handler) postLifecycle(w http.ResponseWriter, r *http.Request) {
	matchID, ok := pathID(w, r, "matchId")
	if !ok {
		return
	}
	action := models.LifecycleAction(mux.Vars(r)["action"])
	switch action {
	case models.ActionStart, models.ActionPause, models.ActionResume, models.ActionEnd, models.ActionRestart:
	default:
		writeError(w, http.StatusBadRequest, "unknown lifecycle action")
		return
	}
	event, err := h.game.OnMatchLifecycle(r.Context(), matchID, action)
	respond(w, r, event, err)
}

type positionRequest struct {
	UserID    string  `json:"userId"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Accuracy  float64 `json:"accuracy"`
}

func (h *Handler) postPosition(w http.ResponseWriter, r *http.Request) {
	matchID, ok := pathID(w, r, "matchId")
	if !ok {
		return
	}
	var req positionRequest
	if !decode(w, r, &req) {
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "userId is required")
		return
	}
	accepted := h.game.OnPositionUpdate(matchID, req.UserID, req.Latitude, req.Longitude, req.Accuracy)
	writeJSON(w, http.StatusAccepted, map[string]bool{"accepted": accepted})
}

func (h *Handler) getBombTime(w http.ResponseWriter, r *http.Request) {
	cpID, ok := pathID(w, r, "controlPointId")
	if !ok {
		return
	}
	bomb, err := h.game.GetBombTime(r.Context(), cpID)
	respond(w, r, bomb, err)
}

type codeRequest struct {
	UserID string `json:"userId"`
	Code   string `json:"code"`
}

// codeAction decodes a code request for the control point in the path.
func codeAction(w http.ResponseWriter, r *http.Request) (uuid.UUID, codeRequest, bool) {
	cpID, ok := pathID(w, r, "controlPointId")
	if !ok {
		return uuid.Nil, codeRequest{}, false
	}
	var req codeRequest
	if !decode(w, r, &req) {
		return uuid.Nil, codeRequest{}, false
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "userId is required")
		return uuid.Nil, codeRequest{}, false
	}
	return cpID, req, true
}

func (h *Handler) postCapture(w http.ResponseWriter, r *http.Request) {
	cpID, req, ok := codeAction(w, r)
	if !ok {
		return
	}
	cpt, err := h.game.CapturePoint(r.Context(), cpID, req.UserID, req.Code)
	respond(w, r, cpt, err)
}

func (h *Handler) postArm(w http.ResponseWriter, r *http.Request) {
	cpID, req, ok := codeAction(w, r)
	if !ok {
		return
	}
	bomb, err := h.game.ArmBomb(r.Context(), cpID, req.UserID, req.Code)
	respond(w, r, bomb, err)
}

func (h *Handler) postDisarm(w http.ResponseWriter, r *http.Request) {
	cpID, req, ok := codeAction(w, r)
	if !ok {
		return
	}
	bomb, err := h.game.DisarmBomb(r.Context(), cpID, req.UserID, req.Code)
	respond(w, r, bomb, err)
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(mux.Vars(r)[name])
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func respond(w http.ResponseWriter, r *http.Request, v any, err error) {
	if err != nil {
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
			writeError(w, status, "internal error")
			return
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrInvalidStateTransition):
		return http.StatusConflict
	case errors.Is(err, models.ErrInvalidCode):
		return http.StatusForbidden
	case errors.Is(err, models.ErrChallengeDisabled):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to write response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
