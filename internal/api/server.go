package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"assembly-line-sim/internal/engine"
	"assembly-line-sim/internal/types"
	"assembly-line-sim/internal/web"
)

// Controller 产线对外开放的控制面，由 engine.Line 实现
type Controller interface {
	InjectDisruption(id types.StationID, kind types.DisruptionKind, duration int64) error
	SetPartsAvailable(id types.StationID, available bool) error
	Snapshot() types.LineStatistics
}

// ShortageSource 当前缺料工站的来源，由 supply.Simulator 实现
type ShortageSource interface {
	Shortages() []types.StationID
}

// Server 扰动控制 API、状态查询、WebSocket 推送和 Prometheus 指标
type Server struct {
	ctrl      Controller
	tracker   *web.StateTracker
	hub       *web.Hub
	shortages ShortageSource
	logger    *slog.Logger
}

// NewServer 创建 API 服务，tracker 和 hub 可以为 nil
func NewServer(ctrl Controller, tracker *web.StateTracker, hub *web.Hub, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{ctrl: ctrl, tracker: tracker, hub: hub, logger: logger.With("component", "api")}
}

// WithShortages 开启 GET /api/supply/shortages
func (s *Server) WithShortages(src ShortageSource) *Server {
	s.shortages = src
	return s
}

// Handler 注册全部路由
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("POST /api/disruptions", s.handleDisruption)
	mux.HandleFunc("POST /api/stations/{id}/parts", s.handleParts)
	if s.shortages != nil {
		mux.HandleFunc("GET /api/supply/shortages", s.handleShortages)
	}
	if s.tracker != nil {
		mux.HandleFunc("GET /api/state", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, s.tracker.GetStateSnapshot())
		})
		if s.hub != nil {
			mux.HandleFunc("/ws", s.hub.ServeWs(func() interface{} { return s.tracker.GetStateSnapshot() }))
		}
	}
	return mux
}

// disruptionRequest POST /api/disruptions 的请求体
type disruptionRequest struct {
	StationID     types.StationID `json:"station_id"`
	Kind          string          `json:"kind"`
	DurationTicks int64           `json:"duration_ticks"`
}

// partsRequest POST /api/stations/{id}/parts 的请求体
type partsRequest struct {
	PartsAvailable *bool `json:"parts_available"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.ctrl.Snapshot())
}

func (s *Server) handleShortages(w http.ResponseWriter, r *http.Request) {
	ids := s.shortages.Shortages()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"shortages": ids,
		"count":     len(ids),
	})
}

func (s *Server) handleDisruption(w http.ResponseWriter, r *http.Request) {
	var req disruptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.logger.Warn("解析扰动请求失败", "error", err)
		writeError(w, http.StatusBadRequest, err)
		return
	}
	kind, err := types.ParseDisruptionKind(req.Kind)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.ctrl.InjectDisruption(req.StationID, kind, req.DurationTicks); err != nil {
		s.writeControlError(w, err)
		return
	}
	s.logger.Info("扰动已排队", "station_id", req.StationID, "kind", kind, "duration", req.DurationTicks)
	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"status":         "accepted",
		"station_id":     req.StationID,
		"kind":           kind,
		"duration_ticks": req.DurationTicks,
	})
}

func (s *Server) handleParts(w http.ResponseWriter, r *http.Request) {
	id := types.StationID(r.PathValue("id"))
	var req partsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.PartsAvailable == nil {
		writeError(w, http.StatusBadRequest, errors.New("parts_available is required"))
		return
	}
	if err := s.ctrl.SetPartsAvailable(id, *req.PartsAvailable); err != nil {
		s.writeControlError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"status":          "accepted",
		"station_id":      id,
		"parts_available": *req.PartsAvailable,
	})
}

// writeControlError 把引擎的哨兵错误映射为 HTTP 状态码
func (s *Server) writeControlError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, engine.ErrUnknownStation):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, engine.ErrInvalidDisruption):
		writeError(w, http.StatusBadRequest, err)
	default:
		s.logger.Error("控制请求失败", "error", err)
		writeError(w, http.StatusInternalServerError, err)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
