package main

import (
	"encoding/json"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"assembly-line-sim/internal/forward"
)

// receiver 本地联调用的 MES 接收端：保存最近一次产线状态
type receiver struct {
	mu       sync.RWMutex
	last     *forward.LineStatusReport
	received int
	logger   *slog.Logger
}

func (rc *receiver) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/production/line-status", rc.handleLineStatus)
	mux.HandleFunc("GET /api/production/line-status", rc.handleLatest)
	mux.HandleFunc("GET /actuator/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "UP"})
	})
	return mux
}

func (rc *receiver) handleLineStatus(w http.ResponseWriter, r *http.Request) {
	var report forward.LineStatusReport
	if err := json.NewDecoder(r.Body).Decode(&report); err != nil {
		rc.logger.Warn("解析请求失败", "error", err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	// 从 HTTP Header 中提取 Trace ID，用于链路追踪
	reqLogger := rc.logger.With("run_id", report.RunID, "tick", report.Stats.Tick)
	if traceID := r.Header.Get("X-Trace-ID"); traceID != "" {
		reqLogger = reqLogger.With("trace_id", traceID)
	}

	rc.mu.Lock()
	if rc.last != nil && rc.last.RunID == report.RunID && report.Stats.Tick < rc.last.Stats.Tick {
		rc.mu.Unlock()
		reqLogger.Warn("忽略过期的产线状态")
		w.WriteHeader(http.StatusAccepted)
		return
	}
	rc.last = &report
	rc.received++
	rc.mu.Unlock()

	reqLogger.Info("接收到产线状态",
		"production", report.Stats.CurrentProduction,
		"achievement_rate", report.Stats.AchievementRate,
		"line_efficiency", report.Stats.LineEfficiency)
	w.WriteHeader(http.StatusAccepted)
}

func (rc *receiver) handleLatest(w http.ResponseWriter, r *http.Request) {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	if rc.last == nil {
		http.Error(w, "no line status received yet", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{"received": rc.received, "latest": rc.last})
}

// main 是 MES 接收端的入口
func main() {
	addr := flag.String("addr", ":8080", "listen address")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil)).With("service", "status-receiver")
	slog.SetDefault(logger)

	logger.Info("=== 产线状态接收服务启动 ===", "addr", *addr)
	srv := &http.Server{
		Addr:              *addr,
		Handler:           (&receiver{logger: logger}).routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	if err := srv.ListenAndServe(); err != nil {
		logger.Error("服务启动失败", "error", err)
		os.Exit(1)
	}
}
