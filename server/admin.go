package server

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
)

// Admin 管理与监控接口；只读取 Server 发布的副本，不触碰 Tick 线程的状态
type Admin struct {
	srv      *Server
	instance string
}

func NewAdmin(srv *Server) *Admin {
	return &Admin{srv: srv, instance: uuid.NewString()}
}

// Instance 本进程的实例 id（每次启动重新生成）
func (a *Admin) Instance() string { return a.instance }

// Register 将管理接口挂到 mux 上
func (a *Admin) Register(mux *http.ServeMux) {
	mux.HandleFunc("/metrics", a.HandleMetrics)
	mux.HandleFunc("/admin/config", a.HandleConfig)
	mux.HandleFunc("/admin/players", a.HandlePlayers)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
}

// HandleMetrics 输出运行指标
// GET /metrics
func (a *Admin) HandleMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	payload := map[string]any{
		"instance": a.instance,
		"players":  len(a.srv.Players()),
		"metrics":  a.srv.Metrics().Snapshot(),
	}
	writeJSON(w, payload)
}

// HandleConfig 返回当前节奏配置
// GET /admin/config
func (a *Admin) HandleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	t := a.srv.Timing()
	writeJSON(w, map[string]string{
		"tick":              t.Tick.String(),
		"broadcast":         t.Broadcast.String(),
		"heartbeat_timeout": t.HeartbeatTimeout.String(),
		"sweep":             t.Sweep.String(),
	})
}

// HandlePlayers 返回最近一次 Tick 的玩家列表
// GET /admin/players
func (a *Admin) HandlePlayers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, map[string]any{"players": a.srv.Players()})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
