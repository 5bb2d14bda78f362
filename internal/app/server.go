package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"papertrade/internal/analyst"
	"papertrade/internal/engine"
	"papertrade/internal/market"
	"papertrade/internal/monitor"
)

// server 暴露终端的全部用户操作入口。
// 开仓与手动平仓是仅有的两个变更入口，其余均为只读查询。
type server struct {
	engine       *engine.Engine
	feed         *market.Feed
	catalog      *market.Catalog
	analyst      *analyst.Client
	monitor      *monitor.Service
	logger       *zap.Logger
	tickInterval time.Duration
	upgrader     websocket.Upgrader
}

func newServer(eng *engine.Engine, feed *market.Feed, catalog *market.Catalog,
	analystClient *analyst.Client, monitorSvc *monitor.Service,
	tickInterval time.Duration, logger *zap.Logger) *server {
	return &server{
		engine:       eng,
		feed:         feed,
		catalog:      catalog,
		analyst:      analystClient,
		monitor:      monitorSvc,
		logger:       logger,
		tickInterval: tickInterval,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

func (s *server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /account", s.handleAccount)
	mux.HandleFunc("GET /instruments", s.handleInstruments)
	mux.HandleFunc("GET /prices", s.handlePrices)
	mux.HandleFunc("GET /positions", s.handlePositions)
	mux.HandleFunc("GET /history", s.handleHistory)
	mux.HandleFunc("POST /positions", s.handleOpen)
	mux.HandleFunc("POST /positions/{id}/close", s.handleClose)
	mux.HandleFunc("GET /analyze", s.handleAnalyze)
	mux.HandleFunc("GET /events", s.handleEvents)
	mux.HandleFunc("GET /stream", s.handleStream)
	return mux
}

type accountView struct {
	Balance    float64 `json:"balance"`
	Equity     float64 `json:"equity"`
	MarginUsed float64 `json:"margin_used"`
}

func (s *server) handleAccount(w http.ResponseWriter, r *http.Request) {
	snap := s.feed.Snapshot()
	balance := s.engine.Balance()

	var marginUsed, unrealized float64
	for _, p := range s.engine.Positions() {
		marginUsed += p.Margin
		if price, ok := snap.Price(p.Symbol); ok {
			unrealized += engine.Unrealized(p, price)
		}
	}

	s.writeJSON(w, accountView{
		Balance:    balance,
		Equity:     balance + marginUsed + unrealized,
		MarginUsed: marginUsed,
	})
}

func (s *server) handleInstruments(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, s.catalog.List())
}

func (s *server) handlePrices(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, s.feed.Snapshot())
}

type positionView struct {
	engine.Position
	CurrentPrice  float64 `json:"current_price"`
	UnrealizedPnL float64 `json:"unrealized_pnl"`
}

func (s *server) handlePositions(w http.ResponseWriter, r *http.Request) {
	snap := s.feed.Snapshot()
	positions := s.engine.Positions()

	views := make([]positionView, 0, len(positions))
	for _, p := range positions {
		view := positionView{Position: p}
		if price, ok := snap.Price(p.Symbol); ok {
			view.CurrentPrice = price
			view.UnrealizedPnL = engine.Unrealized(p, price)
		}
		views = append(views, view)
	}
	s.writeJSON(w, views)
}

// handleHistory 返回历史成交，最近的在前。
func (s *server) handleHistory(w http.ResponseWriter, r *http.Request) {
	history := s.engine.History()
	out := make([]engine.Trade, 0, len(history))
	for i := len(history) - 1; i >= 0; i-- {
		out = append(out, history[i])
	}
	s.writeJSON(w, out)
}

func (s *server) handleOpen(w http.ResponseWriter, r *http.Request) {
	var req engine.OpenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("解析请求失败: %v", err), http.StatusBadRequest)
		return
	}

	position, err := s.engine.Open(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, engine.ErrInvalidOrder), errors.Is(err, engine.ErrUnknownSymbol):
			http.Error(w, err.Error(), http.StatusBadRequest)
		default:
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}

	s.monitor.RecordOpen(r.Context(), position, s.engine.Balance())
	w.WriteHeader(http.StatusCreated)
	s.writeJSON(w, position)
}

func (s *server) handleClose(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	trade, err := s.engine.CloseManual(r.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, engine.ErrUnknownPosition):
			http.Error(w, err.Error(), http.StatusNotFound)
		case errors.Is(err, engine.ErrUnknownSymbol):
			http.Error(w, err.Error(), http.StatusConflict)
		default:
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}

	s.monitor.RecordClose(r.Context(), trade, s.engine.Balance())
	s.writeJSON(w, trade)
}

func (s *server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	if s.analyst == nil {
		http.Error(w, "行情分析未启用", http.StatusServiceUnavailable)
		return
	}

	symbol := strings.TrimSpace(r.URL.Query().Get("symbol"))
	inst, ok := s.catalog.Get(symbol)
	if !ok {
		http.Error(w, fmt.Sprintf("未知品种: %s", symbol), http.StatusBadRequest)
		return
	}

	rating, err := s.analyst.Analyze(r.Context(), inst.Symbol, inst.Type)
	if err != nil {
		s.monitor.RecordError(r.Context(), "行情分析失败", err, map[string]interface{}{"symbol": symbol})
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}

	s.monitor.RecordAnalysis(r.Context(), rating)
	s.writeJSON(w, rating)
}

func (s *server) handleEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 200
	if qs := q.Get("limit"); qs != "" {
		if v, err := strconv.Atoi(qs); err == nil && v > 0 {
			if v > 1000 {
				v = 1000
			}
			limit = v
		}
	}

	eventType := monitor.EventType("")
	if typ := strings.TrimSpace(q.Get("type")); typ != "" {
		eventType = monitor.EventType(strings.ToLower(typ))
	}

	events, err := s.monitor.ListEvents(r.Context(), eventType, limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, events)
}

// handleStream 通过 WebSocket 按tick节奏推送价格快照。
func (s *server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("升级WebSocket失败", zap.Error(err))
		return
	}
	defer conn.Close()

	if err := conn.WriteJSON(s.feed.Snapshot()); err != nil {
		s.logger.Debug("推送初始快照失败", zap.Error(err))
		return
	}

	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if err := conn.WriteJSON(s.feed.Snapshot()); err != nil {
				s.logger.Debug("推送价格快照失败", zap.Error(err))
				return
			}
		}
	}
}

func (s *server) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("写入响应失败", zap.Error(err))
	}
}
