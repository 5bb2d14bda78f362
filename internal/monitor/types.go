package monitor

import (
	"time"

	"papertrade/internal/analyst"
	"papertrade/internal/engine"
)

// EventType 表示监控事件类型。
type EventType string

const (
	EventPositionOpened EventType = "position_opened"
	EventPositionClosed EventType = "position_closed"
	EventAnalysis       EventType = "analysis"
	EventError          EventType = "error"
)

// Event 封装通用监控事件。
type Event struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// PositionOpenedPayload 记录开仓结果与开仓后余额。
type PositionOpenedPayload struct {
	Position engine.Position `json:"position"`
	Balance  float64         `json:"balance"`
}

// PositionClosedPayload 记录结算结果与结算后余额。
type PositionClosedPayload struct {
	Trade   engine.Trade `json:"trade"`
	Balance float64      `json:"balance"`
}

// AnalysisPayload 记录行情评级。
type AnalysisPayload struct {
	Rating analyst.Rating `json:"rating"`
}

// ErrorPayload 记录异常。
type ErrorPayload struct {
	Message string                 `json:"message"`
	Error   string                 `json:"error"`
	Context map[string]interface{} `json:"context,omitempty"`
}
