package domain

import (
	"encoding/json"
	"time"
)

// SignalStatus records delivery and notification progress of a Signal.
type SignalStatus string

const (
	SignalStatusPending      SignalStatus = "pending"
	SignalStatusBroadcast    SignalStatus = "broadcast"
	SignalStatusNotified     SignalStatus = "notified"
	SignalStatusNotifyFailed SignalStatus = "notify_failed"
)

// Direction is the market bias of a signal.
type Direction string

const (
	DirectionBullish Direction = "bullish"
	DirectionBearish Direction = "bearish"
	DirectionNeutral Direction = "neutral"
)

// Signal is emitted once per edge-trigger of a Strategy on an Instrument.
type Signal struct {
	ID             string       `json:"id"`
	StrategyID     string       `json:"strategyId"`
	StrategyName   string       `json:"strategyName,omitempty"`
	InstrumentID   string       `json:"instrumentId"`
	InstrumentName string       `json:"instrumentName,omitempty"`
	Timeframe      Timeframe    `json:"timeframe,omitempty"`
	SignalType     string       `json:"signalType"`
	Direction      Direction    `json:"direction,omitempty"`
	Price          float64      `json:"price"`
	Timestamp      time.Time    `json:"timestamp"`
	Status         SignalStatus `json:"status,omitempty"`
}

// Message types carried in an Envelope on the delivery channel.
const (
	MessageNewSignal = "new_signal"
	MessageConnected = "connected"
)

// Envelope is the tagged wire message pushed to clients.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// NewEnvelope marshals data into an Envelope of the given type.
func NewEnvelope(msgType string, data any) (Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Type: msgType, Data: raw}, nil
}

// ConnectedAck is the informational payload of a "connected" message.
type ConnectedAck struct {
	ClientID   string    `json:"clientId"`
	ServerTime time.Time `json:"serverTime"`
}
