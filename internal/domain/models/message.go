package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// MessageType doubles as the bus topic name.
type MessageType string

const (
	MsgPriceRequest       MessageType = "price_request"
	MsgPriceUpdate        MessageType = "price_update"
	MsgLiquidityRequest   MessageType = "liquidity_request"
	MsgLiquidityUpdate    MessageType = "liquidity_update"
	MsgAPYRequest         MessageType = "apy_request"
	MsgAPYUpdate          MessageType = "apy_update"
	MsgRiskRequest        MessageType = "risk_request"
	MsgRiskUpdate         MessageType = "risk_update"
	MsgTVLRequest         MessageType = "tvl_request"
	MsgTVLUpdate          MessageType = "tvl_update"
	MsgBalanceRequest     MessageType = "balance_request"
	MsgBalanceUpdate      MessageType = "balance_update"
	MsgTransactionRequest MessageType = "transaction_request"
	MsgTransactionUpdate  MessageType = "transaction_update"
	MsgCacheInvalidate    MessageType = "cache_invalidate"
	MsgStatus             MessageType = "status"
	MsgAdapterStatus      MessageType = "adapter_status"
)

// RequestTypes lists every topic the orchestrator answers.
var RequestTypes = []MessageType{
	MsgPriceRequest,
	MsgLiquidityRequest,
	MsgAPYRequest,
	MsgRiskRequest,
	MsgTVLRequest,
	MsgBalanceRequest,
	MsgTransactionRequest,
	MsgCacheInvalidate,
	MsgStatus,
}

// IsRequest reports whether the type is answered by an update message.
func (t MessageType) IsRequest() bool {
	for _, r := range RequestTypes {
		if r == t {
			return true
		}
	}
	return false
}

// ResponseType maps a request topic to the topic its answer is published on.
// cache_invalidate and status answer on their own topic.
func (t MessageType) ResponseType() MessageType {
	if strings.HasSuffix(string(t), "_request") {
		return MessageType(strings.TrimSuffix(string(t), "_request") + "_update")
	}
	return t
}

// ResponsePayload is the structured result carried by every answer.
type ResponsePayload struct {
	Success   bool              `json:"success"`
	Data      []NormalizedData  `json:"data,omitempty"`
	Status    *GatewayStatus    `json:"status,omitempty"`
	Error     string            `json:"error,omitempty"`
	Errors    map[string]string `json:"errors,omitempty"`
	RequestID string            `json:"requestId"`
	Timestamp time.Time         `json:"timestamp"`
}

// GatewayMessage is immutable once published.
type GatewayMessage struct {
	ID        string            `json:"id"`
	Type      MessageType       `json:"type"`
	From      string            `json:"from"`
	Timestamp time.Time         `json:"timestamp"`
	Priority  int               `json:"priority,omitempty"`
	RequestID string            `json:"requestId"`
	Request   any               `json:"request,omitempty"`
	Payload   *ResponsePayload  `json:"payload,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

func (m GatewayMessage) Topic() string { return string(m.Type) }

func NewRequest(t MessageType, from string, req any) GatewayMessage {
	id := uuid.NewString()
	return GatewayMessage{
		ID:        id,
		Type:      t,
		From:      from,
		Timestamp: time.Now().UTC(),
		RequestID: id,
		Request:   req,
	}
}

// NewUpdate builds the answer to req. err takes precedence over data.
func NewUpdate(req GatewayMessage, from string, data []NormalizedData, err error) GatewayMessage {
	now := time.Now().UTC()
	p := &ResponsePayload{
		Success:   err == nil && len(data) > 0,
		Data:      data,
		RequestID: req.RequestID,
		Timestamp: now,
	}
	if err != nil {
		p.Error = err.Error()
	} else if len(data) == 0 {
		p.Error = ErrNoData.Error()
	}
	return GatewayMessage{
		ID:        uuid.NewString(),
		Type:      req.Type.ResponseType(),
		From:      from,
		Timestamp: now,
		RequestID: req.RequestID,
		Payload:   p,
	}
}

// NewAck answers requests that carry no data, such as cache invalidation.
func NewAck(req GatewayMessage, from string, err error) GatewayMessage {
	msg := NewUpdate(req, from, nil, err)
	if err == nil {
		msg.Payload.Success = true
		msg.Payload.Error = ""
	}
	return msg
}

func newRequestBody(t MessageType) any {
	switch t {
	case MsgPriceRequest:
		return &PriceRequest{}
	case MsgLiquidityRequest:
		return &LiquidityRequest{}
	case MsgAPYRequest:
		return &APYRequest{}
	case MsgRiskRequest:
		return &RiskRequest{}
	case MsgTVLRequest:
		return &TVLRequest{}
	case MsgBalanceRequest:
		return &BalanceRequest{}
	case MsgTransactionRequest:
		return &TransactionRequest{}
	case MsgCacheInvalidate:
		return &InvalidateRequest{}
	}
	return nil
}

// UnmarshalJSON restores the typed request body from its message type.
func (m *GatewayMessage) UnmarshalJSON(b []byte) error {
	type alias GatewayMessage
	aux := struct {
		*alias
		Request json.RawMessage `json:"request,omitempty"`
	}{alias: (*alias)(m)}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	m.Request = nil
	if len(aux.Request) == 0 || string(aux.Request) == "null" {
		return nil
	}
	body := newRequestBody(m.Type)
	if body == nil {
		return fmt.Errorf("decode %s request: %w", m.Type, ErrUnknownMessageType)
	}
	if err := json.Unmarshal(aux.Request, body); err != nil {
		return fmt.Errorf("decode %s request: %w", m.Type, err)
	}
	m.Request = derefRequest(body)
	return nil
}

func derefRequest(body any) any {
	switch r := body.(type) {
	case *PriceRequest:
		return *r
	case *LiquidityRequest:
		return *r
	case *APYRequest:
		return *r
	case *RiskRequest:
		return *r
	case *TVLRequest:
		return *r
	case *BalanceRequest:
		return *r
	case *TransactionRequest:
		return *r
	case *InvalidateRequest:
		return *r
	}
	return body
}
