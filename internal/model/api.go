package model

import (
	"encoding/json"
	"time"
)

// APIResponse is the standard response envelope for all HTTP API responses.
type APIResponse struct {
	Data any          `json:"data,omitempty"`
	Meta ResponseMeta `json:"meta"`
}

// APIError is the standard error response envelope.
type APIError struct {
	Error ErrorDetail  `json:"error"`
	Meta  ResponseMeta `json:"meta"`
}

// ResponseMeta contains request metadata included in every response.
type ResponseMeta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorDetail describes an API error.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrorCode constants for standard API error codes.
const (
	ErrCodeInvalidInput  = "INVALID_INPUT"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeInternalError = "INTERNAL_ERROR"
	ErrCodeRateLimited   = "RATE_LIMITED"
)

// StoredDocument is one row of telemetry_data.
type StoredDocument struct {
	Year      int             `json:"year"`
	GrandPrix string          `json:"grand_prix"`
	Session   string          `json:"session"`
	DataType  DataType        `json:"data_type"`
	Payload   json.RawMessage `json:"payload"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// DocumentKey is the composite key of telemetry_data.
type DocumentKey struct {
	Year      int      `json:"year"`
	GrandPrix string   `json:"grand_prix"`
	Session   string   `json:"session"`
	DataType  DataType `json:"data_type"`
}

// DocumentFilter selects stored documents. Zero fields do not filter.
type DocumentFilter struct {
	Year      int
	FromYear  int
	ToYear    int
	GrandPrix string
	Session   string
	DataType  DataType
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status    string `json:"status"`
	Version   string `json:"version"`
	Postgres  string `json:"postgres"`
	SSEBroker string `json:"sse_broker,omitempty"`
	Uptime    int64  `json:"uptime_seconds"`
}

// SessionDocuments is every stored document of one session, keyed by data
// type.
type SessionDocuments struct {
	Year      int                          `json:"year"`
	GrandPrix string                       `json:"grand_prix"`
	Session   string                       `json:"session"`
	Documents map[DataType]json.RawMessage `json:"documents"`
	UpdatedAt time.Time                    `json:"updated_at"`
}
