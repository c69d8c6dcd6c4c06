package amqp

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"payinsights/internal/manifest"
)

// ErrMalformedMessage marks a delivery that can never be processed.
var ErrMalformedMessage = errors.New("malformed message")

// ReportRequest asks a worker to render a view
type ReportRequest struct {
	RequestID string    `json:"request_id"`
	View      string    `json:"view"`
	Timestamp time.Time `json:"timestamp"`
}

// NewReportRequest creates a request with a fresh correlation ID
func NewReportRequest(view string) *ReportRequest {
	return &ReportRequest{
		RequestID: uuid.NewString(),
		View:      view,
		Timestamp: time.Now(),
	}
}

// ToJSON converts the message to JSON bytes
func (m *ReportRequest) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// ReportRequestFromJSON decodes a request. A request without a view is
// malformed; a missing request ID is generated.
func ReportRequestFromJSON(data []byte) (*ReportRequest, error) {
	var msg ReportRequest
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	msg.View = strings.TrimSpace(msg.View)
	if msg.View == "" {
		return nil, fmt.Errorf("%w: view is required", ErrMalformedMessage)
	}
	if msg.RequestID == "" {
		msg.RequestID = uuid.NewString()
	}
	return &msg, nil
}

// ReportResult carries either a rendered report or the reason it failed
type ReportResult struct {
	RequestID string           `json:"request_id"`
	View      string           `json:"view"`
	Report    *manifest.Report `json:"report,omitempty"`
	Error     string           `json:"error,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}

// NewReportResult wraps a rendered report for req
func NewReportResult(req *ReportRequest, report manifest.Report) *ReportResult {
	report.RequestID = req.RequestID
	return &ReportResult{
		RequestID: req.RequestID,
		View:      req.View,
		Report:    &report,
		Timestamp: time.Now(),
	}
}

// NewErrorResult reports that req could not be rendered
func NewErrorResult(req *ReportRequest, err error) *ReportResult {
	return &ReportResult{
		RequestID: req.RequestID,
		View:      req.View,
		Error:     err.Error(),
		Timestamp: time.Now(),
	}
}

// ToJSON converts the message to JSON bytes
func (m *ReportResult) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// ReportResultFromJSON creates a result from JSON bytes
func ReportResultFromJSON(data []byte) (*ReportResult, error) {
	var msg ReportResult
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
