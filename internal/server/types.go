package server

import (
	"github.com/rezonia/nfse-issuer/internal/processor"
)

// ErrorResponse is the standard error response
type ErrorResponse struct {
	Error    string            `json:"error"`
	Code     string            `json:"code,omitempty"`
	Field    string            `json:"field,omitempty"`
	Messages []string          `json:"messages,omitempty"`
	Document *processor.Result `json:"document,omitempty"`
}

// ClassifyRequest is the body of the classify endpoint
type ClassifyRequest struct {
	Code       string `json:"code"`
	HTTPStatus int    `json:"http_status,omitempty"`
	Body       string `json:"body,omitempty"`
}

// ClassifyResponse reports how a return code is classified
type ClassifyResponse struct {
	Code       string   `json:"code"`
	Convention string   `json:"convention"`
	Outcome    string   `json:"outcome"`
	IsSuccess  bool     `json:"is_success"`
	IsAlert    bool     `json:"is_alert"`
	IsError    bool     `json:"is_error"`
	Messages   []string `json:"messages"`
}

// HealthResponse is the response for the health endpoint
type HealthResponse struct {
	Status string            `json:"status"`
	Time   string            `json:"time"`
	Checks map[string]string `json:"checks,omitempty"`
}
