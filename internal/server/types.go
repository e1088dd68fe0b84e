// Package server provides the HTTP surface of the service: the health check,
// the optional Slack events endpoint, and the Prometheus metrics listener.
package server

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	// Error is the human-readable error message.
	Error string `json:"error"`
	// Code is the error code for programmatic handling.
	Code string `json:"code"`
}

// HealthResponse is the HTTP response for the health check endpoint.
type HealthResponse struct {
	// Status is the health status of the service.
	Status string `json:"status"`
	// Service identifies the running service.
	Service string `json:"service"`
}
