package web

import (
	"time"

	"github.com/denwilliams/go-mqtt-homelink/pkg/journal"
	"github.com/denwilliams/go-mqtt-homelink/pkg/mqtt"
)

// API Response structures
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *APIError   `json:"error,omitempty"`
}

type APIError struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

type EndpointSummary struct {
	Name      string `json:"name"`
	URL       string `json:"url"`
	Transport string `json:"transport"`
	Auth      bool   `json:"auth"`
}

type StatusResponse struct {
	State      string            `json:"state"`
	Connected  bool              `json:"connected"`
	Endpoint   *EndpointSummary  `json:"endpoint,omitempty"`
	Candidates []EndpointSummary `json:"candidates"`
	Device     string            `json:"device"`
	ClientID   string            `json:"client_id"`
	Version    string            `json:"version"`
	Uptime     string            `json:"uptime"`
}

type PublishRequest struct {
	Topic   string `json:"topic"`
	Payload string `json:"payload"`
}

type PublishResponse struct {
	Topic string `json:"topic"`
	Bytes int    `json:"bytes"`
}

// CommandRequest carries exactly one of Command, Setting or Status.
type CommandRequest struct {
	Command string   `json:"command,omitempty"`
	Setting string   `json:"setting,omitempty"`
	Value   *float64 `json:"value,omitempty"`
	Status  *string  `json:"status,omitempty"`
}

type AttemptFailure struct {
	Endpoint   string `json:"endpoint"`
	ErrorClass string `json:"error_class"`
	Error      string `json:"error"`
	DurationMs int64  `json:"duration_ms"`
}

type AttemptListResponse struct {
	Attempts []journal.AttemptRecord `json:"attempts"`
	Limit    int                     `json:"limit"`
}

type EventListResponse struct {
	Events []journal.EventRecord `json:"events"`
	Limit  int                   `json:"limit"`
}

func summarize(ep mqtt.Endpoint) EndpointSummary {
	return EndpointSummary{
		Name:      ep.Name,
		URL:       ep.URL(),
		Transport: string(ep.Transport),
		Auth:      ep.HasCredentials(),
	}
}

func failures(f *mqtt.ConnectionFailure) []AttemptFailure {
	out := make([]AttemptFailure, 0, len(f.Attempts))
	for _, a := range f.Attempts {
		out = append(out, AttemptFailure{
			Endpoint:   a.Endpoint.Name,
			ErrorClass: mqtt.ErrorClass(a.Err),
			Error:      errString(a.Err),
			DurationMs: a.Duration.Milliseconds(),
		})
	}
	return out
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func formatUptime(d time.Duration) string {
	return d.Truncate(time.Second).String()
}
