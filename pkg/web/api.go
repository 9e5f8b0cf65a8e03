package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/denwilliams/go-mqtt-homelink/pkg/journal"
	"github.com/denwilliams/go-mqtt-homelink/pkg/mqtt"
	"github.com/denwilliams/go-mqtt-homelink/pkg/topics"
)

const maxBodyBytes = 64 << 10

func writeAPIResponse(w http.ResponseWriter, data interface{}) {
	response := APIResponse{
		Success: true,
		Data:    data,
	}
	writeJSONResponse(w, http.StatusOK, response)
}

func writeAPIError(w http.ResponseWriter, status int, code, message string, details interface{}) {
	response := APIResponse{
		Success: false,
		Error: &APIError{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
	writeJSONResponse(w, status, response)
}

func writeJSONResponse(w http.ResponseWriter, status int, data interface{}) {
	// Add CORS headers
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// parseLimit reads ?limit=, clamped to 1..500.
func parseLimit(r *http.Request) int {
	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if limit > 500 {
		limit = 500
	}
	return limit
}

// writeMQTTError maps connection-layer errors onto HTTP statuses.
func writeMQTTError(w http.ResponseWriter, err error) {
	var failure *mqtt.ConnectionFailure
	switch {
	case errors.Is(err, mqtt.ErrNotConnected), errors.Is(err, mqtt.ErrClosed):
		writeAPIError(w, http.StatusServiceUnavailable, "NOT_CONNECTED", "Not connected to a broker", nil)
	case errors.Is(err, mqtt.ErrAlreadyConnecting):
		writeAPIError(w, http.StatusConflict, "CONNECTING", err.Error(), nil)
	case errors.As(err, &failure):
		writeAPIError(w, http.StatusBadGateway, "CONNECT_FAILED", "All candidates failed", failures(failure))
	case errors.Is(err, mqtt.ErrConfiguration):
		writeAPIError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
	case errors.Is(err, mqtt.ErrTimeout):
		writeAPIError(w, http.StatusGatewayTimeout, "TIMEOUT", err.Error(), nil)
	case errors.Is(err, topics.ErrUnsupported),
		errors.Is(err, topics.ErrUnknownChannel),
		errors.Is(err, topics.ErrInvalidPayload):
		writeAPIError(w, http.StatusBadRequest, "UNSUPPORTED", err.Error(), nil)
	default:
		writeAPIError(w, http.StatusBadGateway, "PUBLISH_FAILED", err.Error(), nil)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeAPIResponse(w, map[string]string{"status": "ok"})
}

func (s *Server) handleAPIStatus(w http.ResponseWriter, r *http.Request) {
	state := s.conn.State()

	response := StatusResponse{
		State:      state.String(),
		Connected:  state == mqtt.StateConnected,
		Candidates: []EndpointSummary{},
		Device:     s.device.Device().Name,
		ClientID:   s.config.MQTT.ClientID,
		Version:    s.version,
		Uptime:     formatUptime(time.Since(s.started)),
	}
	if ep, ok := s.conn.Endpoint(); ok {
		summary := summarize(ep)
		response.Endpoint = &summary
	}
	for _, ep := range s.conn.Candidates() {
		response.Candidates = append(response.Candidates, summarize(ep))
	}

	writeAPIResponse(w, response)
}

func (s *Server) handleAPIDevice(w http.ResponseWriter, r *http.Request) {
	writeAPIResponse(w, s.device.Snapshot())
}

func (s *Server) handleAPIPublish(w http.ResponseWriter, r *http.Request) {
	var req PublishRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeAPIError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid JSON in request body", err.Error())
		return
	}

	req.Topic = strings.TrimSpace(req.Topic)
	if req.Topic == "" || req.Payload == "" {
		writeAPIError(w, http.StatusBadRequest, "VALIDATION_ERROR", "topic and payload are required", nil)
		return
	}

	if err := s.conn.Publish(req.Topic, []byte(req.Payload)); err != nil {
		s.logger.WithError(err).WithField("topic", req.Topic).Warn("API publish failed")
		writeMQTTError(w, err)
		return
	}

	writeAPIResponse(w, PublishResponse{Topic: req.Topic, Bytes: len(req.Payload)})
}

func (s *Server) handleAPICommand(w http.ResponseWriter, r *http.Request) {
	var req CommandRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeAPIError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid JSON in request body", err.Error())
		return
	}

	var err error
	switch {
	case req.Command != "":
		err = s.commander.Send(strings.ToUpper(strings.TrimSpace(req.Command)))
	case req.Setting != "":
		if req.Value == nil {
			writeAPIError(w, http.StatusBadRequest, "VALIDATION_ERROR", "value is required with setting", nil)
			return
		}
		err = s.commander.SetSetting(req.Setting, *req.Value)
	case req.Status != nil:
		err = s.commander.SetStatus(*req.Status)
	default:
		writeAPIError(w, http.StatusBadRequest, "VALIDATION_ERROR", "one of command, setting or status is required", nil)
		return
	}

	if err != nil {
		s.logger.WithError(err).Warn("API command failed")
		writeMQTTError(w, err)
		return
	}

	writeAPIResponse(w, req)
}

func (s *Server) handleAPIReconnect(w http.ResponseWriter, r *http.Request) {
	if err := s.conn.Reconnect(r.Context()); err != nil {
		s.logger.WithError(err).Warn("API reconnect failed")
		writeMQTTError(w, err)
		return
	}
	s.handleAPIStatus(w, r)
}

func (s *Server) handleAPIAttempts(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeAPIError(w, http.StatusServiceUnavailable, "JOURNAL_DISABLED", "Connection journal is not available", nil)
		return
	}

	limit := parseLimit(r)
	attempts, err := s.journal.RecentAttempts(limit)
	if err != nil {
		writeAPIError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to load attempts", err.Error())
		return
	}
	if attempts == nil {
		attempts = []journal.AttemptRecord{}
	}

	writeAPIResponse(w, AttemptListResponse{Attempts: attempts, Limit: limit})
}

func (s *Server) handleAPIHistory(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeAPIError(w, http.StatusServiceUnavailable, "JOURNAL_DISABLED", "Connection journal is not available", nil)
		return
	}

	limit := parseLimit(r)
	events, err := s.journal.RecentEvents(limit)
	if err != nil {
		writeAPIError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to load events", err.Error())
		return
	}
	if events == nil {
		events = []journal.EventRecord{}
	}

	writeAPIResponse(w, EventListResponse{Events: events, Limit: limit})
}
