package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/diarai/diar-crm-client/pkg/client"
	"github.com/diarai/diar-crm-client/pkg/connection"
	"github.com/diarai/diar-crm-client/pkg/crm"
	"github.com/diarai/diar-crm-client/pkg/loader"
	"github.com/rs/zerolog/hlog"
	"github.com/rs/zerolog/log"
)

// Cache status values of the X-Cache-Status header.
const (
	cacheStatusHit   = "hit"
	cacheStatusMiss  = "miss"
	cacheStatusStale = "stale"
)

type errorResponse struct {
	Error   string          `json:"error"`
	Class   string          `json:"class"`
	Details json.RawMessage `json:"details,omitempty"`
}

func handleHealth() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
}

func handleReady(monitor *connection.Monitor) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		state := monitor.Check(r.Context())

		body := map[string]any{
			"connected":  state.Connected,
			"last_check": state.LastCheck.Format(time.RFC3339),
		}
		if !state.Connected {
			body["status"] = "unavailable"
			body["error"] = state.Error()
			writeJSON(w, http.StatusServiceUnavailable, body)
			return
		}
		body["status"] = "ready"
		writeJSON(w, http.StatusOK, body)
	})
}

func handleCollection(service *crm.Service, monitor *connection.Monitor) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := r.PathValue("collection")
		collection, ok := service.Collection(name)
		if !ok {
			writeJSON(w, http.StatusNotFound, errorResponse{
				Error: fmt.Sprintf("unknown collection %q", name),
				Class: string(client.ErrorClassClient),
			})
			return
		}

		useCache := r.URL.Query().Get("refresh") != "true"
		result, err := collection.LoadAny(r.Context(), useCache)
		if err != nil {
			writeAPIError(w, r, err)
			return
		}

		switch result.Source {
		case loader.SourceCache:
			w.Header().Set("X-Cache-Status", cacheStatusHit)
		case loader.SourceStaleCache:
			w.Header().Set("X-Cache-Status", cacheStatusStale)
			w.Header().Set("Warning", fmt.Sprintf("110 - %q", result.Notice))
			if result.Notice == loader.NoticeServerUnreachable {
				monitor.MarkOffline(result.Notice)
			}
		default:
			w.Header().Set("X-Cache-Status", cacheStatusMiss)
		}

		writeJSON(w, http.StatusOK, result.Data)
	})
}

func handleStats(service *crm.Service) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		stats, err := service.Stats(r.Context())
		if err != nil {
			writeAPIError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, stats)
	})
}

// writeAPIError maps a classified error to a response: missing credentials
// are 401, rejected requests keep the backend status, everything else is a
// gateway failure.
func writeAPIError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusBadGateway
	resp := errorResponse{
		Error: err.Error(),
		Class: string(client.ClassOf(err)),
	}

	var apiErr *client.APIError
	if errors.As(err, &apiErr) {
		resp.Error = apiErr.Message
		resp.Details = apiErr.Details

		switch apiErr.ErrorClass {
		case client.ErrorClassAuth:
			status = http.StatusUnauthorized
		case client.ErrorClassClient:
			if apiErr.StatusCode >= 400 && apiErr.StatusCode < 500 {
				status = apiErr.StatusCode
			}
		case client.ErrorClassCanceled:
			status = http.StatusGatewayTimeout
		}
	}

	hlog.FromRequest(r).Warn().
		Err(err).
		Int("status", status).
		Str("error_class", resp.Class).
		Msg("collection request failed")

	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		// record failure to log: the client has most likely gone away
		log.Info().Err(err).Msg("failed to write response")
	}
}
