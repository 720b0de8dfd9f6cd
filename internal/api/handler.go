package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/quicksettings/internal/observer"
	"github.com/kalambet/quicksettings/internal/settings"
	"github.com/kalambet/quicksettings/internal/storage"
	"github.com/kalambet/quicksettings/internal/tray"
)

const maxRequestBodySize = 1 << 20 // 1MB

// requestTimeout bounds how long a handler waits for a settings request.
const requestTimeout = 10 * time.Second

// Deps holds what the HTTP API drives.
type Deps struct {
	Settings *settings.Service
	Observer *observer.Observer
	Tray     *tray.Tray
	History  *storage.Store // optional; nil disables /settings/{key}/history
	Token    string         // optional; empty disables bearer auth
	Logger   *slog.Logger
}

// NewHandler returns the qsettings REST and WebSocket API.
func NewHandler(deps Deps) http.Handler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		if deps.Token != "" {
			r.Use(BearerAuth(deps.Token))
		}

		r.Get("/settings", handleListSettings(deps))
		r.Post("/settings", handleImportSettings(deps))
		r.Get("/settings/{key}", handleGetSetting(deps))
		r.Put("/settings/{key}", handlePutSetting(deps))
		r.Get("/settings/{key}/history", handleSettingHistory(deps))
		r.Get("/settings/{key}/stream", handleSettingStream(deps))

		r.Get("/tray", handleGetTray(deps))
		r.Post("/tray/buttons/{id}/click", handleClickButton(deps))
		r.Post("/tray/toggle", handleToggleTray(deps))
		r.Post("/tray/motion", handleTrayMotion(deps))
		r.Put("/tray/brightness", handleSetBrightness(deps))
		r.Put("/tray/items", handleSetItems(deps))
		r.Get("/tray/stream", handleTrayStream(deps))
	})

	return r
}

// SettingValue is the wire form of one setting.
type SettingValue struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

// HistoryEntry is the wire form of one recorded write.
type HistoryEntry struct {
	Value     any       `json:"value"`
	ChangedAt time.Time `json:"changed_at"`
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func handleListSettings(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		all, err := deps.Settings.Snapshot(r.Context())
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "listing settings: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, all)
	}
}

func handleImportSettings(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var values map[string]any
		if err := json.NewDecoder(r.Body).Decode(&values); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		overwrite, _ := strconv.ParseBool(r.URL.Query().Get("overwrite"))

		written, err := deps.Settings.Import(r.Context(), values, overwrite)
		if errors.Is(err, settings.ErrPermissionDenied) {
			settingsError(w, err)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "importing settings: %v", err)
			return
		}
		if written == nil {
			written = []string{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"written": written})
	}
}

func handleGetSetting(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := chi.URLParam(r, "key")

		req, err := deps.Observer.Get(key)
		if err != nil {
			settingsError(w, err)
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
		defer cancel()
		result, err := req.Wait(ctx)
		if err != nil {
			settingsError(w, err)
			return
		}
		v, ok := result[key]
		if !ok {
			httpError(w, http.StatusNotFound, "not_found_error", "setting %q is not set", key)
			return
		}
		writeJSON(w, http.StatusOK, SettingValue{Key: key, Value: v})
	}
}

func handlePutSetting(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := chi.URLParam(r, "key")
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var value any
		if err := json.NewDecoder(r.Body).Decode(&value); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		req, err := deps.Observer.Set(map[string]any{key: value})
		if err != nil {
			settingsError(w, err)
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
		defer cancel()
		if _, err := req.Wait(ctx); err != nil {
			settingsError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, SettingValue{Key: key, Value: value})
	}
}

func handleSettingHistory(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.History == nil {
			httpError(w, http.StatusNotFound, "not_found_error", "history is not recorded")
			return
		}
		key := chi.URLParam(r, "key")
		limit := 20
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "limit must be a positive integer")
				return
			}
			limit = n
		}

		entries, err := deps.History.History(key, limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "reading history: %v", err)
			return
		}
		out := make([]HistoryEntry, 0, len(entries))
		for _, e := range entries {
			var v any
			if err := json.Unmarshal([]byte(e.Value), &v); err != nil {
				v = e.Value
			}
			out = append(out, HistoryEntry{Value: v, ChangedAt: e.ChangedAt})
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func handleGetTray(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, deps.Tray.Snapshot())
	}
}

func handleClickButton(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if err := deps.Tray.Click(id); err != nil {
			if errors.Is(err, tray.ErrUnknownButton) {
				httpError(w, http.StatusNotFound, "not_found_error", "%v", err)
				return
			}
			httpError(w, http.StatusInternalServerError, "api_error", "%v", err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted", "id": id})
	}
}

func handleToggleTray(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		deps.Tray.Toggle()
		writeJSON(w, http.StatusOK, deps.Tray.Snapshot())
	}
}

func handleTrayMotion(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			State string `json:"state"`
		}
		if !decodeBody(w, r, &body) {
			return
		}
		switch body.State {
		case tray.MotionOpening, tray.MotionOpen, tray.MotionClosing, tray.MotionClosed:
		default:
			httpError(w, http.StatusBadRequest, "invalid_request_error", "unknown motion state %q", body.State)
			return
		}
		deps.Tray.HandleMotion(body.State)
		writeJSON(w, http.StatusOK, deps.Tray.Snapshot())
	}
}

func handleSetBrightness(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Level *float64 `json:"level"`
		}
		if !decodeBody(w, r, &body) {
			return
		}
		if body.Level == nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "level is required")
			return
		}
		level, err := deps.Tray.SetBrightness(*body.Level)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "%v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]float64{"level": level})
	}
}

func handleSetItems(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Items []string `json:"items"`
		}
		if !decodeBody(w, r, &body) {
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
		defer cancel()
		if err := deps.Tray.SaveItems(ctx, body.Items); err != nil {
			settingsError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]any{"items": body.Items})
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return false
	}
	return true
}

// settingsError maps store failures onto HTTP statuses.
func settingsError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, settings.ErrPermissionDenied):
		httpError(w, http.StatusForbidden, "permission_error", "%v", err)
	case errors.Is(err, observer.ErrStoreUnavailable), errors.Is(err, settings.ErrStaleHandle):
		httpError(w, http.StatusServiceUnavailable, "api_error", "%v", err)
	case errors.Is(err, context.DeadlineExceeded):
		httpError(w, http.StatusGatewayTimeout, "api_error", "settings request timed out")
	default:
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
