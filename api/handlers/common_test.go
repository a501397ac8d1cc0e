package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/BaSui01/aura/types"
)

func decodeResponse(t *testing.T, w *httptest.ResponseRecorder) Response {
	t.Helper()
	var resp Response
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	return resp
}

func TestWriteSuccessAndCreated(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/api/v1/session", nil)
	r = r.WithContext(types.WithRequestID(r.Context(), "req-1"))

	w := httptest.NewRecorder()
	WriteSuccess(w, r, map[string]int{"stress": 40})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json; charset=utf-8", w.Header().Get("Content-Type"))

	resp := decodeResponse(t, w)
	assert.True(t, resp.Success)
	assert.Nil(t, resp.Error)
	assert.Equal(t, "req-1", resp.RequestID)
	assert.False(t, resp.Timestamp.IsZero())

	w = httptest.NewRecorder()
	WriteCreated(w, r, map[string]string{"id": "3"})
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.True(t, decodeResponse(t, w).Success)
}

func TestWriteError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
		wantMsg    string
	}{
		{"invalid request", types.NewError(types.ErrInvalidRequest, "title is required"), http.StatusBadRequest, "INVALID_REQUEST", "title is required"},
		{"unknown tool", types.Errorf(types.ErrUnknownTool, "unknown tool %q", "sing"), http.StatusNotFound, "UNKNOWN_TOOL", `unknown tool "sing"`},
		{"session closed", types.NewError(types.ErrSessionClosed, "session is closed"), http.StatusConflict, "SESSION_CLOSED", "session is closed"},
		{"explicit status", types.NewError(types.ErrInvalidRequest, "bad").WithHTTPStatus(http.StatusUnsupportedMediaType), http.StatusUnsupportedMediaType, "INVALID_REQUEST", "bad"},
		{"plain error hidden", errors.New("dial tcp 10.0.0.1: refused"), http.StatusInternalServerError, "INTERNAL_ERROR", "internal error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			WriteError(w, httptest.NewRequest(http.MethodGet, "/", nil), tt.err, zap.NewNop())

			assert.Equal(t, tt.wantStatus, w.Code)
			resp := decodeResponse(t, w)
			assert.False(t, resp.Success)
			assert.Nil(t, resp.Data)
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.wantCode, resp.Error.Code)
			assert.Equal(t, tt.wantMsg, resp.Error.Message)
		})
	}
}

func TestWriteError_LogsContext(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	r := httptest.NewRequest(http.MethodPost, "/api/v1/session/events", nil)
	ctx := types.WithRequestID(r.Context(), "req-9")
	r = r.WithContext(types.WithSessionID(ctx, "sess-1"))

	WriteError(httptest.NewRecorder(), r, errors.New("boom"), zap.New(core))
	WriteErrorf(httptest.NewRecorder(), r, zap.New(core), types.ErrNotFound, "task %s not found", "7")

	entries := logs.FilterMessage("request failed").All()
	require.Len(t, entries, 2)
	assert.Equal(t, zapcore.ErrorLevel, entries[0].Level)
	assert.Equal(t, "sess-1", entries[0].ContextMap()["session_id"])
	assert.Equal(t, "boom", entries[0].ContextMap()["error"])
	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
	assert.Equal(t, "task 7 not found", entries[1].ContextMap()["message"])
	assert.Equal(t, "req-9", entries[1].ContextMap()["request_id"])
}

func TestDecodeJSONBody(t *testing.T) {
	type payload struct {
		Title string `json:"title"`
		Due   int    `json:"due"`
	}

	tests := []struct {
		name       string
		body       string
		wantStatus int
	}{
		{"valid", `{"title":"homework","due":3}`, http.StatusOK},
		{"invalid JSON", `{"title":"homework",}`, http.StatusBadRequest},
		{"unknown field", `{"title":"homework","owner":"x"}`, http.StatusBadRequest},
		{"trailing value", `{"title":"homework"} {"title":"again"}`, http.StatusBadRequest},
		{"oversized", `{"title":"` + strings.Repeat("x", 2<<20) + `"}`, http.StatusRequestEntityTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodPost, "/api/v1/tasks", strings.NewReader(tt.body))

			var got payload
			err := DecodeJSONBody(w, r, &got, zap.NewNop())
			if tt.wantStatus != http.StatusOK {
				require.Error(t, err)
				assert.Equal(t, tt.wantStatus, w.Code)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, payload{Title: "homework", Due: 3}, got)
		})
	}
}

func TestDecodeJSONBody_Empty(t *testing.T) {
	w := httptest.NewRecorder()
	var dst map[string]any
	err := DecodeJSONBody(w, httptest.NewRequest(http.MethodPost, "/api/v1/tasks", nil), &dst, nil)
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrInvalidRequest))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRequireJSON(t *testing.T) {
	tests := []struct {
		contentType string
		want        bool
	}{
		{"application/json", true},
		{"application/json; charset=utf-8", true},
		{"Application/JSON; charset=UTF-8", true},
		{"text/plain", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.contentType, func(t *testing.T) {
			w := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodPost, "/api/v1/session/events", nil)
			r.Header.Set("Content-Type", tt.contentType)

			assert.Equal(t, tt.want, RequireJSON(w, r, zap.NewNop()))
			if !tt.want {
				assert.Equal(t, http.StatusUnsupportedMediaType, w.Code)
			}
		})
	}
}
