package handlers

import (
	"encoding/json"
	"errors"
	"mime"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/aura/types"
)

// maxBodyBytes 请求体上限
const maxBodyBytes = 1 << 20

// =============================================================================
// 📦 响应信封
// =============================================================================

// Response 所有 JSON 接口共用的信封
type Response struct {
	Success   bool       `json:"success"`
	Data      any        `json:"data,omitempty"`
	Error     *ErrorInfo `json:"error,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
	RequestID string     `json:"request_id,omitempty"`
}

// ErrorInfo 信封里的错误
type ErrorInfo struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable,omitempty"`
}

func envelope(r *http.Request) Response {
	resp := Response{Timestamp: time.Now()}
	if r != nil {
		resp.RequestID, _ = types.RequestID(r.Context())
	}
	return resp
}

// WriteJSON 写出任意 JSON。头已写出后编码失败无法补救，直接忽略。
func WriteJSON(w http.ResponseWriter, status int, body any) {
	h := w.Header()
	h.Set("Content-Type", "application/json; charset=utf-8")
	h.Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// WriteSuccess 200 + 成功信封
func WriteSuccess(w http.ResponseWriter, r *http.Request, data any) {
	writeData(w, r, http.StatusOK, data)
}

// WriteCreated 201 + 成功信封
func WriteCreated(w http.ResponseWriter, r *http.Request, data any) {
	writeData(w, r, http.StatusCreated, data)
}

func writeData(w http.ResponseWriter, r *http.Request, status int, data any) {
	resp := envelope(r)
	resp.Success = true
	resp.Data = data
	WriteJSON(w, status, resp)
}

// WriteError 写出错误信封。不是 *types.Error 的错误一律当作内部错误，原始信息只进日志。
func WriteError(w http.ResponseWriter, r *http.Request, err error, logger *zap.Logger) {
	apiErr, ok := types.AsError(err)
	if !ok {
		apiErr = types.NewError(types.ErrInternalError, "internal error").WithCause(err)
	}
	status := apiErr.Status()

	if logger != nil {
		lvl := zap.WarnLevel
		if status >= http.StatusInternalServerError {
			lvl = zap.ErrorLevel
		}
		if ce := logger.Check(lvl, "request failed"); ce != nil {
			fields := []zap.Field{
				zap.String("code", string(apiErr.Code)),
				zap.Int("status", status),
				zap.String("message", apiErr.Message),
			}
			if apiErr.Cause != nil {
				fields = append(fields, zap.Error(apiErr.Cause))
			}
			if r != nil {
				if id, ok := types.RequestID(r.Context()); ok {
					fields = append(fields, zap.String("request_id", id))
				}
				if id, ok := types.SessionID(r.Context()); ok {
					fields = append(fields, zap.String("session_id", id))
				}
			}
			ce.Write(fields...)
		}
	}

	resp := envelope(r)
	resp.Error = &ErrorInfo{
		Code:      string(apiErr.Code),
		Message:   apiErr.Message,
		Retryable: apiErr.Retryable,
	}
	WriteJSON(w, status, resp)
}

// WriteErrorf 用错误码的默认状态码写出格式化消息
func WriteErrorf(w http.ResponseWriter, r *http.Request, logger *zap.Logger, code types.ErrorCode, format string, args ...any) {
	WriteError(w, r, types.Errorf(code, format, args...), logger)
}

// =============================================================================
// 🛡️ 请求体
// =============================================================================

// RequireJSON 要求 Content-Type 为 application/json（参数与大小写不限），否则写出 415
func RequireJSON(w http.ResponseWriter, r *http.Request, logger *zap.Logger) bool {
	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err == nil && mt == "application/json" {
		return true
	}
	WriteError(w, r, types.NewError(types.ErrInvalidRequest, "Content-Type must be application/json").
		WithHTTPStatus(http.StatusUnsupportedMediaType), logger)
	return false
}

// DecodeJSONBody 严格解码请求体：拒绝空体、未知字段、多余内容与超过 1MB 的请求。
// 返回错误时响应已写出。
func DecodeJSONBody(w http.ResponseWriter, r *http.Request, dst any, logger *zap.Logger) error {
	err := decodeStrict(w, r, dst)
	if err != nil {
		WriteError(w, r, err, logger)
	}
	return err
}

func decodeStrict(w http.ResponseWriter, r *http.Request, dst any) error {
	if r.Body == nil || r.Body == http.NoBody {
		return types.NewError(types.ErrInvalidRequest, "request body is empty")
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return types.NewError(types.ErrInvalidRequest, "request body too large").
				WithHTTPStatus(http.StatusRequestEntityTooLarge).WithCause(err)
		}
		return types.NewError(types.ErrInvalidRequest, "invalid JSON body").WithCause(err)
	}
	if dec.More() {
		return types.NewError(types.ErrInvalidRequest, "request body must contain a single JSON value")
	}
	return nil
}
