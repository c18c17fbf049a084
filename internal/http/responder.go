package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/example/meeting-scheduler/internal/application"
	"github.com/example/meeting-scheduler/internal/logging"
)

var (
	errBadRequestBody = errors.New("無効なリクエスト形式です。")
	errMissingID      = errors.New("リソース ID を指定してください。")
)

const (
	codeBadRequest    = "BAD_REQUEST"
	codeValidation    = "VALIDATION_FAILED"
	codeNotFound      = "NOT_FOUND"
	codeAlreadyExists = "ALREADY_EXISTS"
	codeInternal      = "INTERNAL_ERROR"
)

type responder struct {
	logger *slog.Logger
}

func newResponder(logger *slog.Logger) responder {
	if logger == nil {
		logger = slog.Default()
	}
	return responder{logger: logger}
}

func (r responder) writeJSON(ctx context.Context, w http.ResponseWriter, status int, payload any) {
	if w == nil {
		return
	}

	if status == http.StatusNoContent || payload == nil {
		w.WriteHeader(status)
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		r.loggerFor(ctx).ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

// writeError answers with a localized message for status. A non-empty err
// message replaces the default text.
func (r responder) writeError(ctx context.Context, w http.ResponseWriter, status int, err error) {
	message := localizedStatusMessage(status)
	if err != nil {
		if msg := strings.TrimSpace(err.Error()); msg != "" {
			message = msg
		}
		r.loggerFor(ctx).WarnContext(ctx, "request rejected", "status", status, "error", err)
	}

	r.writeJSON(ctx, w, status, errorResponse{ErrorCode: statusCode(status), Message: message})
}

// writeFieldErrors reports request parameters that could not be parsed.
func (r responder) writeFieldErrors(ctx context.Context, w http.ResponseWriter, fields map[string]string) {
	r.loggerFor(ctx).WarnContext(ctx, "request rejected", "status", http.StatusBadRequest, "fields", fields)
	r.writeJSON(ctx, w, http.StatusBadRequest, errorResponse{
		ErrorCode: codeValidation,
		Message:   localizedStatusMessage(http.StatusBadRequest),
		Errors:    fields,
	})
}

func (r responder) handleServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		r.writeError(ctx, w, http.StatusInternalServerError, errors.New("unknown error"))
		return
	}

	var vErr *application.ValidationError
	switch {
	case errors.Is(err, application.ErrNotFound):
		r.writeJSON(ctx, w, http.StatusNotFound, errorResponse{ErrorCode: codeNotFound, Message: localizedStatusMessage(http.StatusNotFound)})
	case errors.Is(err, application.ErrAlreadyExists):
		r.writeJSON(ctx, w, http.StatusConflict, errorResponse{ErrorCode: codeAlreadyExists, Message: "同じ値を持つリソースが既に存在します。"})
	case errors.As(err, &vErr):
		r.writeJSON(ctx, w, http.StatusBadRequest, errorResponse{
			ErrorCode: codeValidation,
			Message:   "入力内容に誤りがあります。",
			Errors:    localizeValidationErrors(vErr),
		})
	default:
		r.loggerFor(ctx).ErrorContext(ctx, "unexpected service error", "error", err)
		r.writeJSON(ctx, w, http.StatusInternalServerError, errorResponse{ErrorCode: codeInternal, Message: localizedStatusMessage(http.StatusInternalServerError)})
	}
}

func (r responder) loggerFor(ctx context.Context) *slog.Logger {
	if logger := logging.FromContext(ctx); logger != nil {
		return logger
	}
	return r.logger
}

func statusCode(status int) string {
	switch status {
	case http.StatusBadRequest:
		return codeBadRequest
	case http.StatusNotFound:
		return codeNotFound
	case http.StatusConflict:
		return codeAlreadyExists
	default:
		return codeInternal
	}
}

func localizedStatusMessage(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "リクエスト内容が正しくありません。"
	case http.StatusNotFound:
		return "指定されたリソースが見つかりません。"
	case http.StatusConflict:
		return "要求はリソースの現在の状態と競合しています。"
	default:
		return "サーバー内部でエラーが発生しました。"
	}
}

func localizeValidationErrors(vErr *application.ValidationError) map[string]string {
	if vErr == nil || len(vErr.FieldErrors) == 0 {
		return nil
	}

	translated := make(map[string]string, len(vErr.FieldErrors))
	for field, msg := range vErr.FieldErrors {
		translated[field] = translateValidationMessage(field, msg)
	}
	return translated
}

var validationMessages = map[string]string{
	"title is required":                     "タイトルは必須です。",
	"rule is required":                      "繰り返しルールは必須です。",
	"start date is required":                "開始日時は必須です。",
	"end date must be after start date":     "終了日時は開始日時より後である必要があります。",
	"duration must not be negative":         "所要時間に負の値は指定できません。",
	"duration must be whole minutes":        "所要時間は分単位で指定してください。",
	"recurrence does not exist":             "指定された繰り返しルールは存在しません。",
	"meeting does not belong to a series":   "この会議は繰り返しシリーズに属していません。",
	"no future occurrence":                  "これ以降の開催予定はありません。",
	"meeting does not exist":                "指定された会議は存在しません。",
	"at least one date is required":         "日付を 1 件以上指定してください。",
	"dates must not be empty":               "空の日付は指定できません。",
	"from is required":                      "開始日時 (from) は必須です。",
	"to is required":                        "終了日時 (to) は必須です。",
	"to must be after from":                 "終了日時 (to) は開始日時 (from) より後である必要があります。",
	"limit must not be negative":            "件数に負の値は指定できません。",
	"limit and offset must not be negative": "件数と開始位置に負の値は指定できません。",
	"email is required":                     "メールアドレスは必須です。",
	"email is invalid":                      "メールアドレスの形式が不正です。",
	"first name is required":                "名は必須です。",
	"password is required":                  "パスワードは必須です。",

	"target meeting is required":                         "移動先の会議は必須です。",
	"target meeting must differ from the source meeting": "移動先には別の会議を指定してください。",
}

func translateValidationMessage(field, message string) string {
	if translated, ok := validationMessages[message]; ok {
		return translated
	}
	switch {
	case strings.HasPrefix(message, "unknown users:"):
		return "存在しないユーザー ID が含まれています: " + strings.TrimSpace(strings.TrimPrefix(message, "unknown users:"))
	case strings.HasPrefix(message, "limit must be at most"):
		return "件数の上限は " + strings.TrimSpace(strings.TrimPrefix(message, "limit must be at most")) + " 件です。"
	case field == "rule":
		return "繰り返しルールが不正です: " + message
	}
	return message
}

type errorResponse struct {
	ErrorCode string            `json:"error_code"`
	Message   string            `json:"message"`
	Errors    map[string]string `json:"errors,omitempty"`
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func formatOptionalTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	value := formatTime(*t)
	return &value
}

func decodeJSON(r *http.Request, dst any) error {
	if r.Body == nil {
		return errBadRequestBody
	}
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return err
	}
	return nil
}
