package api

import (
	"encoding/json"
	"errors"
	"fire-detection-backend/internal/pipeline"
	"fire-detection-backend/pkg/api"
	"fmt"
	"log/slog"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/schema"
)

type codedError struct {
	err  error
	code int
}

func (e *codedError) Error() string {
	return e.err.Error()
}

func (e *codedError) Unwrap() error {
	return e.err
}

func CodedError(code int, err error) error {
	return &codedError{err: err, code: code}
}

func CodedErrorf(code int, format string, args ...any) error {
	return &codedError{err: fmt.Errorf(format, args...), code: code}
}

var queryDecoder = newQueryDecoder()

func newQueryDecoder() *schema.Decoder {
	decoder := schema.NewDecoder()
	decoder.IgnoreUnknownKeys(true)
	decoder.RegisterConverter(false, func(value string) reflect.Value {
		switch strings.ToLower(strings.TrimSpace(value)) {
		case "yes", "on", "y":
			return reflect.ValueOf(true)
		case "no", "off", "n":
			return reflect.ValueOf(false)
		}
		b, err := strconv.ParseBool(value)
		if err != nil {
			return reflect.Value{}
		}
		return reflect.ValueOf(b)
	})
	return decoder
}

// queryDefaults is implemented by query param structs whose fields default to
// something other than the zero value. Defaults are applied before decoding so
// an explicit zero value in the query is kept.
type queryDefaults interface {
	setDefaults()
}

// ParseRequestQueryParams decodes the URL query only; form bodies are left
// untouched.
func ParseRequestQueryParams[T any](r *http.Request) (T, error) {
	var data T
	if d, ok := any(&data).(queryDefaults); ok {
		d.setDefaults()
	}
	if err := queryDecoder.Decode(&data, r.URL.Query()); err != nil {
		slog.Error("error decoding query params", "error", err)
		return data, CodedErrorf(http.StatusBadRequest, "unable to parse request query params")
	}
	return data, nil
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var perr *pipeline.Error
	var cerr *codedError

	switch {
	case errors.As(err, &perr):
		code := perr.StatusCode()
		if code >= http.StatusInternalServerError {
			slog.Error("internal server error received in endpoint", "path", r.URL.Path, "kind", perr.Kind, "error", err)
		}
		writeJson(w, code, api.ErrorResponse{Error: perr.Message, Details: perr.Details})
	case errors.As(err, &cerr):
		if cerr.code >= http.StatusInternalServerError {
			slog.Error("internal server error received in endpoint", "path", r.URL.Path, "error", err)
		}
		writeJson(w, cerr.code, api.ErrorResponse{Error: err.Error()})
	default:
		slog.Error("received non coded error from endpoint", "path", r.URL.Path, "error", err)
		writeJson(w, http.StatusInternalServerError, api.ErrorResponse{Error: "Internal server error"})
	}
}

func RestHandler(handler func(r *http.Request) (any, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := handler(r)
		if err != nil {
			writeError(w, r, err)
			return
		}

		if res == nil {
			res = struct{}{}
		}

		WriteJsonResponse(w, res)
	}
}

func WriteJsonResponse(w http.ResponseWriter, data any) {
	writeJson(w, http.StatusOK, data)
}

func writeJson(w http.ResponseWriter, code int, data any) {
	body, err := json.Marshal(data)
	if err != nil {
		slog.Error("error serializing response body", "error", err)
		http.Error(w, `{"error":"error serializing response body"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if _, err := w.Write(body); err != nil {
		slog.Error("error writing response body", "error", err)
	}
}

func URLParamID(r *http.Request, key string) (uint, error) {
	param := chi.URLParam(r, key)

	if len(param) == 0 {
		return 0, CodedErrorf(http.StatusBadRequest, "missing {%v} url parameter", key)
	}

	id, err := strconv.ParseUint(param, 10, 64)
	if err != nil || id == 0 {
		return 0, CodedErrorf(http.StatusBadRequest, "invalid id '%v' provided for {%v} url parameter", param, key)
	}

	return uint(id), nil
}
