// Package handlers implements the HTTP handlers of the api-store API.
package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/apiclient/api-store/pkg/model"
	"github.com/apiclient/api-store/pkg/store"
)

// errorBody is the uniform error envelope.
type errorBody struct {
	Error   bool            `json:"error"`
	Code    model.ErrorCode `json:"code"`
	Message string          `json:"message"`
	Detail  string          `json:"detail,omitempty"`
}

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, `{"error":true,"code":"internal","message":"encoding response failed"}`, http.StatusInternalServerError)
	}
}

// WriteError maps a service error onto the HTTP surface. Internal
// errors are logged with their cause and surface with a generic
// message only.
func WriteError(w http.ResponseWriter, log zerolog.Logger, err error) {
	se := model.AsServiceError(err)

	body := errorBody{Error: true, Code: se.Code, Message: se.Message, Detail: se.Detail}
	if se.Code == model.ErrInternal {
		log.Error().Stack().Err(err).Msg("request failed")
		body.Message = "internal error"
		body.Detail = ""
	}

	WriteJSON(w, se.HTTPStatus(), body)
}

// DecodeBody decodes a JSON request body into v.
func DecodeBody(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return model.WrapError(model.ErrInvalidInput, "invalid JSON body", err)
	}
	return nil
}

// listOptions extracts the common listing parameters from the query
// string.
func listOptions(r *http.Request) store.ListOptions {
	q := r.URL.Query()
	opts := store.ListOptions{
		Cursor:     q.Get("cursor"),
		Parent:     q.Get("parent"),
		Query:      q.Get("query"),
		QueryField: q.Get("queryField"),
		Type:       q.Get("type"),
		Id:         q.Get("id"),
	}
	if limit := q.Get("limit"); limit != "" {
		if n, err := strconv.Atoi(limit); err == nil {
			opts.Limit = n
		}
	}
	if since := q.Get("since"); since != "" {
		if n, err := strconv.ParseInt(since, 10, 64); err == nil {
			opts.Since = n
		}
	}
	return opts
}

// wantsMedia reports whether the request addresses the contents
// document instead of the metadata.
func wantsMedia(r *http.Request) bool {
	return r.URL.Query().Get("alt") == "media"
}
