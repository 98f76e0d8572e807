package handlers

import (
	"net/http"
)

// BackendInfo advertises the server's capabilities and endpoint layout
// so clients can discover the mode and auth requirements before
// authenticating.
type BackendInfo struct {
	Name   string      `json:"name"`
	Mode   string      `json:"mode"`
	Prefix string      `json:"prefix"`
	Auth   BackendAuth `json:"auth"`
	Ws     BackendWs   `json:"ws"`
}

// BackendAuth describes the authentication surface.
type BackendAuth struct {
	Required bool   `json:"required"`
	Type     string `json:"type,omitempty"`
	Path     string `json:"path,omitempty"`
}

// BackendWs lists the WebSocket upgrade paths.
type BackendWs struct {
	Paths []string `json:"paths"`
}

// BackendHandler serves the capabilities document.
type BackendHandler struct {
	info BackendInfo
}

// NewBackendHandler creates the handler for a fixed capabilities
// document.
func NewBackendHandler(mode, prefix, authType string) *BackendHandler {
	info := BackendInfo{
		Name:   "api-store",
		Mode:   mode,
		Prefix: prefix,
		Ws: BackendWs{
			Paths: []string{
				prefix + "/files",
				prefix + "/files/{id}",
				prefix + "/history",
				prefix + "/auth/login",
			},
		},
	}
	if authType != "" {
		info.Auth = BackendAuth{Required: true, Type: authType, Path: prefix + "/auth/login"}
	}
	return &BackendHandler{info: info}
}

// Read returns the capabilities document. Unauthenticated.
func (h *BackendHandler) Read(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, h.info)
}
