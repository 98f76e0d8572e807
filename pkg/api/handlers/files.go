package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/apiclient/api-store/pkg/api/middleware"
	"github.com/apiclient/api-store/pkg/model"
	"github.com/apiclient/api-store/pkg/store"
)

// FilesHandler serves the files tree: metadata, contents documents,
// sharing, and revisions.
type FilesHandler struct {
	store *store.Store
	log   zerolog.Logger
}

// NewFilesHandler creates the handler.
func NewFilesHandler(s *store.Store, log zerolog.Logger) *FilesHandler {
	return &FilesHandler{store: s, log: log.With().Str("handler", "files").Logger()}
}

// List returns the files visible to the caller: children of ?parent,
// or owned and shared roots.
func (h *FilesHandler) List(w http.ResponseWriter, r *http.Request) {
	user := middleware.User(r.Context())
	page, err := h.store.Files.List(r.Context(), user.Key, listOptions(r))
	if err != nil {
		WriteError(w, h.log, err)
		return
	}
	WriteJSON(w, http.StatusOK, page)
}

type createFileRequest struct {
	Key    string         `json:"key"`
	Kind   string         `json:"kind"`
	Info   model.FileInfo `json:"info"`
	Parent string         `json:"parent,omitempty"`
}

// Create adds a file, optionally inside ?parent or the body's parent.
func (h *FilesHandler) Create(w http.ResponseWriter, r *http.Request) {
	user := middleware.User(r.Context())

	var req createFileRequest
	if err := DecodeBody(r, &req); err != nil {
		WriteError(w, h.log, err)
		return
	}
	parent := req.Parent
	if parent == "" {
		parent = r.URL.Query().Get("parent")
	}

	file := &model.File{Kind: req.Kind, Info: req.Info}
	err := h.store.Files.Add(r.Context(), req.Key, file, user.Key, store.AddOptions{Parent: parent})
	if err != nil {
		WriteError(w, h.log, err)
		return
	}
	w.Header().Set("Location", strings.TrimSuffix(r.URL.Path, "/")+"/"+req.Key)
	WriteJSON(w, http.StatusNoContent, nil)
}

// Read returns file metadata, or the contents document with
// ?alt=media.
func (h *FilesHandler) Read(w http.ResponseWriter, r *http.Request) {
	user := middleware.User(r.Context())
	key := chi.URLParam(r, "id")

	if wantsMedia(r) {
		doc, err := h.store.Projects.Read(r.Context(), key, user.Key)
		if err != nil {
			WriteError(w, h.log, err)
			return
		}
		WriteJSON(w, http.StatusOK, json.RawMessage(doc))
		return
	}

	file, err := h.store.Files.Read(r.Context(), key, user.Key)
	if err != nil {
		WriteError(w, h.log, err)
		return
	}
	WriteJSON(w, http.StatusOK, file)
}

// Patch applies a JSON patch to the metadata, or with ?alt=media to
// the contents document. The response carries the revert patch.
func (h *FilesHandler) Patch(w http.ResponseWriter, r *http.Request) {
	user := middleware.User(r.Context())
	key := chi.URLParam(r, "id")

	var ops []model.PatchOp
	if err := DecodeBody(r, &ops); err != nil {
		WriteError(w, h.log, err)
		return
	}

	var (
		res *store.PatchResult
		err error
	)
	if wantsMedia(r) {
		res, err = h.store.Projects.ApplyPatch(r.Context(), key, ops, user.Key)
	} else {
		res, err = h.store.Files.ApplyPatch(r.Context(), key, ops, user.Key)
	}
	if err != nil {
		WriteError(w, h.log, err)
		return
	}
	WriteJSON(w, http.StatusOK, res)
}

// Delete soft-deletes the file subtree, or with ?alt=media only the
// contents document.
func (h *FilesHandler) Delete(w http.ResponseWriter, r *http.Request) {
	user := middleware.User(r.Context())
	key := chi.URLParam(r, "id")

	var err error
	if wantsMedia(r) {
		err = h.store.Projects.Delete(r.Context(), key, user.Key)
	} else {
		err = h.store.Files.Delete(r.Context(), key, user.Key)
	}
	if err != nil {
		WriteError(w, h.log, err)
		return
	}
	WriteJSON(w, http.StatusNoContent, nil)
}

// CreateMedia stores the initial contents document of a project.
func (h *FilesHandler) CreateMedia(w http.ResponseWriter, r *http.Request) {
	user := middleware.User(r.Context())
	key := chi.URLParam(r, "id")

	var doc json.RawMessage
	if err := DecodeBody(r, &doc); err != nil {
		WriteError(w, h.log, err)
		return
	}
	if err := h.store.Projects.Add(r.Context(), key, doc, user.Key); err != nil {
		WriteError(w, h.log, err)
		return
	}
	WriteJSON(w, http.StatusCreated, map[string]string{"status": "OK"})
}

// Permissions lists the active grants on a file.
func (h *FilesHandler) Permissions(w http.ResponseWriter, r *http.Request) {
	user := middleware.User(r.Context())
	key := chi.URLParam(r, "id")

	perms, err := h.store.Files.Permissions(r.Context(), key, user.Key)
	if err != nil {
		WriteError(w, h.log, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{"data": perms})
}

// PatchAccess applies an access-operation list to a file's grants.
func (h *FilesHandler) PatchAccess(w http.ResponseWriter, r *http.Request) {
	user := middleware.User(r.Context())
	key := chi.URLParam(r, "id")

	var ops []store.AccessOp
	if err := DecodeBody(r, &ops); err != nil {
		WriteError(w, h.log, err)
		return
	}
	if err := h.store.Files.PatchAccess(r.Context(), key, ops, user.Key); err != nil {
		WriteError(w, h.log, err)
		return
	}
	WriteJSON(w, http.StatusNoContent, nil)
}

// Revisions lists a file's revision log newest-first; ?alt=media
// selects the contents log.
func (h *FilesHandler) Revisions(w http.ResponseWriter, r *http.Request) {
	user := middleware.User(r.Context())
	key := chi.URLParam(r, "id")

	page, err := h.store.Revisions.List(r.Context(), key, user.Key, wantsMedia(r), listOptions(r))
	if err != nil {
		WriteError(w, h.log, err)
		return
	}
	WriteJSON(w, http.StatusOK, page)
}
