package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/linkvault/linkvault/internal/share"
	"github.com/linkvault/linkvault/internal/store"
)

type createShareRequest struct {
	FileID         string `json:"file_id"`
	FileName       string `json:"file_name"`
	FileSize       int64  `json:"file_size"`
	FileHash       string `json:"file_hash"`
	OneTimeAccess  bool   `json:"one_time_access"`
	ExpiresInHours *int   `json:"expires_in_hours,omitempty"`
}

type shareResponse struct {
	*store.Share
	ShareURL string `json:"share_url"`
}

func (h *Handlers) toShareResponse(s *store.Share) shareResponse {
	return shareResponse{Share: s, ShareURL: h.Cfg.ShareURL(s.Token)}
}

// HandleUpload accepts a multipart file upload and forwards it to the file
// service. The share link is created separately.
// POST /api/files/upload
func (h *Handlers) HandleUpload(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireUserID(w, r); !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.Cfg.Upload.MaxBytes)

	file, header, err := r.FormFile("file")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			WriteError(w, http.StatusRequestEntityTooLarge, ReasonPayloadTooLarge,
				fmt.Sprintf("upload exceeds %d bytes", h.Cfg.Upload.MaxBytes))
			return
		}
		WriteBadRequest(w, ReasonMissingField, "multipart field 'file' is required")
		return
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			WriteError(w, http.StatusRequestEntityTooLarge, ReasonPayloadTooLarge,
				fmt.Sprintf("upload exceeds %d bytes", h.Cfg.Upload.MaxBytes))
			return
		}
		WriteBadRequest(w, ReasonBadRequest, "failed to read upload")
		return
	}
	if len(content) == 0 {
		WriteBadRequest(w, ReasonInvalidField, "uploaded file is empty")
		return
	}

	result, err := h.Blobs.Upload(r.Context(), content, header.Filename)
	if err != nil {
		h.Logger.Error("file service upload failed", "file_name", header.Filename, "error", err)
		WriteError(w, http.StatusBadGateway, ReasonUpstreamError, "file storage is unavailable")
		return
	}

	h.Logger.Info("file uploaded", "file_id", result.FileID, "file_size", result.FileSize)
	WriteJSON(w, http.StatusOK, result)
}

// HandleCreateShare creates a share link for a stored file.
// POST /api/files/share
func (h *Handlers) HandleCreateShare(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req createShareRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, ReasonBadRequest, "invalid JSON body")
		return
	}
	if req.FileID == "" || req.FileName == "" {
		WriteBadRequest(w, ReasonMissingField, "file_id and file_name are required")
		return
	}
	if req.ExpiresInHours != nil && *req.ExpiresInHours < 0 {
		WriteBadRequest(w, ReasonInvalidField, "expires_in_hours must not be negative")
		return
	}

	record, err := h.Shares.CreateShare(r.Context(), userID, share.FileRef{
		ID:   req.FileID,
		Name: req.FileName,
		Size: req.FileSize,
		Hash: req.FileHash,
	}, req.OneTimeAccess, req.ExpiresInHours)
	if err != nil {
		h.Logger.Error("share creation failed", "owner_id", userID, "file_id", req.FileID, "error", err)
		WriteInternalError(w, "failed to create share")
		return
	}

	WriteJSON(w, http.StatusCreated, h.toShareResponse(record))
}

// HandleListShares returns the caller's shares, newest first.
// GET /api/files/shares
func (h *Handlers) HandleListShares(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	shares, err := h.Shares.ListSharesByOwner(r.Context(), userID)
	if err != nil {
		h.Logger.Error("share listing failed", "owner_id", userID, "error", err)
		WriteInternalError(w, "failed to list shares")
		return
	}

	out := make([]shareResponse, 0, len(shares))
	for _, s := range shares {
		out = append(out, h.toShareResponse(s))
	}
	WriteJSON(w, http.StatusOK, out)
}

// HandleShareAccessLog returns the access history for one of the caller's shares.
// GET /api/files/shares/{id}/access-log
func (h *Handlers) HandleShareAccessLog(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	shareID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		WriteBadRequest(w, ReasonInvalidField, "invalid share id")
		return
	}

	entries, err := h.Shares.ListAccessLog(r.Context(), shareID, userID)
	if err != nil {
		if errors.Is(err, share.ErrDenied) {
			WriteNotFound(w, "share not found")
			return
		}
		h.Logger.Error("access log listing failed", "share_id", shareID, "error", err)
		WriteInternalError(w, "failed to list access log")
		return
	}

	if entries == nil {
		entries = []*store.AccessLogEntry{}
	}
	WriteJSON(w, http.StatusOK, entries)
}

// HandleDisableShare revokes one of the caller's shares.
// DELETE /api/files/shares/{id}
func (h *Handlers) HandleDisableShare(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	shareID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		WriteBadRequest(w, ReasonInvalidField, "invalid share id")
		return
	}

	if err := h.Shares.DisableShare(r.Context(), shareID, userID); err != nil {
		if errors.Is(err, share.ErrDenied) {
			// Missing and foreign shares answer identically.
			WriteNotFound(w, "share not found")
			return
		}
		h.Logger.Error("share disable failed", "share_id", shareID, "error", err)
		WriteInternalError(w, "failed to disable share")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]string{"message": "share disabled"})
}

// HandleDownload serves a shared file by token. This is the public entry
// point: token validation, access recording, and one-time consumption all
// happen here.
// GET /api/files/download/{token}
func (h *Handlers) HandleDownload(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	if token == "" {
		WriteNotFound(w, "share not found")
		return
	}

	info, err := h.Shares.ValidateToken(r.Context(), token)
	if err != nil {
		if errors.Is(err, share.ErrNotFound) {
			WriteNotFound(w, "share not found or no longer available")
			return
		}
		h.Logger.Error("token validation failed", "error", err)
		WriteInternalError(w, "failed to validate share")
		return
	}

	// Consume before serving: a one-time share must be closed even if the
	// client aborts the transfer afterwards.
	if err := h.Shares.RecordAccess(r.Context(), info.ShareID, clientIP(r), r.UserAgent()); err != nil {
		h.Logger.Error("access recording failed", "share_id", info.ShareID, "error", err)
		WriteInternalError(w, "failed to record access")
		return
	}

	content, fileName, err := h.Blobs.Download(r.Context(), info.FileID)
	if err != nil {
		h.Logger.Error("file service download failed", "file_id", info.FileID, "error", err)
		WriteError(w, http.StatusBadGateway, ReasonUpstreamError, "file storage is unavailable")
		return
	}

	h.Logger.Info("share downloaded", "share_id", info.ShareID, "file_id", info.FileID)

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", fileName))
	w.Header().Set("Content-Length", strconv.Itoa(len(content)))
	w.Write(content)
}
