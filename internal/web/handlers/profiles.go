package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/kozaktomas/lookalike/internal/database"
	"github.com/kozaktomas/lookalike/internal/lookalike"
)

// ProfilesHandler handles profile registration, enrollment and maintenance.
type ProfilesHandler struct {
	service       *lookalike.Service
	maxUploadSize int64
	logger        *zap.Logger
}

// NewProfilesHandler creates a new profiles handler.
func NewProfilesHandler(service *lookalike.Service, maxUploadSize int64, logger *zap.Logger) *ProfilesHandler {
	return &ProfilesHandler{
		service:       service,
		maxUploadSize: maxUploadSize,
		logger:        logger,
	}
}

// ProfileResponse represents a profile in API responses.
type ProfileResponse struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"display_name"`
	AvatarRef   string    `json:"avatar_ref,omitempty"`
	Enrolled    bool      `json:"enrolled"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func profileToResponse(p *database.PersonProfile) ProfileResponse {
	return ProfileResponse{
		ID:          p.ID,
		DisplayName: p.DisplayName,
		AvatarRef:   p.AvatarRef,
		Enrolled:    p.Enrolled(),
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}
}

// RegisterRequest creates an unenrolled profile.
type RegisterRequest struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
}

// UpdateRequest renames a profile, or replaces its photo when PhotoBase64 is set.
type UpdateRequest struct {
	DisplayName string `json:"display_name"`
	PhotoBase64 string `json:"photo_base64,omitempty"`
	AvatarRef   string `json:"avatar_ref,omitempty"`
}

// EnrollRequest is the JSON form of an enrollment.
type EnrollRequest struct {
	ImagesBase64 []string `json:"images_base64"`
	DisplayName  string   `json:"display_name,omitempty"`
	AvatarRef    string   `json:"avatar_ref,omitempty"`
}

// RejectedImage explains why one enrollment image was not used.
type RejectedImage struct {
	Index int    `json:"index"`
	Error string `json:"error"`
}

// EnrollResponse summarizes a successful enrollment.
type EnrollResponse struct {
	ID       string          `json:"id"`
	Used     int             `json:"used"`
	Rejected []RejectedImage `json:"rejected"`
}

// CountResponse holds profile counts.
type CountResponse struct {
	Total    int64 `json:"total"`
	Enrolled int64 `json:"enrolled"`
}

// respondProfile loads the profile and writes it with status.
func (h *ProfilesHandler) respondProfile(w http.ResponseWriter, r *http.Request, id string, status int) {
	p, err := h.service.Profile(r.Context(), id)
	if err != nil {
		respondServiceError(w, h.logger, err)
		return
	}
	respondJSON(w, status, profileToResponse(p))
}

// Register creates a profile. An existing profile is returned unchanged with 200.
func (h *ProfilesHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}

	created, err := h.service.Register(r.Context(), req.ID, req.DisplayName)
	if err != nil {
		respondServiceError(w, h.logger, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
		h.logger.Info("profile registered", zap.String("person_id", sanitizeForLog(req.ID)))
	}
	h.respondProfile(w, r, strings.TrimSpace(req.ID), status)
}

// Count returns total and enrolled profile counts.
func (h *ProfilesHandler) Count(w http.ResponseWriter, r *http.Request) {
	counts, err := h.service.Stats(r.Context())
	if err != nil {
		respondServiceError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, CountResponse{Total: counts.Total, Enrolled: counts.Enrolled})
}

// Get returns a single profile.
func (h *ProfilesHandler) Get(w http.ResponseWriter, r *http.Request) {
	h.respondProfile(w, r, chi.URLParam(r, "id"), http.StatusOK)
}

// Update renames a profile. With a photo it reenrolls instead, writing the
// name and avatar only if the photo could be embedded.
func (h *ProfilesHandler) Update(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req UpdateRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, h.maxUploadSize)).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}

	if req.PhotoBase64 == "" {
		if req.AvatarRef != "" {
			respondError(w, http.StatusBadRequest, "avatar_ref can only be changed together with photo_base64")
			return
		}
		if err := h.service.Rename(r.Context(), id, req.DisplayName); err != nil {
			respondServiceError(w, h.logger, err)
			return
		}
		h.respondProfile(w, r, id, http.StatusOK)
		return
	}

	photo, err := decodeBase64Image(req.PhotoBase64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "photo_base64 must be a base64 encoded image")
		return
	}
	attrs := lookalike.ProfileAttrs{DisplayName: req.DisplayName, AvatarRef: req.AvatarRef}
	if err := h.service.Reenroll(r.Context(), id, photo, attrs); err != nil {
		respondServiceError(w, h.logger, err)
		return
	}
	h.respondProfile(w, r, id, http.StatusOK)
}

// UpdatePhoto reenrolls a profile from a multipart "image" upload.
func (h *ProfilesHandler) UpdatePhoto(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadSize)

	if err := r.ParseMultipartForm(h.maxUploadSize); err != nil {
		respondError(w, http.StatusBadRequest, "failed to parse multipart form")
		return
	}
	images, err := formImages(r, "image")
	if err != nil {
		respondError(w, http.StatusBadRequest, "image is required")
		return
	}

	attrs := lookalike.ProfileAttrs{
		DisplayName: r.FormValue("display_name"),
		AvatarRef:   r.FormValue("avatar_ref"),
	}
	if err := h.service.Reenroll(r.Context(), id, images[0], attrs); err != nil {
		respondServiceError(w, h.logger, err)
		return
	}
	h.respondProfile(w, r, id, http.StatusOK)
}

// Enroll builds the profile centroid from a batch of photos, given as
// multipart "images" files or a JSON images_base64 list.
func (h *ProfilesHandler) Enroll(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadSize)

	var images [][]byte
	var attrs lookalike.ProfileAttrs
	if isMultipart(r) {
		if err := r.ParseMultipartForm(h.maxUploadSize); err != nil {
			respondError(w, http.StatusBadRequest, "failed to parse multipart form")
			return
		}
		files, err := formImages(r, "images")
		if err != nil && !errors.Is(err, errNoImage) {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		images = files
		attrs = lookalike.ProfileAttrs{DisplayName: r.FormValue("display_name"), AvatarRef: r.FormValue("avatar_ref")}
	} else {
		var req EnrollRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, errInvalidRequestBody)
			return
		}
		decoded, err := decodeBase64Images(req.ImagesBase64)
		if err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		images = decoded
		attrs = lookalike.ProfileAttrs{DisplayName: req.DisplayName, AvatarRef: req.AvatarRef}
	}

	report, err := h.service.Enroll(r.Context(), id, images, attrs)
	if err != nil {
		respondServiceError(w, h.logger, err)
		return
	}

	resp := EnrollResponse{ID: id, Used: report.Used, Rejected: make([]RejectedImage, 0, len(report.Rejected))}
	for _, f := range report.Rejected {
		resp.Rejected = append(resp.Rejected, RejectedImage{Index: f.Index, Error: lookalike.DescribeImageError(f.Err)})
	}
	respondJSON(w, http.StatusOK, resp)
}

// Delete removes a profile and its centroid.
func (h *ProfilesHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Remove(r.Context(), chi.URLParam(r, "id")); err != nil {
		respondServiceError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
