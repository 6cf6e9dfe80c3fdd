package handlers

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/kozaktomas/lookalike/internal/lookalike"
)

// LookalikesHandler handles the face search endpoint.
type LookalikesHandler struct {
	service       *lookalike.Service
	maxUploadSize int64
	logger        *zap.Logger
}

// NewLookalikesHandler creates a new lookalikes handler.
func NewLookalikesHandler(service *lookalike.Service, maxUploadSize int64, logger *zap.Logger) *LookalikesHandler {
	return &LookalikesHandler{
		service:       service,
		maxUploadSize: maxUploadSize,
		logger:        logger,
	}
}

// SearchRequest is the JSON form of a lookalike search.
type SearchRequest struct {
	ImageBase64 string `json:"image_base64"`
}

// MatchResponse is one ranked lookalike.
type MatchResponse struct {
	ID          string  `json:"id"`
	DisplayName string  `json:"display_name"`
	AvatarRef   string  `json:"avatar_ref,omitempty"`
	Similarity  float64 `json:"similarity"`
}

// SearchResponse lists the lookalikes, best first. An empty list means no matches.
type SearchResponse struct {
	Results []MatchResponse `json:"results"`
}

// Search finds the enrolled people who look most like the uploaded face.
func (h *LookalikesHandler) Search(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadSize)

	var image []byte
	if isMultipart(r) {
		if err := r.ParseMultipartForm(h.maxUploadSize); err != nil {
			respondError(w, http.StatusBadRequest, "failed to parse multipart form")
			return
		}
		images, err := formImages(r, "image")
		if err != nil {
			respondError(w, http.StatusBadRequest, "image is required")
			return
		}
		image = images[0]
	} else {
		var req SearchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, errInvalidRequestBody)
			return
		}
		data, err := decodeBase64Image(req.ImageBase64)
		if err != nil {
			respondError(w, http.StatusBadRequest, "image_base64 must be a base64 encoded image")
			return
		}
		image = data
	}

	matches, err := h.service.FindLookalikes(r.Context(), image)
	if err != nil {
		respondServiceError(w, h.logger, err)
		return
	}

	resp := SearchResponse{Results: make([]MatchResponse, 0, len(matches))}
	for _, m := range matches {
		resp.Results = append(resp.Results, MatchResponse{
			ID:          m.Person.ID,
			DisplayName: m.Person.DisplayName,
			AvatarRef:   m.Person.AvatarRef,
			Similarity:  m.Similarity,
		})
	}
	respondJSON(w, http.StatusOK, resp)
}
