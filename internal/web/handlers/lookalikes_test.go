package handlers

import (
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kozaktomas/lookalike/internal/database"
)

func seedPopulation(store interface{ AddProfile(database.PersonProfile) }) {
	store.AddProfile(database.PersonProfile{ID: "exact", DisplayName: "Exact", AvatarRef: "a.jpg", Centroid: []float32{1, 0}})
	store.AddProfile(database.PersonProfile{ID: "orthogonal", DisplayName: "Orthogonal", Centroid: []float32{0, 1}})
	store.AddProfile(database.PersonProfile{ID: "near", DisplayName: "Near", Centroid: []float32{0.9, 0.1}})
	store.AddProfile(database.PersonProfile{ID: "pending", DisplayName: "Pending"})
}

func TestLookalikesHandler_Search_JSON(t *testing.T) {
	svc, store := newTestService(stubEmbedder{"query": {1, 0}})
	seedPopulation(store)
	handler := NewLookalikesHandler(svc, testMaxUpload, nopLogger())

	req := jsonRequest(t, http.MethodPost, "/api/v1/lookalikes", SearchRequest{
		ImageBase64: "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString([]byte("query")),
	})
	recorder := httptest.NewRecorder()
	handler.Search(recorder, req)

	assertStatusCode(t, recorder, http.StatusOK)
	assertContentType(t, recorder, "application/json")

	var resp SearchResponse
	parseJSONResponse(t, recorder, &resp)

	want := []string{"exact", "near", "orthogonal"}
	if len(resp.Results) != len(want) {
		t.Fatalf("expected %d results, got %+v", len(want), resp.Results)
	}
	for i, id := range want {
		if resp.Results[i].ID != id {
			t.Errorf("position %d: expected %s, got %s", i, id, resp.Results[i].ID)
		}
	}
	if resp.Results[0].AvatarRef != "a.jpg" || resp.Results[0].Similarity < 0.999 {
		t.Errorf("unexpected first result %+v", resp.Results[0])
	}
}

func TestLookalikesHandler_Search_Multipart(t *testing.T) {
	svc, store := newTestService(stubEmbedder{"query": {0, 1}})
	seedPopulation(store)
	handler := NewLookalikesHandler(svc, testMaxUpload, nopLogger())

	req := multipartRequest(t, http.MethodPost, "/api/v1/lookalikes", "image", [][]byte{[]byte("query")}, nil)
	recorder := httptest.NewRecorder()
	handler.Search(recorder, req)

	assertStatusCode(t, recorder, http.StatusOK)
	var resp SearchResponse
	parseJSONResponse(t, recorder, &resp)
	if len(resp.Results) == 0 || resp.Results[0].ID != "orthogonal" {
		t.Errorf("unexpected results %+v", resp.Results)
	}
}

func TestLookalikesHandler_Search_NoMatches(t *testing.T) {
	svc, _ := newTestService(stubEmbedder{"query": {1, 0}})
	handler := NewLookalikesHandler(svc, testMaxUpload, nopLogger())

	req := multipartRequest(t, http.MethodPost, "/api/v1/lookalikes", "image", [][]byte{[]byte("query")}, nil)
	recorder := httptest.NewRecorder()
	handler.Search(recorder, req)

	assertStatusCode(t, recorder, http.StatusOK)
	if !strings.Contains(recorder.Body.String(), `"results":[]`) {
		t.Errorf("expected empty results array, got %s", recorder.Body.String())
	}
}

func TestLookalikesHandler_Search_Errors(t *testing.T) {
	tests := []struct {
		name       string
		request    func(t *testing.T) *http.Request
		wantStatus int
	}{
		{
			name: "invalid json",
			request: func(t *testing.T) *http.Request {
				return httptest.NewRequest(http.MethodPost, "/api/v1/lookalikes", strings.NewReader("{"))
			},
			wantStatus: http.StatusBadRequest,
		},
		{
			name: "missing image",
			request: func(t *testing.T) *http.Request {
				return jsonRequest(t, http.MethodPost, "/api/v1/lookalikes", SearchRequest{})
			},
			wantStatus: http.StatusBadRequest,
		},
		{
			name: "multipart without image",
			request: func(t *testing.T) *http.Request {
				return multipartRequest(t, http.MethodPost, "/api/v1/lookalikes", "other", [][]byte{[]byte("query")}, nil)
			},
			wantStatus: http.StatusBadRequest,
		},
		{
			name: "no face",
			request: func(t *testing.T) *http.Request {
				return multipartRequest(t, http.MethodPost, "/api/v1/lookalikes", "image", [][]byte{[]byte("landscape")}, nil)
			},
			wantStatus: http.StatusBadRequest,
		},
		{
			name: "embedding service down",
			request: func(t *testing.T) *http.Request {
				return multipartRequest(t, http.MethodPost, "/api/v1/lookalikes", "image", [][]byte{[]byte("down")}, nil)
			},
			wantStatus: http.StatusServiceUnavailable,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			svc, store := newTestService(stubEmbedder{"query": {1, 0}})
			handler := NewLookalikesHandler(svc, testMaxUpload, nopLogger())

			recorder := httptest.NewRecorder()
			handler.Search(recorder, tc.request(t))

			assertStatusCode(t, recorder, tc.wantStatus)
			if store.RankedSearchCalls != 0 {
				t.Errorf("expected store not to be searched, got %d calls", store.RankedSearchCalls)
			}
		})
	}
}

func TestLookalikesHandler_Search_StoreUnavailable(t *testing.T) {
	svc, store := newTestService(stubEmbedder{"query": {1, 0}})
	store.RankedSearchError = database.ErrUnavailable
	handler := NewLookalikesHandler(svc, testMaxUpload, nopLogger())

	req := multipartRequest(t, http.MethodPost, "/api/v1/lookalikes", "image", [][]byte{[]byte("query")}, nil)
	recorder := httptest.NewRecorder()
	handler.Search(recorder, req)

	assertStatusCode(t, recorder, http.StatusServiceUnavailable)
}
