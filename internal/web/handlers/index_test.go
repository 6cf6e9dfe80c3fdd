package handlers

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kozaktomas/lookalike/internal/database"
	"github.com/kozaktomas/lookalike/internal/database/mock"
)

func indexHandlerWith(r database.HNSWRebuilder) *IndexHandler {
	h := NewIndexHandler(nopLogger())
	h.rebuilder = func() database.HNSWRebuilder { return r }
	return h
}

func TestIndexHandler_Rebuild(t *testing.T) {
	rebuilder := &mock.MockHNSWRebuilder{Enabled: true, Size: 7}
	handler := indexHandlerWith(rebuilder)

	recorder := httptest.NewRecorder()
	handler.Rebuild(recorder, httptest.NewRequest(http.MethodPost, "/api/v1/index/rebuild", nil))

	assertStatusCode(t, recorder, http.StatusOK)
	var resp RebuildIndexResponse
	parseJSONResponse(t, recorder, &resp)
	if !resp.Success || !resp.Saved || resp.ProfileCount != 7 {
		t.Errorf("unexpected response %+v", resp)
	}
	if rebuilder.RebuildCalls != 1 || rebuilder.SaveCalls != 1 {
		t.Errorf("expected one rebuild and one save, got %d/%d", rebuilder.RebuildCalls, rebuilder.SaveCalls)
	}
}

func TestIndexHandler_Rebuild_SaveFailureStillSucceeds(t *testing.T) {
	rebuilder := &mock.MockHNSWRebuilder{Enabled: true, SaveError: errors.New("disk full")}
	handler := indexHandlerWith(rebuilder)

	recorder := httptest.NewRecorder()
	handler.Rebuild(recorder, httptest.NewRequest(http.MethodPost, "/api/v1/index/rebuild", nil))

	assertStatusCode(t, recorder, http.StatusOK)
	var resp RebuildIndexResponse
	parseJSONResponse(t, recorder, &resp)
	if resp.Saved {
		t.Error("expected saved=false")
	}
}

func TestIndexHandler_Rebuild_Errors(t *testing.T) {
	tests := []struct {
		name       string
		rebuilder  database.HNSWRebuilder
		wantStatus int
	}{
		{"not registered", nil, http.StatusConflict},
		{"disabled", &mock.MockHNSWRebuilder{Enabled: false}, http.StatusConflict},
		{"rebuild fails", &mock.MockHNSWRebuilder{Enabled: true, RebuildError: errors.New("db down")}, http.StatusInternalServerError},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			recorder := httptest.NewRecorder()
			indexHandlerWith(tc.rebuilder).Rebuild(recorder, httptest.NewRequest(http.MethodPost, "/api/v1/index/rebuild", nil))
			assertStatusCode(t, recorder, tc.wantStatus)
		})
	}
}
