package httputil

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestGetJSON(t *testing.T) {
	mock := NewMockHTTPClient().AddResponse(http.StatusOK, `{"count":2}`)

	var out struct {
		Count int `json:"count"`
	}
	if err := GetJSON(context.Background(), mock, "http://trackwatch.local/api/tracking", &out); err != nil {
		t.Fatalf("GetJSON: %v", err)
	}
	if out.Count != 2 {
		t.Errorf("count = %d, want 2", out.Count)
	}
	if len(mock.Requests) != 1 || mock.Requests[0].Header.Get("Accept") != "application/json" {
		t.Errorf("unexpected requests %+v", mock.Requests)
	}
}

func TestGetJSONStatusError(t *testing.T) {
	mock := NewMockHTTPClient().AddResponse(http.StatusNotFound, `{"error":"unknown device"}`)

	err := GetJSON(context.Background(), mock, "http://trackwatch.local/api/devices/X", &struct{}{})
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("expected StatusError, got %v", err)
	}
	if se.StatusCode != http.StatusNotFound || se.Message != "unknown device" {
		t.Errorf("unexpected status error %+v", se)
	}
}

func TestGetJSONTransportAndDecodeErrors(t *testing.T) {
	boom := errors.New("connection refused")
	mock := NewMockHTTPClient().AddErrorResponse(boom).AddResponse(http.StatusOK, "not json")

	if err := GetJSON(context.Background(), mock, "http://x/", &struct{}{}); !errors.Is(err, boom) {
		t.Errorf("expected transport error, got %v", err)
	}
	if err := GetJSON(context.Background(), mock, "http://x/", &struct{}{}); err == nil {
		t.Error("expected decode error")
	}
}

func TestGetJSONRealServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		WriteJSONOK(w, []string{r.URL.Path})
	}))
	defer srv.Close()

	var out []string
	if err := GetJSON(context.Background(), nil, srv.URL+"/api/sightings", &out); err != nil {
		t.Fatalf("GetJSON: %v", err)
	}
	if len(out) != 1 || out[0] != "/api/sightings" {
		t.Errorf("unexpected body %v", out)
	}
}
