package transport

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func testSession(url string) *Session {
	return &Session{InstanceURL: url, AccessToken: "tok-1", APIVersion: "58.0"}
}

func TestDoAttachesSessionAndVersion(t *testing.T) {
	var gotPath, gotToken string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotToken = r.Header.Get("X-SFDC-Session")
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"id":"750x0"}`)
	}))
	defer ts.Close()

	c := New(testSession(ts.URL))
	resp, err := c.Do(context.Background(), Request{Method: http.MethodGet, Path: "/job/750x0"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotPath != "/services/async/58.0/job/750x0" {
		t.Errorf("path = %q", gotPath)
	}
	if gotToken != "tok-1" {
		t.Errorf("session header = %q, want tok-1", gotToken)
	}
	if !strings.Contains(string(resp.Body), "750x0") {
		t.Errorf("unexpected body: %s", resp.Body)
	}
}

func TestDoParsesErrorEnvelope(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"object envelope", `{"exceptionCode":"InvalidJob","exceptionMessage":"no such job"}`},
		{"array envelope", `[{"exceptionCode":"InvalidJob","exceptionMessage":"no such job"}]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusBadRequest)
				io.WriteString(w, tt.body)
			}))
			defer ts.Close()

			c := New(testSession(ts.URL))
			_, err := c.Do(context.Background(), Request{Method: http.MethodGet, Path: "/job/x"})
			apiErr, ok := err.(*APIError)
			if !ok {
				t.Fatalf("expected *APIError, got %T: %v", err, err)
			}
			if apiErr.Code != "InvalidJob" || apiErr.Message != "no such job" {
				t.Errorf("unexpected envelope: %+v", apiErr)
			}
			if apiErr.SessionExpired() {
				t.Error("InvalidJob should not read as session expiry")
			}
		})
	}
}

func TestDoRetriesOnceAfterSessionRefresh(t *testing.T) {
	var calls int
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if r.Header.Get("X-SFDC-Session") == "tok-1" {
			w.WriteHeader(http.StatusUnauthorized)
			io.WriteString(w, `{"exceptionCode":"InvalidSessionId","exceptionMessage":"Invalid session id"}`)
			return
		}
		io.WriteString(w, `{"id":"750x0"}`)
	}))
	defer ts.Close()

	refreshed := 0
	c := New(testSession(ts.URL), WithRefresher(RefresherFunc(func(ctx context.Context) (*Session, error) {
		refreshed++
		return &Session{InstanceURL: ts.URL, AccessToken: "tok-2", APIVersion: "58.0"}, nil
	})))

	resp, err := c.Do(context.Background(), Request{Method: http.MethodGet, Path: "/job/750x0"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 2 {
		t.Errorf("expected 2 requests, got %d", calls)
	}
	if refreshed != 1 {
		t.Errorf("expected 1 refresh, got %d", refreshed)
	}
	var out struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(resp.Body, &out); err != nil || out.ID != "750x0" {
		t.Errorf("unexpected body: %s", resp.Body)
	}
}

func TestDoNoRefresherPropagatesExpiry(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		io.WriteString(w, `{"exceptionCode":"InvalidSessionId","exceptionMessage":"Invalid session id"}`)
	}))
	defer ts.Close()

	c := New(testSession(ts.URL))
	_, err := c.Do(context.Background(), Request{Method: http.MethodGet, Path: "/job/x"})
	apiErr, ok := err.(*APIError)
	if !ok || !apiErr.SessionExpired() {
		t.Fatalf("expected session-expired APIError, got %v", err)
	}
}

func TestStreamReturnsRawBody(t *testing.T) {
	const payload = "Id,Name\n001,Acme\n"
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/csv")
		io.WriteString(w, payload)
	}))
	defer ts.Close()

	c := New(testSession(ts.URL))
	rc, err := c.Stream(context.Background(), Request{Method: http.MethodGet, Path: "/job/j/batch/b/result/r"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer rc.Close()

	got, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(got) != payload {
		t.Errorf("stream body = %q, want %q", got, payload)
	}
}

func TestStreamErrorEnvelope(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		io.WriteString(w, `{"exceptionCode":"InvalidBatch","exceptionMessage":"no such batch"}`)
	}))
	defer ts.Close()

	c := New(testSession(ts.URL))
	_, err := c.Stream(context.Background(), Request{Method: http.MethodGet, Path: "/job/j/batch/b/result/r"})
	apiErr, ok := err.(*APIError)
	if !ok || apiErr.Code != "InvalidBatch" {
		t.Fatalf("expected InvalidBatch APIError, got %v", err)
	}
}

func TestUploadSendsRawBody(t *testing.T) {
	var gotBody string
	var gotContentType string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		gotContentType = r.Header.Get("Content-Type")
		io.WriteString(w, `{"id":"751x0","state":"Queued"}`)
	}))
	defer ts.Close()

	c := New(testSession(ts.URL))
	_, err := c.Do(context.Background(), Request{
		Method: http.MethodPost,
		Path:   "/job/750x0/batch",
		Raw:    strings.NewReader("Name\nAcme\n"),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotBody != "Name\nAcme\n" {
		t.Errorf("uploaded body = %q", gotBody)
	}
	if gotContentType != "text/csv" {
		t.Errorf("content type = %q, want text/csv", gotContentType)
	}
}
