package taskstream

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-json-experiment/json"
)

func TestCallSuccess(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/run" {
			t.Errorf("Expected /run, got %s", r.URL.Path)
		}
		var req struct {
			Task string `json:"task"`
			Args struct {
				Value int `json:"value"`
			} `json:"args"`
		}
		if err := decodeBody(r, &req); err != nil {
			t.Fatalf("Decode failed: %v", err)
		}
		if req.Task != "echo" || req.Args.Value != 42 {
			t.Errorf("Unexpected request: %+v", req)
		}
		writeJSON(w, http.StatusOK, map[string]int{"doubled": req.Args.Value * 2})
	}))
	defer ts.Close()

	client := NewClient(ts.URL)
	result, err := client.Call(context.Background(), "echo", map[string]int{"value": 42})
	if err != nil {
		t.Fatalf("Call failed: %v", err)
	}

	var parsed struct {
		Doubled int `json:"doubled"`
	}
	if err := json.Unmarshal(result, &parsed); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if parsed.Doubled != 84 {
		t.Errorf("Expected 84, got %d", parsed.Doubled)
	}
}

func TestCall404MessageIgnoresBody(t *testing.T) {
	bodies := []string{"", "not json", `{"error":"anything at all"}`}

	for _, body := range bodies {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(body))
		}))

		client := NewClient(ts.URL)
		_, err := client.Call(context.Background(), "missing", nil)
		ts.Close()

		var ce *ClassifiedError
		if !errors.As(err, &ce) {
			t.Fatalf("Expected *ClassifiedError, got %T", err)
		}
		if ce.Message != "Endpoint Not Found (Check endpoint URL.)" {
			t.Errorf("Body %q: expected exact 404 message, got %q", body, ce.Message)
		}
	}
}

func TestCallStatusTable(t *testing.T) {
	cases := []struct {
		status int
		want   string
	}{
		{400, "Invalid Route Name or Arguments"},
		{401, "Not Authenticated"},
		{403, "Insufficient Permission"},
		{500, "Unknown Backend Server Error"},
		{502, "Bad Gateway (Backend server may be off.)"},
		{418, "Unknown Error"},
	}

	for _, tc := range cases {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
			w.Write([]byte(`{"detail":"x"}`))
		}))

		client := NewClient(ts.URL)
		_, err := client.Call(context.Background(), "task", nil)
		ts.Close()

		var ce *ClassifiedError
		if !errors.As(err, &ce) {
			t.Fatalf("Status %d: expected *ClassifiedError, got %T", tc.status, err)
		}
		if ce.Message != tc.want {
			t.Errorf("Status %d: expected %q, got %q", tc.status, tc.want, ce.Message)
		}
		cause, ok := ce.Cause.(map[string]any)
		if !ok {
			t.Fatalf("Status %d: expected map cause, got %T", tc.status, ce.Cause)
		}
		if cause["status"] != tc.status {
			t.Errorf("Status %d: expected status in cause, got %v", tc.status, cause["status"])
		}
	}
}

func TestCallInvalidSuccessBody(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("this is not json"))
	}))
	defer ts.Close()

	client := NewClient(ts.URL)
	_, err := client.Call(context.Background(), "task", nil)

	var ce *ClassifiedError
	if !errors.As(err, &ce) {
		t.Fatalf("Expected *ClassifiedError, got %T", err)
	}
	if ce.Message != "Server responded with success http code, but response body was not valid, this is not expected" {
		t.Errorf("Expected exact protocol failure message, got %q", ce.Message)
	}
}

func TestCallTransportFailure(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	ts.Close() // Nothing is listening anymore.

	client := NewClient(ts.URL)
	_, err := client.Call(context.Background(), "task", nil)

	var ce *ClassifiedError
	if !errors.As(err, &ce) {
		t.Fatalf("Expected *ClassifiedError, got %T", err)
	}
	if ce.Message != "An unexpected error occurred" {
		t.Errorf("Expected transport failure message, got %q", ce.Message)
	}
	if ce.Cause == nil {
		t.Error("Expected raw error info in cause")
	}
}

func TestCallContextCanceled(t *testing.T) {
	release := make(chan struct{})
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer ts.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := NewClient(ts.URL)
	_, err := client.Call(ctx, "task", nil)

	var ce *ClassifiedError
	if !errors.As(err, &ce) {
		t.Fatalf("Expected *ClassifiedError, got %T", err)
	}
	if ce.Message != "An unexpected error occurred" {
		t.Errorf("Expected transport failure message, got %q", ce.Message)
	}
}
