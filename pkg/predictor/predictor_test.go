package predictor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHTTPPredictorReadsLastTrp(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(predictResponse{Trp: []float64{0.1, 0.4, 0.85}, Time: 0.02})
	}))
	defer srv.Close()

	p := NewHTTPPredictor(srv.URL, 200*time.Millisecond)
	result := p.Predict(context.Background(), []string{"hello", "so I"})
	if result.Failed {
		t.Fatalf("expected success, got Failed=true")
	}
	if result.Trp != 0.85 {
		t.Errorf("expected last trp 0.85, got %v", result.Trp)
	}
}

func TestHTTPPredictorTimeoutYieldsFailedZeroTrp(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(100 * time.Millisecond)
		json.NewEncoder(w).Encode(predictResponse{Trp: []float64{0.9}})
	}))
	defer srv.Close()

	p := NewHTTPPredictor(srv.URL, 10*time.Millisecond)
	result := p.Predict(context.Background(), []string{"hello"})
	if !result.Failed {
		t.Fatalf("expected Failed=true on timeout")
	}
	if result.Trp != 0 {
		t.Errorf("expected trp=0 on failure, got %v", result.Trp)
	}
}

func TestHTTPPredictorNonOKStatusFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := NewHTTPPredictor(srv.URL, 200*time.Millisecond)
	result := p.Predict(context.Background(), []string{"hello"})
	if !result.Failed {
		t.Fatalf("expected Failed=true on non-OK status")
	}
}

func TestFakePredictorReturnsQueuedResults(t *testing.T) {
	f := NewFakePredictor(Result{Trp: 0.2}, Result{Trp: 0.9})
	r1 := f.Predict(context.Background(), []string{"a"})
	r2 := f.Predict(context.Background(), []string{"b"})
	r3 := f.Predict(context.Background(), []string{"c"})

	if r1.Trp != 0.2 || r2.Trp != 0.9 || r3.Trp != 0.9 {
		t.Errorf("expected 0.2, 0.9, 0.9 (repeating last), got %v %v %v", r1.Trp, r2.Trp, r3.Trp)
	}
	if len(f.Calls) != 3 {
		t.Errorf("expected 3 recorded calls, got %d", len(f.Calls))
	}
}
