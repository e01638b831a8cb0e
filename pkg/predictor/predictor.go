// Package predictor wraps the remote end-of-turn predictor consumed by the
// eot and prediction policy variants: a small HTTP JSON service scoring
// whether the most recent token is a turn-ending point.
package predictor

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// Predictor is the capability injected into policy variants, per the
// design note replacing a global predictor URL: pass a capability into
// policies, provide an in-process fake for tests.
type Predictor interface {
	// Predict scores text (the condensed dialog plus the current
	// utterance) and returns the last token's turn-relevance probability.
	// A timeout or non-OK response must never be returned as a Go error:
	// callers treat failure as Trp: 0 per the remote-predictor-failure
	// contract, so implementations return Result{Failed: true} (Trp 0)
	// instead.
	Predict(ctx context.Context, text []string) Result
}

// Result is what a Predictor call yields. Failed is set when the call
// timed out or the service returned a non-OK response; Trp is 0 in that
// case so the caller's "listen" default falls out naturally.
type Result struct {
	Trp    float64
	Failed bool
}

// HTTPPredictor calls a remote EOT service over HTTP JSON, grounded on the
// same marshal/NewRequestWithContext/decode shape used for the kept LLM
// providers. Two endpoints are distinguished by URL: the url passed to
// NewHTTPPredictor should be the cheaper "trp" path for the eot variant or
// the richer "prediction" path for the prediction variant.
type HTTPPredictor struct {
	url     string
	client  *http.Client
	timeout time.Duration
}

// NewHTTPPredictor builds an HTTPPredictor against url with the given
// per-call timeout (recommended on the order of one policy tick).
func NewHTTPPredictor(url string, timeout time.Duration) *HTTPPredictor {
	if timeout <= 0 {
		timeout = 150 * time.Millisecond
	}
	return &HTTPPredictor{
		url:     url,
		client:  &http.Client{Timeout: timeout},
		timeout: timeout,
	}
}

type predictRequest struct {
	Text []string `json:"text"`
}

type predictResponse struct {
	Trp         []float64   `json:"trp"`
	Predictions interface{} `json:"predictions,omitempty"`
	Time        float64     `json:"time"`
}

// Predict POSTs text and reads the last element of the response's trp
// array. Any failure (timeout, transport error, non-OK status, or an empty
// trp array) is reported as Result{Failed: true}, never a Go error.
func (p *HTTPPredictor) Predict(ctx context.Context, text []string) Result {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	body, err := json.Marshal(predictRequest{Text: text})
	if err != nil {
		return Result{Failed: true}
	}

	req, err := http.NewRequestWithContext(ctx, "POST", p.url, bytes.NewReader(body))
	if err != nil {
		return Result{Failed: true}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return Result{Failed: true}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Result{Failed: true}
	}

	var result predictResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return Result{Failed: true}
	}
	if len(result.Trp) == 0 {
		return Result{Failed: true}
	}
	return Result{Trp: result.Trp[len(result.Trp)-1]}
}
