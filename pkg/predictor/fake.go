package predictor

import "context"

// FakePredictor is the in-process fake referenced by the design note so
// tests never depend on a live network service. Results queues up fixed
// responses returned in call order; once exhausted it repeats the last one.
type FakePredictor struct {
	Results []Result
	Calls   [][]string
	i       int
}

// NewFakePredictor returns a FakePredictor that yields results in order.
func NewFakePredictor(results ...Result) *FakePredictor {
	return &FakePredictor{Results: results}
}

func (f *FakePredictor) Predict(ctx context.Context, text []string) Result {
	f.Calls = append(f.Calls, text)
	if len(f.Results) == 0 {
		return Result{}
	}
	if f.i >= len(f.Results) {
		return f.Results[len(f.Results)-1]
	}
	r := f.Results[f.i]
	f.i++
	return r
}
