package provider

import (
	"context"
	"testing"
)

type fakeProvider struct {
	name    string
	failErr error
	events  []StreamEvent
}

func (f *fakeProvider) Name() string { return f.name }
func (f *fakeProvider) ChatStream(ctx context.Context, messages []Message, tools []Tool) (<-chan StreamEvent, error) {
	if f.failErr != nil {
		return nil, f.failErr
	}
	ch := make(chan StreamEvent, len(f.events))
	for _, e := range f.events {
		ch <- e
	}
	close(ch)
	return ch, nil
}
func (f *fakeProvider) ListModels(ctx context.Context) ([]Model, error) { return nil, nil }
func (f *fakeProvider) Close() error                                   { return nil }

func TestChainFallsBackOnTransportFailure(t *testing.T) {
	first := &fakeProvider{name: "first", failErr: ErrTransport}
	second := &fakeProvider{name: "second", events: []StreamEvent{{Type: EventContentDelta, Content: "4"}, {Type: EventDone}}}
	chain := NewChain(first, second)

	out, err := chain.ChatStream(context.Background(), nil, nil)
	if err != nil {
		t.Fatalf("expected fallback to succeed, got %v", err)
	}
	var got []StreamEvent
	for e := range out {
		got = append(got, e)
	}
	if len(got) != 2 || got[0].Content != "4" {
		t.Fatalf("unexpected events from fallback provider: %+v", got)
	}
}

func TestChainDoesNotFallBackOnNonChainError(t *testing.T) {
	boom := &fakeProvider{name: "boom", failErr: errNotAChainFailure}
	never := &fakeProvider{name: "never", events: []StreamEvent{{Type: EventDone}}}
	chain := NewChain(boom, never)

	_, err := chain.ChatStream(context.Background(), nil, nil)
	if err == nil {
		t.Fatalf("expected non-chain error to propagate")
	}
}

func TestChainAllProvidersFail(t *testing.T) {
	a := &fakeProvider{name: "a", failErr: ErrTransport}
	b := &fakeProvider{name: "b", failErr: ErrRateLimited}
	chain := NewChain(a, b)

	_, err := chain.ChatStream(context.Background(), nil, nil)
	if err == nil {
		t.Fatalf("expected error when every provider fails")
	}
}

var errNotAChainFailure = &customErr{"schema error, not a chain failure"}

type customErr struct{ msg string }

func (e *customErr) Error() string { return e.msg }
