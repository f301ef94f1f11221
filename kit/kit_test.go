package kit

import (
	"context"
	"errors"
	"log/slog"
	"testing"
)

func TestChain_Order(t *testing.T) {
	var order []string

	mw := func(name string) Middleware {
		return func(next Endpoint) Endpoint {
			return func(ctx context.Context, req any) (any, error) {
				order = append(order, name+"_before")
				resp, err := next(ctx, req)
				order = append(order, name+"_after")
				return resp, err
			}
		}
	}
	base := func(_ context.Context, _ any) (any, error) {
		order = append(order, "endpoint")
		return "ok", nil
	}

	resp, err := Chain(mw("a"), mw("b"))(base)(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if resp != "ok" {
		t.Fatalf("response: got %v", resp)
	}
	want := []string{"a_before", "b_before", "endpoint", "b_after", "a_after"}
	if len(order) != len(want) {
		t.Fatalf("order: got %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order[%d]: got %q, want %q", i, order[i], want[i])
		}
	}
}

func TestLogging_PropagatesError(t *testing.T) {
	errFail := errors.New("fail")
	base := func(_ context.Context, _ any) (any, error) { return nil, errFail }

	_, err := Logging(slog.Default(), "test")(base)(context.Background(), nil)
	if !errors.Is(err, errFail) {
		t.Fatalf("error: got %v, want %v", err, errFail)
	}
}

func TestRecover(t *testing.T) {
	// WHAT: A panicking endpoint yields an error instead of crashing.
	// WHY: One malformed request must not take down the API process.
	base := func(_ context.Context, _ any) (any, error) { panic("kaboom") }

	_, err := Recover()(base)(context.Background(), nil)
	if err == nil {
		t.Fatal("expected error from recovered panic")
	}
}

func TestContext_Defaults(t *testing.T) {
	ctx := context.Background()
	if v := GetTransport(ctx); v != "http" {
		t.Fatalf("default transport: got %q, want http", v)
	}
	if v := GetTraceID(ctx); v != "" {
		t.Fatalf("default trace id: got %q", v)
	}
	ctx = WithTraceID(WithTransport(ctx, "mcp"), "trc_1")
	if GetTransport(ctx) != "mcp" || GetTraceID(ctx) != "trc_1" {
		t.Fatalf("context values not stored: %q %q", GetTransport(ctx), GetTraceID(ctx))
	}
}

func TestDecodeJSON(t *testing.T) {
	type args struct {
		URL string `json:"url"`
	}
	dec := DecodeJSON[args]()
	v, err := dec([]byte(`{"url":"https://example.com"}`))
	if err != nil {
		t.Fatal(err)
	}
	if got := v.(*args).URL; got != "https://example.com" {
		t.Fatalf("url: got %q", got)
	}
	if _, err := dec([]byte(`{`)); err == nil {
		t.Fatal("expected error on malformed JSON")
	}
}
