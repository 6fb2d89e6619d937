package observe

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// captureLogs routes the default logger into a buffer for the duration of
// the test.
func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	orig := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	t.Cleanup(func() { slog.SetDefault(orig) })
	return &buf
}

func TestLogger(t *testing.T) {
	testSetup(t)

	tests := []struct {
		name      string
		ctx       func() (context.Context, func())
		wantTrace bool
		want      []string
		dontWant  []string
	}{
		{
			name:     "bare context",
			ctx:      func() (context.Context, func()) { return context.Background(), func() {} },
			dontWant: []string{"trace_id=", "span_id=", "connection_id="},
		},
		{
			name: "attributes without span",
			ctx: func() (context.Context, func()) {
				return WithLogAttrs(context.Background(), "connection_id", "conn-1"), func() {}
			},
			want:     []string{"connection_id=conn-1"},
			dontWant: []string{"trace_id="},
		},
		{
			name: "span and nested attributes",
			ctx: func() (context.Context, func()) {
				ctx, span := StartSpan(context.Background(), "voice connection")
				ctx = WithLogAttrs(ctx, "connection_id", "conn-2")
				ctx = WithLogAttrs(ctx, slog.String("user_id", "ada"))
				return ctx, func() { span.End() }
			},
			wantTrace: true,
			want:      []string{"connection_id=conn-2", "user_id=ada", "span_id="},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := captureLogs(t)
			ctx, end := tt.ctx()
			defer end()

			Logger(ctx).Info("voice connection opened")
			out := buf.String()

			if tt.wantTrace {
				if want := "trace_id=" + CorrelationID(ctx); !strings.Contains(out, want) {
					t.Errorf("log line %q missing %q", out, want)
				}
			}
			for _, w := range tt.want {
				if !strings.Contains(out, w) {
					t.Errorf("log line %q missing %q", out, w)
				}
			}
			for _, w := range tt.dontWant {
				if strings.Contains(out, w) {
					t.Errorf("log line %q unexpectedly contains %q", out, w)
				}
			}
		})
	}
}

func TestWithLogAttrs_LeavesParentUntouched(t *testing.T) {
	buf := captureLogs(t)

	parent := WithLogAttrs(context.Background(), "user_id", "ada")
	child := WithLogAttrs(parent, "connection_id", "conn-1")
	if WithLogAttrs(parent) != parent {
		t.Error("WithLogAttrs without attributes returned a new context")
	}

	Logger(parent).Info("parent")
	if out := buf.String(); strings.Contains(out, "connection_id") {
		t.Errorf("parent logger picked up child attributes: %q", out)
	}
	buf.Reset()
	Logger(child).Info("child")
	if out := buf.String(); !strings.Contains(out, "user_id=ada") || !strings.Contains(out, "connection_id=conn-1") {
		t.Errorf("child logger: got %q", out)
	}
}

func TestCorrelationID_EmptyWithoutSpan(t *testing.T) {
	if got := CorrelationID(context.Background()); got != "" {
		t.Errorf("CorrelationID(background) = %q, want empty", got)
	}
}

func TestMiddleware_ConversationLogsCarryRequestTrace(t *testing.T) {
	m, _, exp := testSetup(t)
	buf := captureLogs(t)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/conversations/{id}/messages", func(w http.ResponseWriter, r *http.Request) {
		ctx := WithLogAttrs(r.Context(), "session_id", r.PathValue("id"))
		Logger(ctx).Warn("conversation not found")
		w.WriteHeader(http.StatusNotFound)
	})
	handler := Middleware(m)(mux)

	const traceID = "4bf92f3577b34da6a3ce929d0e0e4736"
	req := httptest.NewRequest(http.MethodGet, "/v1/conversations/sess-42/messages", nil)
	req.Header.Set("traceparent", "00-"+traceID+"-00f067aa0ba902b7-01")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if got := rec.Header().Get("X-Correlation-ID"); got != traceID {
		t.Fatalf("X-Correlation-ID = %q, want %q", got, traceID)
	}

	var line string
	for _, l := range strings.Split(buf.String(), "\n") {
		if strings.Contains(l, "conversation not found") {
			line = l
		}
	}
	if line == "" {
		t.Fatalf("handler log line missing from %q", buf.String())
	}
	for _, want := range []string{"trace_id=" + traceID, "session_id=sess-42"} {
		if !strings.Contains(line, want) {
			t.Errorf("log line %q missing %q", line, want)
		}
	}

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("spans = %d, want 1", len(spans))
	}
	if want := "span_id=" + spans[0].SpanContext.SpanID().String(); !strings.Contains(line, want) {
		t.Errorf("log line %q missing request span %q", line, want)
	}
	if !strings.Contains(buf.String(), "status=404") {
		t.Errorf("request completion log missing status: %q", buf.String())
	}
}
