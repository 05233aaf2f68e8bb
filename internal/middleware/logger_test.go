package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestLogger_RecordsStatusAndPath(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	logger := zap.New(core)

	h := Logger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("short"))
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/bookings/bk-1/balance", nil)
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusTeapot {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusTeapot)
	}

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("log entries = %d, want 1", len(entries))
	}

	fields := entries[0].ContextMap()
	if fields["path"] != "/api/bookings/bk-1/balance" {
		t.Fatalf("logged path = %v, want /api/bookings/bk-1/balance", fields["path"])
	}
	if fields["status"] != int64(http.StatusTeapot) {
		t.Fatalf("logged status = %v, want %d", fields["status"], http.StatusTeapot)
	}
	if fields["size"] != int64(len("short")) {
		t.Fatalf("logged size = %v, want %d", fields["size"], len("short"))
	}
}
