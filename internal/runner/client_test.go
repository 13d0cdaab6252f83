package runner

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/flowstate/flowstate/internal/domain"
	"github.com/flowstate/flowstate/internal/wire"
)

func TestClient_RegisterReturnsPendingConfig(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req wire.RegisterRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.RunnerID != "runner-1" {
			t.Errorf("RunnerID = %q, want runner-1", req.RunnerID)
		}
		drain := true
		json.NewEncoder(w).Encode(wire.RegisterResponse{
			PendingConfig: &wire.PendingConfig{Drain: &drain},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	pc, err := c.Register(context.Background(), wire.RegisterRequest{RunnerID: "runner-1"})
	if err != nil {
		t.Fatal(err)
	}
	if pc == nil || pc.Drain == nil || !*pc.Drain {
		t.Fatalf("PendingConfig = %+v, want Drain=true", pc)
	}
}

func TestClient_ClaimNoContentReturnsNilRun(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	resp, err := c.Claim(context.Background(), wire.ClaimRequest{RunnerID: "runner-1"})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Run != nil {
		t.Fatalf("Run = %+v, want nil", resp.Run)
	}
}

func TestClient_CompleteSendsOutcomeFields(t *testing.T) {
	var got wire.CompleteRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		json.NewEncoder(w).Encode(wire.Ack{OK: true})
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	exitCode := 0
	err := c.Complete("run-1", "runner-1", domain.Outcome{
		Status: domain.RunCompleted, ExitCode: &exitCode,
	})
	if err != nil {
		t.Fatal(err)
	}
	if got.RunID != "run-1" || got.Status != string(domain.RunCompleted) {
		t.Fatalf("CompleteRequest = %+v", got)
	}
}

func TestClient_RetriesOn5xxThenSucceeds(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(wire.Ack{OK: true})
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	start := time.Now()
	err := c.Progress("run-1", "runner-1", "working")
	if err != nil {
		t.Fatalf("Progress after retry: %v", err)
	}
	if attempts != 2 {
		t.Fatalf("attempts = %d, want 2", attempts)
	}
	if time.Since(start) > 5*time.Second {
		t.Fatal("retry took too long")
	}
}

func TestClient_DoesNotRetryOn4xx(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		http.Error(w, "bad request", http.StatusBadRequest)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	err := c.Progress("run-1", "runner-1", "working")
	if err == nil {
		t.Fatal("expected error for 400 response")
	}
	if attempts != 1 {
		t.Fatalf("attempts = %d, want 1 (no retry on precondition failure)", attempts)
	}
}
