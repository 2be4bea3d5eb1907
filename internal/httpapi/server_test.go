package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/neboloop/duocode/internal/approval"
	"github.com/neboloop/duocode/internal/events"
	"github.com/neboloop/duocode/internal/record"
)

type fakeHealth struct{ errs map[string]string }

func (f fakeHealth) BackendErrors() map[string]string { return f.errs }

func TestHealthzReportsBackendErrors(t *testing.T) {
	bus := events.NewSubject()
	approvals := approval.New()
	s := New(bus, approvals, fakeHealth{errs: map[string]string{"B": "start timeout"}})

	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	errs, ok := body["backend_errors"].(map[string]any)
	if !ok || errs["B"] != "start timeout" {
		t.Fatalf("body = %+v", body)
	}
}

func TestConfirmDeliversDecision(t *testing.T) {
	bus := events.NewSubject()
	approvals := approval.New()
	s := New(bus, approvals, nil)

	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	req, err := approvals.Open(record.RoleA, &record.PendingConfirmation{Context: "apply?"})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	payload, _ := json.Marshal(confirmRequest{Approve: true})
	resp, err := http.Post(srv.URL+"/confirm", "application/json", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("POST /confirm: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	d, err := req.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if !d.Approve {
		t.Fatal("expected an approved decision")
	}
}

func TestConfirmWithoutPendingRequestReturnsConflict(t *testing.T) {
	bus := events.NewSubject()
	approvals := approval.New()
	s := New(bus, approvals, nil)

	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	payload, _ := json.Marshal(confirmRequest{Approve: false})
	resp, err := http.Post(srv.URL+"/confirm", "application/json", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("POST /confirm: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("status = %d, want 409", resp.StatusCode)
	}
}
