package radiotherm_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"alarm-tstat/internal/domain"
	"alarm-tstat/internal/infra"
	"alarm-tstat/internal/infra/radiotherm"
)

func noSleep(context.Context, time.Duration) error { return nil }

func newTestClient(url string) *radiotherm.Client {
	// 2026-10-14 is a Wednesday, day 2 for the device.
	wednesday := time.Date(2026, 10, 14, 9, 0, 0, 0, time.Local)
	return radiotherm.NewClient(url,
		radiotherm.WithRequestInterval(0),
		radiotherm.WithRetry(infra.RetryConfig{MaxAttempts: 3, Sleep: noSleep}),
		radiotherm.WithClock(func() time.Time { return wednesday }),
	)
}

type recorder struct {
	mu    sync.Mutex
	calls []string
	posts []map[string]any
}

func (r *recorder) record(req *http.Request) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, req.Method+" "+req.URL.Path)
	if req.Method == http.MethodPost {
		var body map[string]any
		_ = json.NewDecoder(req.Body).Decode(&body)
		r.posts = append(r.posts, body)
	}
}

func TestClient_GetStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/tstat" {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"temp":   68.5,
			"tmode":  1,
			"fmode":  2,
			"hold":   1,
			"t_heat": 62.0,
			"tstate": 0,
		})
	}))
	defer server.Close()

	status, err := newTestClient(server.URL).GetStatus(context.Background())
	if err != nil {
		t.Fatalf("GetStatus error: %v", err)
	}

	want := domain.ThermostatStatus{
		Mode:                domain.ModeHeat,
		HoldActive:          true,
		DesiredHeatSetpoint: 62,
		FanMode:             domain.FanOn,
		Temperature:         68.5,
	}
	if status != want {
		t.Errorf("status: got %+v, want %+v", status, want)
	}
}

func TestClient_GetStatus_UnknownMode(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"tmode": 9})
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).GetStatus(context.Background())
	if !errors.Is(err, domain.ErrStatusUnavailable) {
		t.Fatalf("expected ErrStatusUnavailable, got %v", err)
	}
}

func TestClient_GetStatus_RetriesServerErrors(t *testing.T) {
	var attempts int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			http.Error(w, "busy", http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"tmode": 0, "hold": 0})
	}))
	defer server.Close()

	status, err := newTestClient(server.URL).GetStatus(context.Background())
	if err != nil {
		t.Fatalf("GetStatus error: %v", err)
	}
	if status.Mode != domain.ModeOff {
		t.Errorf("mode: got %s, want off", status.Mode)
	}
	if attempts != 3 {
		t.Errorf("attempts: got %d, want 3", attempts)
	}
}

func TestClient_GetStatus_GivesUp(t *testing.T) {
	var attempts int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		http.Error(w, "busy", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).GetStatus(context.Background())
	if !errors.Is(err, domain.ErrStatusUnavailable) || !errors.Is(err, domain.ErrTransient) {
		t.Fatalf("expected wrapped transient status error, got %v", err)
	}
	if attempts != 3 {
		t.Errorf("attempts: got %d, want 3", attempts)
	}
}

func TestClient_GetTodaysSetbackSetpoint(t *testing.T) {
	var requested string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requested = r.URL.Path
		json.NewEncoder(w).Encode(map[string]any{
			"2": []float64{360, 70, 480, 58, 1080, 70, 1320, 62},
		})
	}))
	defer server.Close()

	setpoint, err := newTestClient(server.URL).GetTodaysSetbackSetpoint(context.Background())
	if err != nil {
		t.Fatalf("GetTodaysSetbackSetpoint error: %v", err)
	}
	if requested != "/tstat/program/heat/2" {
		t.Errorf("path: got %s, want /tstat/program/heat/2", requested)
	}
	if setpoint != 58 {
		t.Errorf("setpoint: got %v, want 58", setpoint)
	}
}

func TestClient_GetTodaysSetbackSetpoint_EmptyProgram(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"2": []float64{}})
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).GetTodaysSetbackSetpoint(context.Background())
	if !errors.Is(err, domain.ErrSetpointUnavailable) {
		t.Fatalf("expected ErrSetpointUnavailable, got %v", err)
	}
}

func TestClient_SetHoldTemperature(t *testing.T) {
	rec := &recorder{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.record(r)
		json.NewEncoder(w).Encode(map[string]any{"success": 0})
	}))
	defer server.Close()

	if err := newTestClient(server.URL).SetHoldTemperature(context.Background(), 58); err != nil {
		t.Fatalf("SetHoldTemperature error: %v", err)
	}

	if len(rec.posts) != 1 {
		t.Fatalf("posts: got %d, want 1", len(rec.posts))
	}
	if rec.calls[0] != "POST /tstat" {
		t.Errorf("call: got %s", rec.calls[0])
	}
	if rec.posts[0]["t_heat"] != 58.0 || rec.posts[0]["hold"] != 1.0 {
		t.Errorf("body: got %v", rec.posts[0])
	}
}

func TestClient_SetHoldTemperature_Rejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"error": -1})
	}))
	defer server.Close()

	if err := newTestClient(server.URL).SetHoldTemperature(context.Background(), 58); err == nil {
		t.Fatal("expected error for rejected hold")
	}
}

func TestClient_ResumeProgram(t *testing.T) {
	rec := &recorder{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.record(r)
		json.NewEncoder(w).Encode(map[string]any{"success": 0})
	}))
	defer server.Close()

	if err := newTestClient(server.URL).ResumeProgram(context.Background()); err != nil {
		t.Fatalf("ResumeProgram error: %v", err)
	}

	wantCalls := []string{"POST /tstat", "POST /tstat/save_energy", "POST /tstat/save_energy"}
	if len(rec.calls) != len(wantCalls) {
		t.Fatalf("calls: got %v, want %v", rec.calls, wantCalls)
	}
	for i, c := range wantCalls {
		if rec.calls[i] != c {
			t.Errorf("call %d: got %s, want %s", i, rec.calls[i], c)
		}
	}
	if rec.posts[0]["hold"] != 0.0 {
		t.Errorf("hold body: got %v", rec.posts[0])
	}
	if rec.posts[1]["mode"] != 1.0 || rec.posts[2]["mode"] != 0.0 {
		t.Errorf("save energy bodies: got %v, %v", rec.posts[1], rec.posts[2])
	}
}

func TestClient_SetAccessory(t *testing.T) {
	rec := &recorder{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.record(r)
		json.NewEncoder(w).Encode(map[string]any{"success": 0})
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	if err := client.SetAccessory(context.Background(), true); err != nil {
		t.Fatalf("SetAccessory(true) error: %v", err)
	}
	if err := client.SetAccessory(context.Background(), false); err != nil {
		t.Fatalf("SetAccessory(false) error: %v", err)
	}

	if rec.calls[0] != "POST /tstat/night_light" {
		t.Errorf("call: got %s", rec.calls[0])
	}
	if rec.posts[0]["intensity"] != 4.0 || rec.posts[1]["intensity"] != 0.0 {
		t.Errorf("intensity: got %v, %v", rec.posts[0], rec.posts[1])
	}
}
