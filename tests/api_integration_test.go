package tests

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"testing"
	"time"
)

// waitUntil retries fn until it returns nil or timeout occurs.
func waitUntil(timeout time.Duration, fn func() error) error {
	deadline := time.Now().Add(timeout)
	for {
		if err := fn(); err == nil {
			return nil
		}
		if time.Now().After(deadline) {
			return fn() // return last error
		}
		time.Sleep(2 * time.Second)
	}
}

// healthCheck verifies the API is ready to accept requests
func healthCheck(apiURL string) error {
	resp, err := http.Get(apiURL + "/health")
	if err != nil {
		return fmt.Errorf("health check failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}
	return nil
}

func apiBase() string {
	if base := os.Getenv("API_URL"); base != "" {
		return base
	}
	// Use Docker service name when running in container
	if os.Getenv("DOCKER_ENV") == "true" {
		return "http://api:8080"
	}
	return "http://localhost:8080"
}

func postTitles(base string, body map[string]any) (*http.Response, error) {
	b, _ := json.Marshal(body)
	return http.Post(base+"/titles", "application/json", bytes.NewReader(b))
}

func TestSubmitTitleJob(t *testing.T) {
	base := apiBase()

	if err := waitUntil(60*time.Second, func() error { return healthCheck(base) }); err != nil {
		t.Fatalf("API health check failed: %v", err)
	}

	var jobID string
	err := waitUntil(30*time.Second, func() error {
		resp, err := postTitles(base, map[string]any{"email": "a@b.com", "channel": "tech"})
		if err != nil {
			return fmt.Errorf("HTTP request failed: %v", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusCreated {
			return fmt.Errorf("expected status 201, got %d", resp.StatusCode)
		}

		var out struct {
			JobID   string `json:"job_id"`
			Message string `json:"message"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return fmt.Errorf("failed to decode response: %v", err)
		}
		if !strings.HasPrefix(out.JobID, "job_") {
			return fmt.Errorf("unexpected job_id %q", out.JobID)
		}
		jobID = out.JobID
		return nil
	})
	if err != nil {
		t.Fatalf("job submission failed: %v", err)
	}

	// The record is queryable immediately and reaches a terminal status once
	// the worker has consumed the event.
	err = waitUntil(30*time.Second, func() error {
		resp, err := http.Get(base + "/titles/" + jobID)
		if err != nil {
			return fmt.Errorf("status query failed: %v", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("expected status 200, got %d", resp.StatusCode)
		}
		var rec struct {
			Status string `json:"status"`
			Email  string `json:"email"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&rec); err != nil {
			return fmt.Errorf("failed to decode record: %v", err)
		}
		if rec.Email != "a@b.com" {
			return fmt.Errorf("unexpected email %q", rec.Email)
		}
		if rec.Status != "completed" && rec.Status != "failed" {
			return fmt.Errorf("job still %s", rec.Status)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("job never reached a terminal status: %v", err)
	}
}

func TestSubmitTitleJobValidation(t *testing.T) {
	base := apiBase()

	if err := waitUntil(60*time.Second, func() error { return healthCheck(base) }); err != nil {
		t.Fatalf("API health check failed: %v", err)
	}

	cases := []map[string]any{
		{"email": "not-an-email", "channel": "tech"},
		{"email": "a@b.com", "channel": ""},
		{"channel": "tech"},
	}
	for _, body := range cases {
		resp, err := postTitles(base, body)
		if err != nil {
			t.Fatalf("HTTP request failed: %v", err)
		}
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("expected status 400 for %v, got %d", body, resp.StatusCode)
		}
		var out struct {
			Error string `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			t.Fatalf("failed to decode error response: %v", err)
		}
		resp.Body.Close()
		if out.Error == "" {
			t.Fatalf("error message is empty for %v", body)
		}
	}
}
