package e2e

import (
	"net/http"
	"testing"
)

func hookHeaders() map[string]string {
	return map[string]string{"X-Hook-Secret": testHookSecret}
}

func TestStorageHook_Accepted(t *testing.T) {
	ta := setupApp(t)

	resp, err := doRequest(ta.app, http.MethodPost, "/hooks/storage",
		`{"bucket": "clips-test", "name": "incoming/clip.mp4", "contentType": "video/mp4", "size": 1048576}`,
		hookHeaders())
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}

	assertStatus(t, resp, http.StatusOK)

	body := parseJSON(t, resp)
	if body["accepted"] != true {
		t.Fatalf("expected accepted true, got %v", body)
	}
	jobID, _ := body["jobId"].(string)
	if jobID == "" {
		t.Fatal("expected non-empty jobId")
	}

	// The notification produced a queryable job.
	resp, err = doAuthRequest(t, ta.app, http.MethodGet, "/api/publish/status/"+jobID, "")
	if err != nil {
		t.Fatalf("status request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusOK)
}

func TestStorageHook_QuotedSize(t *testing.T) {
	ta := setupApp(t)

	// GCS notifications serialize size as a JSON string.
	resp, err := doRequest(ta.app, http.MethodPost, "/hooks/storage",
		`{"bucket": "clips-test", "name": "incoming/clip.mp4", "contentType": "video/mp4", "size": "1048576"}`,
		hookHeaders())
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}

	assertStatus(t, resp, http.StatusOK)

	body := parseJSON(t, resp)
	if body["accepted"] != true {
		t.Fatalf("expected accepted true, got %v", body)
	}
}

func TestStorageHook_MissingSecret(t *testing.T) {
	ta := setupApp(t)

	resp, err := doRequest(ta.app, http.MethodPost, "/hooks/storage",
		`{"bucket": "clips-test", "name": "incoming/clip.mp4", "size": 1}`, nil)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}

	assertStatus(t, resp, http.StatusUnauthorized)
}

func TestStorageHook_WrongSecret(t *testing.T) {
	ta := setupApp(t)

	resp, err := doRequest(ta.app, http.MethodPost, "/hooks/storage",
		`{"bucket": "clips-test", "name": "incoming/clip.mp4", "size": 1}`,
		map[string]string{"X-Hook-Secret": "wrong"})
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}

	assertStatus(t, resp, http.StatusUnauthorized)
}

func TestStorageHook_MissingName(t *testing.T) {
	ta := setupApp(t)

	resp, err := doRequest(ta.app, http.MethodPost, "/hooks/storage",
		`{"bucket": "clips-test"}`, hookHeaders())
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}

	assertStatus(t, resp, http.StatusBadRequest)
}

// Filtered notifications answer 200 so the notifier does not redeliver them.
func TestStorageHook_Filtered(t *testing.T) {
	ta := setupApp(t)

	cases := []struct {
		name string
		body string
	}{
		{"companion metadata", `{"bucket": "clips-test", "name": "incoming/clip.json", "size": 64}`},
		{"wrong extension", `{"bucket": "clips-test", "name": "incoming/notes.txt", "size": 64}`},
		{"outside prefix", `{"bucket": "clips-test", "name": "exports/clip.mp4", "size": 64}`},
		{"marker object", `{"bucket": "clips-test", "name": "posted/clip.lock", "size": 5}`},
		{"zero-byte object", `{"bucket": "clips-test", "name": "incoming/clip.mp4", "size": 0}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, err := doRequest(ta.app, http.MethodPost, "/hooks/storage", tc.body, hookHeaders())
			if err != nil {
				t.Fatalf("request failed: %v", err)
			}

			assertStatus(t, resp, http.StatusOK)

			body := parseJSON(t, resp)
			if body["accepted"] != false {
				t.Errorf("expected accepted false, got %v", body)
			}
			if reason, _ := body["reason"].(string); reason == "" {
				t.Error("expected a filter reason")
			}
		})
	}
}
