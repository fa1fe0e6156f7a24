package publisher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/clipcast/publisher/internal/config"
	"github.com/clipcast/publisher/internal/model"
)

func newFacebookPublisher(serverURL string) *FacebookPublisher {
	return NewFacebookPublisher(&config.FacebookConfig{
		GraphBaseURL:      serverURL,
		GraphVideoBaseURL: serverURL,
	})
}

func fbCreds() model.Credentials {
	return model.Credentials{
		secretFBPageID:    "123",
		secretFBPageToken: "page-token",
	}
}

func TestFacebookPreflightPasses(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/me", func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("access_token"); got != "page-token" {
			t.Errorf("access_token = %q, want page-token", got)
		}
		w.Write([]byte(`{"id":"123","name":"News Page"}`))
	})
	mux.HandleFunc("/me/permissions", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":[
			{"permission":"pages_manage_posts","status":"granted"},
			{"permission":"pages_read_engagement","status":"granted"},
			{"permission":"publish_video","status":"granted"}
		]}`))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	if err := newFacebookPublisher(server.URL).Preflight(context.Background(), fbCreds()); err != nil {
		t.Fatalf("Preflight() error = %v", err)
	}
}

func TestFacebookPreflightMissingPermission(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/me", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":"123","name":"News Page"}`))
	})
	mux.HandleFunc("/me/permissions", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":[
			{"permission":"pages_manage_posts","status":"granted"},
			{"permission":"publish_video","status":"declined"}
		]}`))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	err := newFacebookPublisher(server.URL).Preflight(context.Background(), fbCreds())
	perr, ok := AsError(err)
	if !ok {
		t.Fatalf("Preflight() error = %v, want *Error", err)
	}
	if perr.Kind != model.ErrKindInvalidCredential {
		t.Errorf("Kind = %s, want %s", perr.Kind, model.ErrKindInvalidCredential)
	}
	for _, perm := range []string{"pages_read_engagement", "publish_video"} {
		if !strings.Contains(perr.Remediation, perm) {
			t.Errorf("Remediation %q does not name %s", perr.Remediation, perm)
		}
	}
}

func TestFacebookPreflightExpiredToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"message":"Error validating access token","code":190,"fbtrace_id":"AbCd"}}`))
	}))
	defer server.Close()

	err := newFacebookPublisher(server.URL).Preflight(context.Background(), fbCreds())
	perr, ok := AsError(err)
	if !ok {
		t.Fatalf("Preflight() error = %v, want *Error", err)
	}
	if perr.Kind != model.ErrKindInvalidCredential {
		t.Errorf("Kind = %s, want %s", perr.Kind, model.ErrKindInvalidCredential)
	}
	if perr.Remediation == "" {
		t.Error("Remediation is empty")
	}
}

func TestFacebookUpload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clip.mp4")
	if err := os.WriteFile(path, []byte("video-bytes"), 0o644); err != nil {
		t.Fatal(err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/123/videos", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("ParseMultipartForm() error = %v", err)
		}
		if got := r.FormValue("access_token"); got != "page-token" {
			t.Errorf("access_token = %q", got)
		}
		if got := r.FormValue("title"); got != "Morning Brief" {
			t.Errorf("title = %q", got)
		}
		if got := r.FormValue("description"); !strings.HasPrefix(got, "Morning Brief\n\n") {
			t.Errorf("description = %q, want title prefix", got)
		}
		if got := r.FormValue("published"); got != "true" {
			t.Errorf("published = %q", got)
		}
		file, _, err := r.FormFile("source")
		if err != nil {
			t.Fatalf("FormFile(source) error = %v", err)
		}
		file.Close()
		w.Write([]byte(`{"id":"987654"}`))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	meta := model.VideoMeta{Title: "Morning Brief", Description: "Top stories."}
	id, err := newFacebookPublisher(server.URL).Upload(context.Background(), path, meta, fbCreds())
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	if id != "987654" {
		t.Errorf("Upload() id = %q, want 987654", id)
	}
}

func TestFacebookUploadRateLimited(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clip.mp4")
	if err := os.WriteFile(path, []byte("video-bytes"), 0o644); err != nil {
		t.Fatal(err)
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"message":"Application request limit reached","code":4}}`))
	}))
	defer server.Close()

	_, err := newFacebookPublisher(server.URL).Upload(context.Background(), path, model.VideoMeta{Title: "T"}, fbCreds())
	perr, ok := AsError(err)
	if !ok {
		t.Fatalf("Upload() error = %v, want *Error", err)
	}
	if perr.Kind != model.ErrKindQuotaExceeded {
		t.Errorf("Kind = %s, want %s", perr.Kind, model.ErrKindQuotaExceeded)
	}
}

func TestFacebookUploadServerError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clip.mp4")
	if err := os.WriteFile(path, []byte("video-bytes"), 0o644); err != nil {
		t.Fatal(err)
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	_, err := newFacebookPublisher(server.URL).Upload(context.Background(), path, model.VideoMeta{Title: "T"}, fbCreds())
	perr, ok := AsError(err)
	if !ok {
		t.Fatalf("Upload() error = %v, want *Error", err)
	}
	if perr.Kind != model.ErrKindTransientNetwork {
		t.Errorf("Kind = %s, want %s", perr.Kind, model.ErrKindTransientNetwork)
	}
}
