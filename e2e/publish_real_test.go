package e2e

import (
	"bufio"
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/clipcast/publisher/internal/config"
	"github.com/clipcast/publisher/internal/model"
	"github.com/clipcast/publisher/internal/publisher"
	"github.com/clipcast/publisher/internal/secrets"
)

// loadEnvFile reads a .env file and sets environment variables.
func loadEnvFile(t *testing.T) {
	t.Helper()
	_, filename, _, _ := runtime.Caller(0)
	envPath := filepath.Join(filepath.Dir(filename), "..", ".env")

	f, err := os.Open(envPath)
	if err != nil {
		t.Skipf("skipping: .env file not found at %s", envPath)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) == 2 {
			os.Setenv(parts[0], parts[1])
		}
	}
}

// lookupRealCreds resolves a publisher's secrets through the same broker the
// worker uses, skipping the test when any secret is absent.
func lookupRealCreds(t *testing.T, pub publisher.Publisher) model.Credentials {
	t.Helper()

	broker := secrets.NewBroker(secrets.NewEnvStore())
	creds, err := broker.Lookup(context.Background(), pub.CredentialKeys()...)
	if err != nil {
		if errors.Is(err, secrets.ErrNotFound) {
			t.Skipf("skipping: %v", err)
		}
		t.Fatalf("credential lookup failed: %v", err)
	}
	return creds
}

func preflightContext(t *testing.T, cfg *config.Config) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(),
		time.Duration(cfg.Publish.PreflightTimeout)*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// TestPreflight_RealYouTube forces a token refresh against the live Google
// OAuth endpoint. Read-only; nothing is uploaded.
func TestPreflight_RealYouTube(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping real YouTube API test in short mode")
	}

	loadEnvFile(t)

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	pub := publisher.NewYouTubePublisher(&cfg.YouTube)
	creds := lookupRealCreds(t, pub)

	t.Log("Refreshing YouTube OAuth token against the live endpoint...")
	if err := pub.Preflight(preflightContext(t, cfg), creds); err != nil {
		t.Fatalf("preflight failed: %v", err)
	}
	t.Log("YouTube refresh token accepted")
}

// TestPreflight_RealFacebook resolves the page identity and checks granted
// permissions against the live Graph API. Read-only; nothing is posted.
func TestPreflight_RealFacebook(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping real Facebook API test in short mode")
	}

	loadEnvFile(t)

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	pub := publisher.NewFacebookPublisher(&cfg.Facebook)
	creds := lookupRealCreds(t, pub)

	t.Log("Checking Facebook page token and permissions against the live Graph API...")
	if err := pub.Preflight(preflightContext(t, cfg), creds); err != nil {
		t.Fatalf("preflight failed: %v", err)
	}
	t.Log("Facebook page token carries every required permission")
}

// TestPreflight_RealBuffer fetches the token's account from the live Buffer
// API. Read-only; no update is created.
func TestPreflight_RealBuffer(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping real Buffer API test in short mode")
	}

	loadEnvFile(t)

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	pub := publisher.NewBufferPublisher(&cfg.Buffer)
	creds := lookupRealCreds(t, pub)

	t.Log("Fetching the Buffer account for the access token...")
	if err := pub.Preflight(preflightContext(t, cfg), creds); err != nil {
		t.Fatalf("preflight failed: %v", err)
	}
	t.Log("Buffer access token accepted")
}
