package e2e

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/clipcast/publisher/internal/auth"
	"github.com/clipcast/publisher/internal/config"
	"github.com/clipcast/publisher/internal/handler"
	"github.com/clipcast/publisher/internal/middleware"
	"github.com/clipcast/publisher/internal/service"
	"github.com/clipcast/publisher/internal/storage"
	"github.com/clipcast/publisher/internal/trigger"
)

const (
	testJWTSecret  = "test-secret-for-e2e"
	testHookSecret = "test-hook-secret"
)

// testApp holds all components needed for testing
type testApp struct {
	app   *fiber.App
	store *memStore
}

func testConfig() *config.Config {
	return &config.Config{
		Redis: config.RedisConfig{Addr: "localhost:6379", DB: 15},
		JWT:   config.JWTConfig{Secret: testJWTSecret, Expiration: 24},
		Hooks: config.HooksConfig{Secret: testHookSecret},
		Storage: config.StorageConfig{
			Driver: "s3",
			Bucket: "clips-test",
		},
		Ingest: config.IngestConfig{
			Prefix:       "incoming/",
			MarkerPrefix: "posted/",
			Extensions:   []string{".mp4", ".mov"},
			MaxSizeBytes: 64 * 1024 * 1024,
		},
		Publish: config.PublishConfig{
			Targets:          []string{"youtube", "facebook", "buffer"},
			MaxRetries:       2,
			RetryBaseDelayMS: 1,
			PreflightTimeout: 5,
			UploadTimeout:    5,
			JobTimeoutMin:    5,
			DeadlineMargin:   1,
		},
		Schedule: config.ScheduleConfig{
			WindowStart: 0,
			WindowEnd:   24,
			Timezone:    "UTC",
			MaxScan:     5,
		},
	}
}

// setupApp creates a Fiber app with the same routes as main.go, backed by an
// in-memory object store. Redis must be running locally; tests use DB 15 to
// avoid collision.
func setupApp(t *testing.T) *testApp {
	t.Helper()

	cfg := testConfig()

	redisClient := redis.NewClient(&redis.Options{
		Addr: cfg.Redis.Addr,
		DB:   cfg.Redis.DB,
	})

	asynqClient := asynq.NewClient(asynq.RedisClientOpt{
		Addr: cfg.Redis.Addr,
		DB:   cfg.Redis.DB,
	})
	t.Cleanup(func() { asynqClient.Close() })

	validate := validator.New()

	store := newMemStore()
	scanner := trigger.NewScanner(store, cfg.Storage.Bucket, &cfg.Ingest)

	publishService := service.NewPublishService(redisClient, asynqClient, scanner, cfg)

	publishHandler := handler.NewPublishHandler(publishService, validate)
	notifyHandler := handler.NewNotifyHandler(publishService, cfg, validate)
	authHandler := handler.NewAuthHandler(nil, testJWTSecret)

	// Auth middleware uses legacy HMAC only
	authMiddleware := middleware.NewLegacyAuthMiddleware(testJWTSecret)
	rateLimiter := middleware.NewRateLimiter(redisClient)

	app := fiber.New()

	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"service":   "clipcast-publisher",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
	})
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ok",
			"services": fiber.Map{
				"redis":   "ok",
				"storage": cfg.Storage.Driver,
				"auth":    "legacy",
			},
		})
	})
	app.Get("/auth/verify", authHandler.Verify)

	app.Post("/hooks/storage", notifyHandler.Storage)

	// Use very high rate limits so tests don't get blocked
	api := app.Group("/api", authMiddleware.Authenticate())
	api.Post("/publish", rateLimiter.PublishLimit(10000), publishHandler.Start)
	api.Get("/publish/status/:jobId", publishHandler.Status)
	api.Get("/publish/result/:jobId", publishHandler.Result)
	api.Post("/publish/scan", rateLimiter.ScanLimit(10000), publishHandler.Scan)

	return &testApp{app: app, store: store}
}

// memStore is an in-memory ObjectStore so scan flows run without a bucket.
type memStore struct {
	mu      sync.Mutex
	objects map[string]memObject
}

type memObject struct {
	data    []byte
	updated time.Time
}

func newMemStore() *memStore {
	return &memStore{objects: make(map[string]memObject)}
}

func (s *memStore) seed(key string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = memObject{data: data, updated: time.Now()}
}

func (s *memStore) Head(_ context.Context, _, key string) (storage.ObjectInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	obj, ok := s.objects[key]
	if !ok {
		return storage.ObjectInfo{}, storage.ErrObjectNotFound
	}
	return storage.ObjectInfo{Key: key, Size: int64(len(obj.data)), Updated: obj.updated}, nil
}

func (s *memStore) Download(_ context.Context, _, key string, dst io.Writer) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	obj, ok := s.objects[key]
	if !ok {
		return 0, storage.ErrObjectNotFound
	}
	n, err := dst.Write(obj.data)
	return int64(n), err
}

func (s *memStore) Get(_ context.Context, _, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	obj, ok := s.objects[key]
	if !ok {
		return nil, storage.ErrObjectNotFound
	}
	return obj.data, nil
}

func (s *memStore) List(_ context.Context, _, prefix string, max int) ([]storage.ObjectInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []storage.ObjectInfo
	for key, obj := range s.objects {
		if strings.HasPrefix(key, prefix) {
			out = append(out, storage.ObjectInfo{Key: key, Size: int64(len(obj.data)), Updated: obj.updated})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	if max > 0 && len(out) > max {
		out = out[:max]
	}
	return out, nil
}

func (s *memStore) Put(_ context.Context, _, key string, data []byte, _ string, ifAbsent bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.objects[key]; exists && ifAbsent {
		return storage.ErrObjectExists
	}
	s.objects[key] = memObject{data: data, updated: time.Now()}
	return nil
}

// generateToken creates a legacy HMAC JWT token for test requests.
func generateToken(t *testing.T) string {
	t.Helper()
	signed, err := auth.SignLegacyToken(testJWTSecret, "test-user-123", "test@example.com")
	if err != nil {
		t.Fatalf("failed to generate test token: %v", err)
	}
	return signed
}

// doRequest is a helper to perform HTTP requests against the test app.
func doRequest(app *fiber.App, method, path string, body string, headers map[string]string) (*http.Response, error) {
	var bodyReader io.Reader
	if body != "" {
		bodyReader = strings.NewReader(body)
	}

	req, err := http.NewRequest(method, path, bodyReader)
	if err != nil {
		return nil, err
	}

	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	return app.Test(req, -1)
}

// doAuthRequest performs an authenticated request.
func doAuthRequest(t *testing.T, app *fiber.App, method, path, body string) (*http.Response, error) {
	t.Helper()
	token := generateToken(t)
	return doRequest(app, method, path, body, map[string]string{
		"Authorization": "Bearer " + token,
	})
}

// readBody reads and returns the response body as a string.
func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	return string(b)
}

// parseJSON parses response body into a map.
func parseJSON(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	body := readBody(t, resp)
	var result map[string]interface{}
	if err := json.Unmarshal([]byte(body), &result); err != nil {
		t.Fatalf("failed to parse JSON: %v\nbody: %s", err, body)
	}
	return result
}

// assertStatus checks the HTTP status code.
func assertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("expected status %d, got %d", expected, resp.StatusCode)
	}
}
