package e2e

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"github.com/bookvision/visualization/internal/client"
	"github.com/bookvision/visualization/internal/config"
	"github.com/bookvision/visualization/internal/handler"
	"github.com/bookvision/visualization/internal/logger"
	"github.com/bookvision/visualization/internal/middleware"
	"github.com/bookvision/visualization/internal/queue"
	"github.com/bookvision/visualization/internal/repository"
	"github.com/bookvision/visualization/internal/service"
	ws "github.com/bookvision/visualization/internal/websocket"
	"github.com/bookvision/visualization/internal/worker"
)

const testJWTSecret = "test-secret-for-e2e"

// testApp holds all components needed for testing
type testApp struct {
	app     *fiber.App
	auth    *middleware.AuthMiddleware
	storage *client.LocalStorage
	redis   *miniredis.Miniredis
}

// setupApp wires the server like main.go with every external collaborator
// unconfigured: template prompts, placeholder images and local storage.
func setupApp(t *testing.T) *testApp {
	t.Helper()
	log := logger.Nop()

	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { redisClient.Close() })

	storage, err := client.NewLocalStorage(t.TempDir(), "http://localhost/images")
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	hub := ws.NewHub(log)
	go hub.Run(ctx)

	images := &client.MockImageGenerator{}
	ingestor := service.NewImageIngestor(storage, images, log)
	durations := service.NewDurationTracker(redisClient, 30*time.Second, log)

	vizService := service.NewVisualizationService(service.Dependencies{
		Repo:    repository.NewRedisJobRepository(redisClient, time.Hour),
		Queue:   queue.New(durations),
		Catalog: client.NewCatalogClient(&config.CatalogConfig{}, redisClient, log),
		Events:  service.NewEventPublisher(log, hub),
		Images:  ingestor,
		Log:     log,
	})

	orchestrator := worker.NewOrchestrator(vizService, service.NewPromptService(log), images, ingestor, durations, worker.Config{
		Workers:      2,
		PollInterval: 10 * time.Millisecond,
	}, log)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = orchestrator.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	authMiddleware := middleware.NewAuthMiddleware(testJWTSecret, false)
	rateLimiter := middleware.NewRateLimiter(redisClient, log)
	vizHandler := handler.NewVisualizationHandler(vizService, validator.New())
	healthHandler := handler.NewHealthHandler(vizService, map[string]bool{"r2": false})

	app := fiber.New()
	app.Get("/health", healthHandler.Health)

	api := app.Group("/api", authMiddleware.Authenticate())
	viz := api.Group("/visualizations")
	viz.Post("/", rateLimiter.CreateLimit(10000), vizHandler.Create)
	viz.Get("/:jobId", vizHandler.Get)
	viz.Get("/:jobId/position", vizHandler.Position)
	viz.Get("/:jobId/events", vizHandler.Events)
	viz.Post("/:jobId/cancel", vizHandler.Cancel)
	viz.Post("/:jobId/images/:imageId/select", vizHandler.SelectImage)
	viz.Delete("/:jobId/images/:imageId", vizHandler.DeleteImage)
	api.Get("/me/visualizations", vizHandler.ListMine)

	return &testApp{app: app, auth: authMiddleware, storage: storage, redis: mr}
}

// generateToken creates an HMAC JWT for userID.
func (ta *testApp) generateToken(t *testing.T, userID string) string {
	t.Helper()
	token, err := ta.auth.GenerateToken(userID, userID+"@example.com")
	if err != nil {
		t.Fatalf("failed to generate test token: %v", err)
	}
	return token
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

// doAuthRequest performs a request as userID.
func (ta *testApp) doAuthRequest(t *testing.T, userID, method, path, body string) *http.Response {
	t.Helper()
	resp, err := doRequest(ta.app, method, path, body, map[string]string{
		"Authorization": "Bearer " + ta.generateToken(t, userID),
	})
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, path, err)
	}
	return resp
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

// parseInto decodes the response body into v.
func parseInto(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	body := readBody(t, resp)
	if err := json.Unmarshal([]byte(body), v); err != nil {
		t.Fatalf("failed to parse JSON: %v\nbody: %s", err, body)
	}
}

func assertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("expected status %d, got %d", expected, resp.StatusCode)
	}
}
