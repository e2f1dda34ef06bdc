package e2e

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/netip"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/Oldsnak/video-downloader-api/internal/engine"
	"github.com/Oldsnak/video-downloader-api/internal/events"
	"github.com/Oldsnak/video-downloader-api/internal/logging"
	"github.com/Oldsnak/video-downloader-api/internal/model"
	"github.com/Oldsnak/video-downloader-api/internal/ratelimit"
	"github.com/Oldsnak/video-downloader-api/internal/security"
	"github.com/Oldsnak/video-downloader-api/internal/server"
	"github.com/Oldsnak/video-downloader-api/internal/service"
	"github.com/Oldsnak/video-downloader-api/internal/storage"
	"github.com/Oldsnak/video-downloader-api/internal/store"
)

const (
	testAPIKey = "test-api-key-for-e2e"
	apiPrefix  = "/api/v1"
)

type fakeResolver map[string]string

func (f fakeResolver) LookupNetIP(_ context.Context, _, host string) ([]netip.Addr, error) {
	ip, ok := f[host]
	if !ok {
		return nil, errors.New("no such host")
	}
	return []netip.Addr{netip.MustParseAddr(ip)}, nil
}

type fakeEngine struct{}

func (fakeEngine) ExtractInfo(context.Context, string) (engine.Info, error) {
	return engine.Info{
		"title":    "E2E clip",
		"duration": 61.0,
		"formats": []any{
			map[string]any{"format_id": "18", "height": 360, "vcodec": "avc1", "acodec": "mp4a", "ext": "mp4", "filesize": 1048576},
			map[string]any{"format_id": "22", "height": 720, "vcodec": "avc1", "acodec": "mp4a", "ext": "mp4"},
			map[string]any{"format_id": "sb0", "vcodec": "none", "acodec": "none", "ext": "mhtml", "format_note": "storyboard"},
		},
	}, nil
}

func (fakeEngine) ListFormats(info engine.Info) []map[string]any { return info.Formats() }

func (fakeEngine) Download(context.Context, string, string, string, engine.ProgressFunc) (string, error) {
	return "", errors.New("not used")
}

func (fakeEngine) Available(context.Context) error { return nil }

type nopDispatcher struct{}

func (nopDispatcher) Dispatch(context.Context, string) error { return nil }
func (nopDispatcher) Cancel(context.Context, string) error   { return nil }

// testApp holds all components needed for testing
type testApp struct {
	app   *fiber.App
	store store.Store
	bus   *events.Bus
	files *storage.Local
}

// setupApp creates a Fiber app identical to the served one, backed by a
// temporary SQLite store and a fake engine.
func setupApp(t *testing.T) *testApp {
	return setupAppWithLimit(t, 10000)
}

func setupAppWithLimit(t *testing.T, budget int) *testApp {
	t.Helper()

	logger := logging.Discard()
	s, err := store.OpenSQLite(filepath.Join(t.TempDir(), "jobs.db"), logger)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	bus := events.NewBus(16, logger)
	files := storage.NewLocal(t.TempDir(), apiPrefix)
	guard := security.NewGuard(fakeResolver{
		"youtube.com": "142.250.74.14",
		"youtu.be":    "142.250.74.14",
		"tiktok.com":  "127.0.0.1",
	})

	svc := service.NewDownloadService(s, fakeEngine{}, guard, files, nopDispatcher{}, bus, service.Options{
		AllowedDomains: []string{"youtube.com", "youtu.be", "tiktok.com"},
		APIPrefix:      apiPrefix,
		StreamSecret:   testAPIKey,
		StreamTokenTTL: time.Minute,
	}, logger)

	app := server.New(server.Options{
		APIPrefix: apiPrefix,
		APIKey:    testAPIKey,
	}, server.Deps{
		Service:  svc,
		Bus:      bus,
		Governor: ratelimit.NewWindow(budget, time.Minute),
		Logger:   logger,
	})

	return &testApp{app: app, store: s, bus: bus, files: files}
}

// createJob stores a queued job directly.
func (ta *testApp) createJob(t *testing.T) *model.Job {
	t.Helper()
	job, err := ta.store.Create(context.Background(), model.JobSpec{
		SourceURL: "https://youtube.com/watch?v=abc",
		Platform:  model.PlatformYouTube,
		FormatID:  "18",
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return job
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
	return doRequest(app, method, path, body, map[string]string{
		"X-API-KEY": testAPIKey,
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

// errorCode returns error.code from an error envelope.
func errorCode(body map[string]interface{}) string {
	e, _ := body["error"].(map[string]interface{})
	code, _ := e["code"].(string)
	return code
}
