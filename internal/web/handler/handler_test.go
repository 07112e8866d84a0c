package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/freekieb7/formlink/internal/config"
	"github.com/freekieb7/formlink/internal/events"
	"github.com/freekieb7/formlink/internal/grant"
	"github.com/freekieb7/formlink/internal/health"
	"github.com/freekieb7/formlink/internal/license"
	"github.com/freekieb7/formlink/internal/monitor"
	"github.com/freekieb7/formlink/internal/reauth"
	"github.com/freekieb7/formlink/internal/refresh"
	"github.com/freekieb7/formlink/internal/session"
	"github.com/freekieb7/formlink/internal/web/middleware"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

const (
	testProvider   = "google"
	testCronSecret = "cron-secret"
	driveFileScope = "https://www.googleapis.com/auth/drive.file"
)

type fakeRunner struct {
	mu     sync.Mutex
	calls  int
	delay  time.Duration
	result refresh.Result
	err    error
}

func (f *fakeRunner) RunBatch(ctx context.Context) (refresh.Result, error) {
	time.Sleep(f.delay)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.result, f.err
}

func (f *fakeRunner) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeLocker struct {
	mu   sync.Mutex
	held map[string]bool
	err  error
}

func (l *fakeLocker) SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return false, l.err
	}
	if l.held[key] {
		return false, nil
	}
	l.held[key] = true
	return true, nil
}

func (l *fakeLocker) Delete(ctx context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, key)
	return nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(ctx context.Context, event events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) Types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var types []string
	for _, e := range p.events {
		types = append(types, e.Type)
	}
	return types
}

type testEnv struct {
	grants      *grant.MemoryStore
	sessions    *session.MemoryStore
	licenses    *license.MemoryStore
	registry    *monitor.Registry
	reports     *refresh.MemoryReportStore
	runner      *fakeRunner
	locker      *fakeLocker
	publisher   *recordingPublisher
	flow        *reauth.Flow
	tokenServer *httptest.Server
	tokenBody   string
	handler     http.Handler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	env := &testEnv{
		grants:    grant.NewMemoryStore(),
		sessions:  session.NewMemoryStore(),
		licenses:  license.NewMemoryStore(),
		registry:  monitor.NewRegistry(),
		reports:   &refresh.MemoryReportStore{},
		runner:    &fakeRunner{},
		locker:    &fakeLocker{held: map[string]bool{}},
		publisher: &recordingPublisher{},
		tokenBody: `{"access_token":"fresh-access","token_type":"Bearer","expires_in":3600,"refresh_token":"fresh-refresh"}`,
	}
	t.Cleanup(env.registry.CloseAll)

	env.tokenServer = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil || r.PostForm.Get("code") != "good-code" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			io.WriteString(w, `{"error":"invalid_grant"}`)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, env.tokenBody)
	}))
	t.Cleanup(env.tokenServer.Close)

	catalog, err := config.LoadCatalog("")
	require.NoError(t, err)
	codec, err := reauth.NewStateCodec([]byte("state-key"), 30*time.Minute)
	require.NoError(t, err)
	env.flow = reauth.NewFlow(&oauth2.Config{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		RedirectURL:  "https://forms.example.com/oauth/callback",
		Endpoint: oauth2.Endpoint{
			AuthURL:   "https://accounts.example.com/o/oauth2/auth",
			TokenURL:  env.tokenServer.URL + "/token",
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}, catalog, codec, "/dashboard", logger)

	checker := health.NewChecker(
		health.PingFunc(func(ctx context.Context) error { return nil }),
		health.PingFunc(func(ctx context.Context) error { return nil }),
		env.reports, logger)

	rateLimiter := middleware.NewInMemoryRateLimiter()
	t.Cleanup(func() { rateLimiter.Close() })

	router := &Router{
		Logger:   logger,
		Sessions: env.sessions,
		Health:   &HealthHandler{HealthChecker: &checker},
		Cron: &CronHandler{
			Logger:  logger,
			Runner:  env.runner,
			Reports: env.reports,
			Locker:  env.locker,
			LockTTL: time.Minute,
			Secret:  func() string { return testCronSecret },
		},
		Grants: &GrantHandler{
			Logger:    logger,
			Grants:    env.grants,
			Flow:      env.flow,
			Catalog:   catalog,
			Provider:  testProvider,
			Lookahead: 15 * time.Minute,
			Registry:  env.registry,
			Sessions:  env.sessions,
			Publisher: env.publisher,
		},
		Callback: &CallbackHandler{
			Logger:          logger,
			Flow:            env.flow,
			Grants:          env.grants,
			Provider:        testProvider,
			HTTPClient:      env.tokenServer.Client(),
			DefaultLifetime: 30 * time.Minute,
		},
		Licenses: &LicenseHandler{
			Logger:      logger,
			Verifier:    license.NewVerifier(env.licenses),
			RateLimiter: rateLimiter,
			Limit:       middleware.RateLimit{Requests: 3, Window: time.Minute, KeyFunc: middleware.KeyByIP, Scope: "license"},
		},
		Monitor: &MonitorHandler{
			Logger:     logger,
			Registry:   env.registry,
			Grants:     env.grants,
			Redirector: env.flow,
			Provider:   testProvider,
			Capability: "sheets.write",
			Options:    []monitor.Option{monitor.WithLogger(logger), monitor.WithPollInterval(time.Hour)},
			Heartbeat:  time.Hour,
		},
	}
	env.handler = router.Handler()
	return env
}

// signIn stores a session for subjectID and returns its cookie.
func (e *testEnv) signIn(t *testing.T, subjectID string) *http.Cookie {
	t.Helper()
	sess, err := session.NewSession(subjectID)
	require.NoError(t, err)
	_, err = e.sessions.SaveSession(context.Background(), sess)
	require.NoError(t, err)
	return &http.Cookie{Name: session.CookieName, Value: sess.Token}
}

func (e *testEnv) saveGrant(t *testing.T, subjectID string, expiresIn time.Duration, scope ...string) grant.Grant {
	t.Helper()
	access, refreshToken := "access-"+subjectID, "refresh-"+subjectID
	expiresAt := time.Now().Add(expiresIn)
	g, err := e.grants.Save(context.Background(), grant.Grant{
		SubjectID:    subjectID,
		Provider:     testProvider,
		AccessToken:  &access,
		RefreshToken: &refreshToken,
		Scope:        scope,
		ExpiresAt:    &expiresAt,
	})
	require.NoError(t, err)
	return g
}

func (e *testEnv) do(method, target string, body string, cookie *http.Cookie, header ...string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if cookie != nil {
		req.AddCookie(cookie)
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, req)
	return rr
}

var errBoom = errors.New("boom")

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
