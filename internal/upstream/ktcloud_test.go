package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/insightops/sitewatch/internal/credentials"
	"github.com/insightops/sitewatch/internal/domain"

	"github.com/google/go-cmp/cmp"
)

// --- Test helpers ---

func ktTestCred() *credentials.Context {
	return &credentials.Context{
		SiteID:     "acme-seoul",
		KTUsername: "admin",
		KTPassword: "hunter2",
		AccessKey:  "AK",
		SecretKey:  "SK",
		CWKey:      "CW",
	}
}

// ktTestHandler serves the identity endpoint plus one extra handler.
type ktTestHandler struct {
	mux        *http.ServeMux
	authCalls  atomic.Int32
	issueToken func(w http.ResponseWriter, r *http.Request)
}

func newKTTestServer(t *testing.T) (*httptest.Server, *ktTestHandler) {
	t.Helper()
	h := &ktTestHandler{mux: http.NewServeMux()}
	h.mux.HandleFunc("POST /identity/auth/tokens", func(w http.ResponseWriter, r *http.Request) {
		h.authCalls.Add(1)
		if h.issueToken != nil {
			h.issueToken(w, r)
			return
		}
		w.Header().Set("X-Subject-Token", "tok-123")
		w.WriteHeader(http.StatusCreated)
	})
	server := httptest.NewServer(h.mux)
	t.Cleanup(server.Close)
	return server, h
}

func newTestKTClient(t *testing.T, serverURL string) *KTCloudClient {
	t.Helper()
	c, err := NewKTCloudClient(ktTestCred(), Options{BaseURL: serverURL, Retry: fastRetry()})
	if err != nil {
		t.Fatalf("NewKTCloudClient() error = %v", err)
	}
	return c
}

func watchValues(pairs ...[2]any) map[string]any {
	return map[string]any{
		"data": map[string]any{
			"result": []map[string]any{{"values": pairs}},
		},
	}
}

// --- Tests ---

func TestKTCloud_RequiresPlatformCredentials(t *testing.T) {
	cred := ktTestCred()
	cred.KTPassword = ""

	_, err := NewKTCloudClient(cred, Options{})
	var credErr *domain.CredentialError
	if !errors.As(err, &credErr) {
		t.Fatalf("NewKTCloudClient() error = %v, want CredentialError", err)
	}
}

func TestKTCloud_AuthSendsPasswordGrant(t *testing.T) {
	server, h := newKTTestServer(t)

	var gotAuth ktAuthBody
	h.issueToken = func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotAuth)
		w.Header().Set("X-Subject-Token", "tok-123")
		w.WriteHeader(http.StatusCreated)
	}
	h.mux.HandleFunc("GET /server/servers", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"servers": []any{}})
	})

	c := newTestKTClient(t, server.URL)
	if _, err := c.ListServers(context.Background()); err != nil {
		t.Fatalf("ListServers() error = %v", err)
	}

	if got := gotAuth.Auth.Identity.Methods; len(got) != 1 || got[0] != "password" {
		t.Errorf("auth methods = %v, want [password]", got)
	}
	if got := gotAuth.Auth.Identity.Password.User.Name; got != "admin" {
		t.Errorf("user name = %q, want admin", got)
	}
	if got := gotAuth.Auth.Identity.Password.User.Password; got != "hunter2" {
		t.Errorf("password = %q, want hunter2", got)
	}
	if got := gotAuth.Auth.Scope.Project.Name; got != "admin" {
		t.Errorf("project scope = %q, want admin", got)
	}
}

func TestKTCloud_TokenIsCachedAcrossRequests(t *testing.T) {
	server, h := newKTTestServer(t)
	h.mux.HandleFunc("GET /server/servers", func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("X-Auth-Token"); got != "tok-123" {
			t.Errorf("auth header = %q, want tok-123", got)
		}
		json.NewEncoder(w).Encode(map[string]any{"servers": []any{}})
	})

	c := newTestKTClient(t, server.URL)
	for i := 0; i < 3; i++ {
		if _, err := c.ListServers(context.Background()); err != nil {
			t.Fatalf("ListServers() call %d error = %v", i, err)
		}
	}

	if got := h.authCalls.Load(); got != 1 {
		t.Errorf("identity endpoint saw %d calls, want 1", got)
	}
}

func TestKTCloud_AuthMissingTokenHeaderFails(t *testing.T) {
	server, h := newKTTestServer(t)
	h.issueToken = func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated) // no token header
	}

	c := newTestKTClient(t, server.URL)
	if _, err := c.ListServers(context.Background()); err == nil {
		t.Fatal("ListServers() expected error for missing token header")
	}
}

func TestKTCloud_AuthRejectionMapsToUnauthorized(t *testing.T) {
	server, h := newKTTestServer(t)
	h.issueToken = func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}

	c := newTestKTClient(t, server.URL)
	_, err := c.ListServers(context.Background())
	if !errors.Is(err, domain.ErrUnauthorized) {
		t.Errorf("ListServers() error = %v, want ErrUnauthorized", err)
	}
	if got := h.authCalls.Load(); got != 1 {
		t.Errorf("identity endpoint saw %d calls, want 1 (no retry)", got)
	}
}

func TestKTCloud_ListServers(t *testing.T) {
	server, h := newKTTestServer(t)
	h.mux.HandleFunc("GET /server/servers", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"servers": []map[string]string{
				{"id": "vm-1", "name": "web-01"},
				{"id": "vm-2", "name": "db-01"},
			},
		})
	})

	c := newTestKTClient(t, server.URL)
	got, err := c.ListServers(context.Background())
	if err != nil {
		t.Fatalf("ListServers() error = %v", err)
	}

	want := []domain.Server{
		{ID: "vm-1", Name: "web-01"},
		{ID: "vm-2", Name: "db-01"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ListServers() mismatch (-want +got):\n%s", diff)
	}
}

func TestKTCloud_FetchSeriesDecodesWatchPairs(t *testing.T) {
	w := domain.TimeWindow{
		Start: time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 8, 2, 0, 0, 0, 0, time.UTC),
	}
	inWindow := w.Start.Add(time.Hour).Unix()
	beforeWindow := w.Start.Add(-time.Hour).Unix()

	server, h := newKTTestServer(t)
	var gotQuery map[string]string
	h.mux.HandleFunc("GET /watch/v3/metrics", func(rw http.ResponseWriter, r *http.Request) {
		gotQuery = map[string]string{}
		for key := range r.URL.Query() {
			gotQuery[key] = r.URL.Query().Get(key)
		}
		json.NewEncoder(rw).Encode(watchValues(
			[2]any{float64(inWindow), "42.5"},
			[2]any{float64(inWindow + 300), nil},
			[2]any{float64(inWindow + 600), "not-a-number"},
			[2]any{float64(beforeWindow), "99"},
		))
	})

	c := newTestKTClient(t, server.URL)
	got, err := c.FetchSeries(context.Background(), domain.Server{ID: "vm-1", Name: "web-01"}, cpuDef(), w)
	if err != nil {
		t.Fatalf("FetchSeries() error = %v", err)
	}

	wantQuery := map[string]string{
		"namespace":       "gcloudserver",
		"metricName":      "avg_cpu_used_rto",
		"statisticType":   "Average",
		"period":          "5min",
		"term":            "1440min",
		"dimension.name":  "id",
		"dimension.value": "vm-1",
	}
	if diff := cmp.Diff(wantQuery, gotQuery); diff != "" {
		t.Errorf("query mismatch (-want +got):\n%s", diff)
	}

	// The string value parses, the null survives as a gap, and both
	// the unparsable and out-of-window pairs are dropped.
	want := []domain.DataPoint{
		{Timestamp: time.Unix(inWindow, 0).UTC(), Value: fptr(42.5)},
		{Timestamp: time.Unix(inWindow+300, 0).UTC()},
	}
	if diff := cmp.Diff(want, got.Points); diff != "" {
		t.Errorf("points mismatch (-want +got):\n%s", diff)
	}
}

func TestKTCloud_FetchSeriesEmptyResultIsUnknownMetric(t *testing.T) {
	server, h := newKTTestServer(t)
	h.mux.HandleFunc("GET /watch/v3/metrics", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"data": map[string]any{"result": []any{}}})
	})

	c := newTestKTClient(t, server.URL)
	_, err := c.FetchSeries(context.Background(), domain.Server{ID: "vm-1"}, cpuDef(), dayWindow())
	if !errors.Is(err, domain.ErrUnknownMetric) {
		t.Errorf("FetchSeries() error = %v, want ErrUnknownMetric", err)
	}
}

func TestKTCloud_FetchAllSeriesIsolatesFailures(t *testing.T) {
	server, h := newKTTestServer(t)
	h.mux.HandleFunc("GET /watch/v3/metrics", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("metricName") == "mem_usert" {
			json.NewEncoder(w).Encode(map[string]any{"data": map[string]any{"result": []any{}}})
			return
		}
		ts := time.Date(2026, 8, 1, 1, 0, 0, 0, time.UTC).Unix()
		json.NewEncoder(w).Encode(watchValues([2]any{float64(ts), "7"}))
	})

	c := newTestKTClient(t, server.URL)
	out, failed, err := c.FetchAllSeries(context.Background(), domain.Server{ID: "vm-1"},
		[]domain.MetricDefinition{cpuDef(), memDef()}, dayWindow())
	if err != nil {
		t.Fatalf("FetchAllSeries() error = %v", err)
	}

	if _, ok := out["cpu_usage"]; !ok {
		t.Error("cpu_usage missing from result")
	}
	if !errors.Is(failed["mem_usage"], domain.ErrUnknownMetric) {
		t.Errorf("failed[mem_usage] = %v, want ErrUnknownMetric", failed["mem_usage"])
	}
}

func TestWatchStatisticAndPeriodMapping(t *testing.T) {
	stats := map[string]string{
		"AVG": "Average", "MIN": "Minimum", "MAX": "Maximum",
		"SUM": "Sum", "COUNT": "SampleCount", "": "Average",
	}
	for in, want := range stats {
		if got := watchStatistic(in); got != want {
			t.Errorf("watchStatistic(%q) = %q, want %q", in, got, want)
		}
	}

	periods := map[string]string{
		"Min1": "1min", "Min5": "5min", "Min30": "30min",
		"Hour2": "120min", "Day1": "1440min", "": "5min",
	}
	for in, want := range periods {
		if got := watchPeriod(in); got != want {
			t.Errorf("watchPeriod(%q) = %q, want %q", in, got, want)
		}
	}
}
