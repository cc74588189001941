package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/insightops/sitewatch/internal/credentials"
	"github.com/insightops/sitewatch/internal/domain"
	"github.com/insightops/sitewatch/internal/retry"
)

// SourceKTWatch is the registry name of the origin-platform watch source.
const SourceKTWatch = "ktwatch"

const (
	ktBaseURL       = "https://api.ucloudbiz.olleh.com/gd1"
	ktTokenURI      = "/identity/auth/tokens"
	ktServersURI    = "/server/servers"
	ktWatchURI      = "/watch/v3/metrics"
	ktWatchNS       = "gcloudserver"
	ktTokenHeader   = "X-Subject-Token"
	ktAuthHeader    = "X-Auth-Token"
	ktDomainID      = "default"
	ktTokenLifetime = 50 * time.Minute
)

// Compile-time checks for the two capabilities.
var (
	_ SeriesSource    = (*KTCloudClient)(nil)
	_ InventorySource = (*KTCloudClient)(nil)
)

// KTCloudClient talks to the origin infrastructure platform. It serves
// two roles: server inventory for sites that discover their servers,
// and a watch-metric series source for sites monitored directly on the
// platform rather than through the insight relay.
//
// Authentication is a password grant against the identity endpoint;
// the issued token is cached and reissued when it ages out.
type KTCloudClient struct {
	cred    *credentials.Context
	baseURL string
	client  *http.Client
	opts    Options

	tokenMu     sync.Mutex
	token       string
	tokenIssued time.Time
}

// NewKTCloudClient creates a KTCloudClient for one site.
func NewKTCloudClient(cred *credentials.Context, opts Options) (*KTCloudClient, error) {
	if cred == nil {
		return nil, fmt.Errorf("ktcloud: nil credential context")
	}
	if cred.KTUsername == "" || cred.KTPassword == "" {
		return nil, &domain.CredentialError{SiteID: cred.SiteID, Field: "kt", Reason: "origin platform credentials not configured"}
	}
	opts = opts.withDefaults()

	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = ktBaseURL
	}

	return &KTCloudClient{
		cred:    cred,
		baseURL: baseURL,
		client:  &http.Client{Timeout: opts.Timeout},
		opts:    opts,
	}, nil
}

// --- API request/response types ---

type ktAuthBody struct {
	Auth struct {
		Identity struct {
			Methods  []string `json:"methods"`
			Password struct {
				User struct {
					Domain struct {
						ID string `json:"id"`
					} `json:"domain"`
					Name     string `json:"name"`
					Password string `json:"password"`
				} `json:"user"`
			} `json:"password"`
		} `json:"identity"`
		Scope struct {
			Project struct {
				Domain struct {
					ID string `json:"id"`
				} `json:"domain"`
				Name string `json:"name"`
			} `json:"project"`
		} `json:"scope"`
	} `json:"auth"`
}

type ktServerList struct {
	Servers []struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"servers"`
}

// ktWatchResponse is the watch metric query response. Values are
// [timestamp_seconds, "value"] pairs with string-encoded numbers.
type ktWatchResponse struct {
	Data struct {
		Result []struct {
			Values [][2]any `json:"values"`
		} `json:"result"`
	} `json:"data"`
}

// --- Authentication ---

// authToken returns a cached token, issuing a new one when absent or
// aged out.
func (k *KTCloudClient) authToken(ctx context.Context) (string, error) {
	k.tokenMu.Lock()
	defer k.tokenMu.Unlock()

	if k.token != "" && time.Since(k.tokenIssued) < ktTokenLifetime {
		return k.token, nil
	}

	var body ktAuthBody
	body.Auth.Identity.Methods = []string{"password"}
	body.Auth.Identity.Password.User.Domain.ID = ktDomainID
	body.Auth.Identity.Password.User.Name = k.cred.KTUsername
	body.Auth.Identity.Password.User.Password = k.cred.KTPassword
	body.Auth.Scope.Project.Domain.ID = ktDomainID
	body.Auth.Scope.Project.Name = k.cred.KTUsername

	data, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("ktcloud: failed to encode auth request: %w", err)
	}

	var token string
	err = retry.Do(ctx, k.opts.Retry, retry.IsRetryable, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, k.baseURL+ktTokenURI, bytes.NewReader(data))
		if err != nil {
			return fmt.Errorf("ktcloud: failed to build auth request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := k.client.Do(req)
		if err != nil {
			return fmt.Errorf("ktcloud: auth request failed: %w", err)
		}
		defer resp.Body.Close()

		// Token issuance answers 201 Created; the token itself
		// travels in the response header, not the body.
		if resp.StatusCode != http.StatusCreated {
			raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			return ktStatusError(resp.StatusCode, raw)
		}

		token = resp.Header.Get(ktTokenHeader)
		if token == "" {
			return fmt.Errorf("ktcloud: auth response missing %s header", ktTokenHeader)
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	k.token = token
	k.tokenIssued = time.Now()
	return token, nil
}

// ktStatusError maps an HTTP failure status to a domain sentinel.
func ktStatusError(status int, body []byte) error {
	detail := string(bytes.TrimSpace(body))
	if len(detail) > 200 {
		detail = detail[:200]
	}

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("%w: ktcloud returned %d: %s", domain.ErrUnauthorized, status, detail)
	case status == http.StatusNotFound:
		return fmt.Errorf("%w: ktcloud returned %d: %s", domain.ErrNotFound, status, detail)
	case status == http.StatusTooManyRequests:
		return fmt.Errorf("%w: ktcloud returned %d: %s", domain.ErrRateLimited, status, detail)
	case status >= 500:
		return fmt.Errorf("%w: ktcloud returned %d: %s", domain.ErrUnavailable, status, detail)
	default:
		return fmt.Errorf("ktcloud: unexpected status %d: %s", status, detail)
	}
}

// doAuthed issues one token-authenticated GET and decodes the JSON
// response into out.
func (k *KTCloudClient) doAuthed(ctx context.Context, path string, out any) error {
	token, err := k.authToken(ctx)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, k.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("ktcloud: failed to build request: %w", err)
	}
	req.Header.Set(ktAuthHeader, token)

	resp, err := k.client.Do(req)
	if err != nil {
		return fmt.Errorf("ktcloud: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return ktStatusError(resp.StatusCode, raw)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("ktcloud: failed to decode response: %w", err)
	}
	return nil
}

// --- InventorySource implementation ---

// ListServers fetches the site's server inventory from the platform.
func (k *KTCloudClient) ListServers(ctx context.Context) ([]domain.Server, error) {
	var list ktServerList
	err := retry.Do(ctx, k.opts.Retry, retry.IsRetryable, func() error {
		list = ktServerList{}
		return k.doAuthed(ctx, ktServersURI, &list)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list servers: %w", err)
	}

	servers := make([]domain.Server, 0, len(list.Servers))
	for _, s := range list.Servers {
		servers = append(servers, domain.Server{ID: s.ID, Name: s.Name})
	}
	return servers, nil
}

// --- SeriesSource implementation ---

// watchStatistic maps the configured aggregation onto the watch API's
// statistic names.
func watchStatistic(aggregation string) string {
	switch aggregation {
	case "MIN":
		return "Minimum"
	case "MAX":
		return "Maximum"
	case "SUM":
		return "Sum"
	case "COUNT":
		return "SampleCount"
	default:
		return "Average"
	}
}

// watchPeriod maps the configured interval onto the watch API's period
// strings.
func watchPeriod(interval string) string {
	switch interval {
	case "Min1":
		return "1min"
	case "Min30":
		return "30min"
	case "Hour2":
		return "120min"
	case "Day1":
		return "1440min"
	default:
		return "5min"
	}
}

// FetchSeries queries the watch API for one server metric over the
// window. The watch endpoint takes a trailing term rather than
// explicit bounds, so the term is derived from the window length and
// out-of-window points are dropped after decoding.
func (k *KTCloudClient) FetchSeries(ctx context.Context, server domain.Server, def domain.MetricDefinition, w domain.TimeWindow) (*RawSeries, error) {
	if err := w.Validate(); err != nil {
		return nil, fmt.Errorf("ktcloud: %w", err)
	}

	term := int(w.Duration().Minutes())
	if term < 1 {
		term = 1
	}

	params := url.Values{}
	params.Set("namespace", ktWatchNS)
	params.Set("metricName", def.UpstreamID)
	params.Set("statisticType", watchStatistic(k.opts.Aggregation))
	params.Set("period", watchPeriod(k.opts.Interval))
	params.Set("term", strconv.Itoa(term)+"min")
	params.Set("dimension.name", "id")
	params.Set("dimension.value", server.ID)

	var resp ktWatchResponse
	err := retry.Do(ctx, k.opts.Retry, retry.IsRetryable, func() error {
		resp = ktWatchResponse{}
		return k.doAuthed(ctx, ktWatchURI+"?"+params.Encode(), &resp)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query %q for server %q: %w", def.Key, server.ID, err)
	}

	if len(resp.Data.Result) == 0 {
		return nil, fmt.Errorf("%w: watch has no series for metric %q", domain.ErrUnknownMetric, def.UpstreamID)
	}

	series := &RawSeries{MetricKey: def.Key, Unit: def.RawUnit}
	for _, pair := range resp.Data.Result[0].Values {
		point, ok := watchPoint(pair)
		if !ok {
			continue
		}
		if point.Timestamp.Before(w.Start) || !point.Timestamp.Before(w.End) {
			continue
		}
		series.Points = append(series.Points, point)
	}
	return series, nil
}

// FetchAllSeries has no batched watch endpoint to lean on, so it
// issues one query per metric.
func (k *KTCloudClient) FetchAllSeries(ctx context.Context, server domain.Server, defs []domain.MetricDefinition, w domain.TimeWindow) (map[string]*RawSeries, map[string]error, error) {
	out := make(map[string]*RawSeries, len(defs))
	failed := make(map[string]error)

	for _, def := range defs {
		series, err := k.FetchSeries(ctx, server, def, w)
		if err != nil {
			failed[def.Key] = err
			continue
		}
		out[def.Key] = series
	}
	return out, failed, nil
}

// watchPoint decodes one [timestamp, "value"] pair. Timestamps arrive
// as epoch seconds; values are string-encoded numbers. Pairs that do
// not parse are skipped.
func watchPoint(pair [2]any) (domain.DataPoint, bool) {
	ts, ok := pair[0].(float64)
	if !ok {
		return domain.DataPoint{}, false
	}

	switch v := pair[1].(type) {
	case nil:
		return domain.DataPoint{Timestamp: time.Unix(int64(ts), 0).UTC()}, true
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return domain.DataPoint{}, false
		}
		return domain.DataPoint{Timestamp: time.Unix(int64(ts), 0).UTC(), Value: &f}, true
	case float64:
		f := v
		return domain.DataPoint{Timestamp: time.Unix(int64(ts), 0).UTC(), Value: &f}, true
	default:
		return domain.DataPoint{}, false
	}
}
