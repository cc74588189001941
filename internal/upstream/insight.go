package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/insightops/sitewatch/internal/credentials"
	"github.com/insightops/sitewatch/internal/domain"
	"github.com/insightops/sitewatch/internal/retry"
)

// SourceInsight is the registry name of the insight-service source.
const SourceInsight = "insight"

const (
	insightBaseURL      = "https://cw.apigw.ntruss.com"
	insightQueryURI     = "/cw_fea/real/cw/api/data/query"
	insightMultiURI     = "/cw_fea/real/cw/api/data/query/multiple"
	insightProductName  = "System/Server(VPC)"
	insightDimensionKey = "vm_name"

	// insightMaxChunk bounds the window one query may cover; longer
	// windows are split into consecutive chunk requests.
	insightMaxChunk = 30 * 24 * time.Hour
)

// Compile-time check that InsightClient satisfies SeriesSource.
var _ SeriesSource = (*InsightClient)(nil)

// InsightClient retrieves metric series from the NCP Cloud Insight API.
// Every request is signed with the site's access/secret key pair; the
// cw_key scopes queries to the site's metric schema.
type InsightClient struct {
	cred     *credentials.Context
	baseURL  string
	client   *http.Client
	opts     Options
	maxChunk time.Duration

	// now is the clock used for signature timestamps. Overridable
	// for tests.
	now func() time.Time
}

// NewInsightClient creates an InsightClient for one site.
func NewInsightClient(cred *credentials.Context, opts Options) (*InsightClient, error) {
	if cred == nil {
		return nil, fmt.Errorf("insight: nil credential context")
	}
	opts = opts.withDefaults()

	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = insightBaseURL
	}
	maxChunk := opts.MaxChunk
	if maxChunk <= 0 {
		maxChunk = insightMaxChunk
	}

	return &InsightClient{
		cred:     cred,
		baseURL:  baseURL,
		client:   &http.Client{Timeout: opts.Timeout},
		opts:     opts,
		maxChunk: maxChunk,
		now:      time.Now,
	}, nil
}

// --- API request/response types ---

// insightQueryBody is the single-metric query payload.
type insightQueryBody struct {
	TimeStart   int64             `json:"timeStart"`
	TimeEnd     int64             `json:"timeEnd"`
	CWKey       string            `json:"cw_key"`
	ProductName string            `json:"productName"`
	Metric      string            `json:"metric"`
	Interval    string            `json:"interval"`
	Aggregation string            `json:"aggregation"`
	Dimensions  map[string]string `json:"dimensions"`
}

// insightMetricInfo is one entry of the multiple-metric query payload.
type insightMetricInfo struct {
	Aggregation string            `json:"aggregation"`
	Dimensions  map[string]string `json:"dimensions"`
	Interval    string            `json:"interval"`
	Metric      string            `json:"metric"`
	ProdKey     string            `json:"prodKey"`
}

// insightMultiBody is the multiple-metric query payload.
type insightMultiBody struct {
	TimeStart      int64               `json:"timeStart"`
	TimeEnd        int64               `json:"timeEnd"`
	MetricInfoList []insightMetricInfo `json:"metricInfoList"`
}

// insightMetricResult is one series of the multiple-metric response.
// Datapoints are [timestamp_ms, value] pairs; a null value marks a
// reporting gap.
type insightMetricResult struct {
	Metric string       `json:"metric"`
	DPS    [][]*float64 `json:"dps"`
}

// --- HTTP helpers ---

// statusError maps an HTTP failure status to a domain sentinel.
func statusError(status int, body []byte) error {
	detail := string(bytes.TrimSpace(body))
	if len(detail) > 200 {
		detail = detail[:200]
	}

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("%w: insight returned %d: %s", domain.ErrUnauthorized, status, detail)
	case status == http.StatusNotFound:
		return fmt.Errorf("%w: insight returned %d: %s", domain.ErrNotFound, status, detail)
	case status == http.StatusTooManyRequests:
		return fmt.Errorf("%w: insight returned %d: %s", domain.ErrRateLimited, status, detail)
	case status >= 500:
		return fmt.Errorf("%w: insight returned %d: %s", domain.ErrUnavailable, status, detail)
	default:
		return fmt.Errorf("insight: unexpected status %d: %s", status, detail)
	}
}

// doSigned issues one signed POST and decodes the JSON response into
// out. The caller wraps it in the retry loop.
func (c *InsightClient) doSigned(ctx context.Context, uri string, body any, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("insight: failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+uri, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("insight: failed to build request: %w", err)
	}

	ts := c.now().UnixMilli()
	req.Header.Set("x-ncp-apigw-timestamp", fmt.Sprintf("%d", ts))
	req.Header.Set("x-ncp-iam-access-key", c.cred.AccessKey)
	req.Header.Set("x-ncp-apigw-signature-v2", Sign(http.MethodPost, uri, ts, c.cred.AccessKey, c.cred.SecretKey))
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("insight: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return statusError(resp.StatusCode, raw)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("insight: failed to decode response: %w", err)
	}
	return nil
}

// chunks splits a window into consecutive sub-windows of at most
// maxChunk each, in chronological order.
func (c *InsightClient) chunks(w domain.TimeWindow) []domain.TimeWindow {
	if w.Duration() <= c.maxChunk {
		return []domain.TimeWindow{w}
	}

	var out []domain.TimeWindow
	for start := w.Start; start.Before(w.End); start = start.Add(c.maxChunk) {
		end := start.Add(c.maxChunk)
		if end.After(w.End) {
			end = w.End
		}
		out = append(out, domain.NewTimeWindow(start, end))
	}
	return out
}

// toDataPoints converts dps pairs into datapoints, preserving gaps.
// Pairs without a timestamp are dropped.
func toDataPoints(dps [][]*float64) []domain.DataPoint {
	points := make([]domain.DataPoint, 0, len(dps))
	for _, pair := range dps {
		if len(pair) < 2 || pair[0] == nil {
			continue
		}
		points = append(points, domain.DataPoint{
			Timestamp: time.UnixMilli(int64(*pair[0])).UTC(),
			Value:     pair[1],
		})
	}
	return points
}

// --- SeriesSource implementation ---

// FetchSeries retrieves one metric series, issuing as many chunked
// queries as the window requires and concatenating the results in
// chronological order with boundary dedupe.
func (c *InsightClient) FetchSeries(ctx context.Context, server domain.Server, def domain.MetricDefinition, w domain.TimeWindow) (*RawSeries, error) {
	if err := w.Validate(); err != nil {
		return nil, fmt.Errorf("insight: %w", err)
	}

	series := &RawSeries{MetricKey: def.Key, Unit: def.RawUnit}

	for _, chunk := range c.chunks(w) {
		body := insightQueryBody{
			TimeStart:   chunk.StartMillis(),
			TimeEnd:     chunk.EndMillis(),
			CWKey:       c.cred.CWKey,
			ProductName: insightProductName,
			Metric:      def.UpstreamID,
			Interval:    c.opts.Interval,
			Aggregation: c.opts.Aggregation,
			Dimensions:  map[string]string{insightDimensionKey: server.Name},
		}

		// The single-query endpoint answers with the pair array
		// itself; only the multiple endpoint wraps each series in a
		// {metric, dps} envelope.
		var dps [][]*float64
		err := retry.Do(ctx, c.opts.Retry, retry.IsRetryable, func() error {
			dps = nil
			return c.doSigned(ctx, insightQueryURI, body, &dps)
		})
		if err != nil {
			return nil, fmt.Errorf("failed to query %q for server %q: %w", def.Key, server.Name, err)
		}

		series.Points = mergePoints(series.Points, toDataPoints(dps))
	}

	return series, nil
}

// FetchAllSeries retrieves all given metrics for one server through the
// batched endpoint. Metrics missing from the response are reported in
// the per-metric error map as unknown; the upstream silently omits
// identifiers it does not recognize.
func (c *InsightClient) FetchAllSeries(ctx context.Context, server domain.Server, defs []domain.MetricDefinition, w domain.TimeWindow) (map[string]*RawSeries, map[string]error, error) {
	if err := w.Validate(); err != nil {
		return nil, nil, fmt.Errorf("insight: %w", err)
	}

	byUpstream := make(map[string]domain.MetricDefinition, len(defs))
	out := make(map[string]*RawSeries, len(defs))
	answered := make(map[string]bool, len(defs))
	for _, def := range defs {
		byUpstream[def.UpstreamID] = def
		out[def.Key] = &RawSeries{MetricKey: def.Key, Unit: def.RawUnit}
	}

	for _, chunk := range c.chunks(w) {
		infos := make([]insightMetricInfo, 0, len(defs))
		for _, def := range defs {
			infos = append(infos, insightMetricInfo{
				Aggregation: c.opts.Aggregation,
				Dimensions:  map[string]string{insightDimensionKey: server.Name},
				Interval:    c.opts.Interval,
				Metric:      def.UpstreamID,
				ProdKey:     c.cred.CWKey,
			})
		}
		body := insightMultiBody{
			TimeStart:      chunk.StartMillis(),
			TimeEnd:        chunk.EndMillis(),
			MetricInfoList: infos,
		}

		var results []insightMetricResult
		err := retry.Do(ctx, c.opts.Retry, retry.IsRetryable, func() error {
			results = nil
			return c.doSigned(ctx, insightMultiURI, body, &results)
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to query metrics for server %q: %w", server.Name, err)
		}

		for _, result := range results {
			def, ok := byUpstream[result.Metric]
			if !ok {
				continue
			}
			answered[def.Key] = true
			series := out[def.Key]
			series.Points = mergePoints(series.Points, toDataPoints(result.DPS))
		}
	}

	// A metric no chunk answered for is one the upstream does not
	// recognize; it silently omits unknown identifiers.
	failed := make(map[string]error)
	for _, def := range defs {
		if answered[def.Key] {
			continue
		}
		failed[def.Key] = fmt.Errorf("%w: upstream returned no series for %q", domain.ErrUnknownMetric, def.UpstreamID)
		delete(out, def.Key)
	}

	return out, failed, nil
}
