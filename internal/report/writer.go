// Package report hands finished site reports to the reporting
// collaborator: one serialized SiteReport per site under the output
// directory, plus a plain-text run summary. Visualization and PDF
// generation happen outside this program, reading these files.
package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/insightops/sitewatch/internal/domain"
	"github.com/insightops/sitewatch/internal/util"
)

const (
	reportFile    = "report.json"
	summaryFile   = "summary.txt"
	timestampForm = "20060102_150405"
)

// Writer serializes site reports under a base output directory.
type Writer struct {
	OutputDir string

	// Now stamps report directories; defaults to time.Now.
	// Overridable for tests.
	Now func() time.Time
}

// Write serializes every site result into
// <output>/<site>/report_<timestamp>/report.json and drops a run
// summary alongside. It returns the written report paths in site
// order.
func (w *Writer) Write(results []domain.SiteResult) ([]string, error) {
	now := time.Now
	if w.Now != nil {
		now = w.Now
	}
	stamp := now().UTC().Format(timestampForm)

	paths := make([]string, 0, len(results))
	for _, result := range results {
		dir := filepath.Join(w.OutputDir, util.PathSegment(result.Report.SiteID), "report_"+stamp)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("report: failed to create directory %s: %w", dir, err)
		}

		path := filepath.Join(dir, reportFile)
		if err := writeJSON(path, result.Report); err != nil {
			return nil, err
		}
		if err := writeSummary(filepath.Join(dir, summaryFile), result.Report); err != nil {
			return nil, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}

func writeJSON(path string, report domain.SiteReport) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("report: failed to marshal report for site %q: %w", report.SiteID, err)
	}
	data = append(data, '\n')

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("report: failed to write %s: %w", path, err)
	}
	return nil
}

func writeSummary(path string, report domain.SiteReport) error {
	var criticals, warnings int
	for _, b := range report.Breaches {
		if b.Severity == domain.SeverityCritical {
			criticals++
		} else {
			warnings++
		}
	}

	body := fmt.Sprintf(
		"site: %s (%s)\nwindow: %s ~ %s\ngenerated: %s\nservers reported: %d\nbreaches: %d critical, %d warning\nstatistical outliers: %d\npartial failures: %d\n",
		report.SiteName, report.SiteID,
		report.Window.Start.Format(time.RFC3339), report.Window.End.Format(time.RFC3339),
		report.GeneratedAt.Format(time.RFC3339),
		len(report.Summaries), criticals, warnings, len(report.Outliers), len(report.Failures),
	)

	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		return fmt.Errorf("report: failed to write %s: %w", path, err)
	}
	return nil
}
