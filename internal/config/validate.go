package config

import (
	"fmt"

	"github.com/insightops/sitewatch/internal/domain"
	"github.com/insightops/sitewatch/internal/util"
)

var validIntervals = map[string]bool{
	"Min1": true, "Min5": true, "Min30": true, "Hour2": true, "Day1": true,
}

var validAggregations = map[string]bool{
	"AVG": true, "MIN": true, "MAX": true, "SUM": true, "COUNT": true,
}

// Validate checks registry consistency before the run starts. Any
// failure here means the registry itself is untrustworthy, so the run
// does not proceed to network calls.
func (c *Config) Validate() error {
	if len(c.Sites) == 0 {
		return &domain.ConfigError{File: sitesFile, Detail: "no sites configured"}
	}
	if len(c.Metrics) == 0 {
		return &domain.ConfigError{File: metricsFile, Detail: "no metrics configured"}
	}

	seenSites := make(map[string]bool, len(c.Sites))
	for i, s := range c.Sites {
		if s.ID == "" {
			return &domain.ConfigError{File: sitesFile, Detail: fmt.Sprintf("site entry %d has no id", i)}
		}
		// Site ids become report directory names.
		if err := util.ValidateID(s.ID); err != nil {
			return &domain.ConfigError{File: sitesFile, Detail: fmt.Sprintf("site id %q: %v", s.ID, err)}
		}
		key := util.NormalizeKey(s.ID)
		if seenSites[key] {
			return &domain.ConfigError{File: sitesFile, Detail: fmt.Sprintf("duplicate site id %q", s.ID)}
		}
		seenSites[key] = true

		if len(s.Servers) == 0 && !s.Discover {
			return &domain.ConfigError{File: sitesFile, Detail: fmt.Sprintf("site %q has no servers and discovery disabled", s.ID)}
		}
		for j, srv := range s.Servers {
			if srv.ID == "" || srv.Name == "" {
				return &domain.ConfigError{File: sitesFile, Detail: fmt.Sprintf("site %q server entry %d needs both id and name", s.ID, j)}
			}
		}
	}

	seenMetrics := make(map[string]bool, len(c.Metrics))
	for _, m := range c.Metrics {
		def, err := m.Definition()
		if err != nil {
			return &domain.ConfigError{File: metricsFile, Detail: err.Error()}
		}
		key := util.NormalizeKey(def.Key)
		if seenMetrics[key] {
			return &domain.ConfigError{File: metricsFile, Detail: fmt.Sprintf("duplicate metric key %q", def.Key)}
		}
		seenMetrics[key] = true

		// Fail unsupported conversions at load, not mid-run.
		if _, ok := domain.Conversion(def.RawUnit, def.Unit); !ok {
			return &domain.ConfigError{
				File:   metricsFile,
				Detail: fmt.Sprintf("metric %q: no conversion from %q to %q", def.Key, def.RawUnit, def.Unit),
			}
		}
	}

	if !validIntervals[c.Settings.Interval] {
		return &domain.ConfigError{File: settingsFile, Detail: fmt.Sprintf("unknown interval %q", c.Settings.Interval)}
	}
	if !validAggregations[c.Settings.Aggregation] {
		return &domain.ConfigError{File: settingsFile, Detail: fmt.Sprintf("unknown aggregation %q", c.Settings.Aggregation)}
	}

	return nil
}

// Definition converts a metric entry into its domain form, applying the
// raw-unit default (raw equals canonical when unset).
func (m MetricConfig) Definition() (domain.MetricDefinition, error) {
	def := domain.MetricDefinition{
		Key:        m.Key,
		Name:       m.Name,
		UpstreamID: m.Upstream,
		Unit:       domain.Unit(m.Unit),
		RawUnit:    domain.Unit(m.RawUnit),
		Kind:       domain.AggregationKind(m.Kind),
	}
	if def.Name == "" {
		def.Name = def.Key
	}
	if def.RawUnit == "" {
		def.RawUnit = def.Unit
	}
	if def.Kind == "" {
		def.Kind = domain.KindGauge
	}
	if m.Threshold != nil {
		def.Threshold = &domain.Threshold{
			Warning:   m.Threshold.Warning,
			Critical:  m.Threshold.Critical,
			Direction: domain.ThresholdDirection(m.Threshold.Direction),
		}
		if def.Threshold.Direction == "" {
			def.Threshold.Direction = domain.DirectionAbove
		}
	}
	if err := def.Validate(); err != nil {
		return domain.MetricDefinition{}, err
	}
	return def, nil
}

// MetricDefinitions returns the validated metric registry in
// configuration order.
func (c *Config) MetricDefinitions() ([]domain.MetricDefinition, error) {
	defs := make([]domain.MetricDefinition, 0, len(c.Metrics))
	for _, m := range c.Metrics {
		def, err := m.Definition()
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	return defs, nil
}

// Site converts a site entry into its domain form.
func (s SiteConfig) Site() domain.Site {
	servers := make([]domain.Server, 0, len(s.Servers))
	for _, srv := range s.Servers {
		servers = append(servers, domain.Server{ID: srv.ID, Name: srv.Name})
	}
	name := s.Name
	if name == "" {
		name = s.ID
	}
	return domain.Site{ID: s.ID, Name: name, Servers: servers, Discover: s.Discover}
}

// FindSite returns the site entry with the given id, matched
// case-insensitively.
func (c *Config) FindSite(id string) (SiteConfig, bool) {
	key := util.NormalizeKey(id)
	for _, s := range c.Sites {
		if util.NormalizeKey(s.ID) == key {
			return s, true
		}
	}
	return SiteConfig{}, false
}
