// Package zap adapts a ZAP-style DAST daemon's JSON API to the ScanEngine
// port. The daemon is an external collaborator: this package only drives its
// spider and active-scan components and collects alerts, it does not manage
// the daemon's process lifecycle.
package zap

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/scanwarden/scanwarden/internal/domain/scanning"
	"github.com/scanwarden/scanwarden/pkg/common/logger"
)

// Config locates and authenticates against the scan daemon.
type Config struct {
	// BaseURL is the daemon's API root, e.g. http://zap:8080.
	BaseURL string

	// APIKey is sent with every request.
	APIKey string

	// SpiderMaxChildren bounds child nodes per crawled page; zero uses the
	// daemon default.
	SpiderMaxChildren int

	// HTTPTimeout bounds a single API call.
	HTTPTimeout time.Duration
}

// Engine drives scans over the daemon's HTTP JSON API.
type Engine struct {
	cfg    Config
	client *http.Client

	logger *logger.Logger
	tracer trace.Tracer
}

var _ scanning.ScanEngine = (*Engine)(nil)

// NewEngine creates a scan engine client for one daemon instance.
func NewEngine(cfg Config, logger *logger.Logger, tracer trace.Tracer) *Engine {
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 30 * time.Second
	}
	return &Engine{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.HTTPTimeout},
		logger: logger.With("component", "zap_engine"),
		tracer: tracer,
	}
}

// StartScan verifies the daemon is reachable, kicks off the crawl phase, and
// returns a handle tracking the run. The active-scan phase, when the policy
// enables it, starts automatically once the crawl finishes.
func (e *Engine) StartScan(ctx context.Context, target string, policy scanning.ScanPolicy, timeout time.Duration) (scanning.EngineHandle, error) {
	ctx, span := e.tracer.Start(ctx, "zap_engine.start_scan",
		trace.WithAttributes(
			attribute.String("target", target),
			attribute.String("scan_type", string(policy.ScanType)),
			attribute.Bool("active_scan", policy.ActiveScan),
		),
	)
	defer span.End()

	var version struct {
		Version string `json:"version"`
	}
	if err := e.call(ctx, "core/view/version/", nil, &version); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "daemon unreachable")
		return nil, fmt.Errorf("checking daemon version: %v: %w", err, scanning.ErrEngineUnavailable)
	}
	e.logger.Debug(ctx, "Scan daemon reachable", "version", version.Version)

	if policy.SpiderMaxDepth > 0 {
		params := url.Values{"Integer": {strconv.Itoa(policy.SpiderMaxDepth)}}
		if err := e.call(ctx, "spider/action/setOptionMaxDepth/", params, nil); err != nil {
			return nil, fmt.Errorf("configuring spider depth: %w", err)
		}
	}
	if e.cfg.SpiderMaxChildren > 0 {
		params := url.Values{"Integer": {strconv.Itoa(e.cfg.SpiderMaxChildren)}}
		if err := e.call(ctx, "spider/action/setOptionMaxChildren/", params, nil); err != nil {
			return nil, fmt.Errorf("configuring spider children: %w", err)
		}
	}

	var started struct {
		Scan string `json:"scan"`
	}
	if err := e.call(ctx, "spider/action/scan/", url.Values{"url": {target}}, &started); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "spider start failed")
		return nil, fmt.Errorf("starting spider: %v: %w", err, scanning.ErrEngineUnavailable)
	}

	e.logger.Info(ctx, "Spider started", "target", target, "spider_id", started.Scan)
	span.SetStatus(codes.Ok, "scan started")

	return &scanHandle{
		engine:     e,
		target:     target,
		spiderID:   started.Scan,
		activeScan: policy.ActiveScan,
	}, nil
}

// scanHandle tracks one run through its crawl and (optional) attack phase.
type scanHandle struct {
	engine *Engine
	target string

	mu         sync.Mutex
	spiderID   string
	ascanID    string
	activeScan bool
	done       bool
}

// Progress polls the current phase. With an active scan configured the crawl
// maps onto 0-50 and the attack phase onto 50-100; crawl-only runs map the
// crawl onto the full range.
func (h *scanHandle) Progress(ctx context.Context) (scanning.EngineProgress, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.done {
		return scanning.EngineProgress{Progress: 100, Done: true}, nil
	}

	if h.ascanID == "" {
		status, err := h.engine.componentStatus(ctx, "spider", h.spiderID)
		if err != nil {
			return scanning.EngineProgress{}, fmt.Errorf("spider status: %w", err)
		}
		if status < 100 {
			if h.activeScan {
				return scanning.EngineProgress{Progress: status / 2}, nil
			}
			return scanning.EngineProgress{Progress: status}, nil
		}
		if !h.activeScan {
			h.done = true
			return scanning.EngineProgress{Progress: 100, Done: true}, nil
		}

		ascanID, err := h.engine.startActiveScan(ctx, h.target)
		if err != nil {
			return scanning.EngineProgress{}, fmt.Errorf("starting active scan: %w", err)
		}
		h.ascanID = ascanID
		return scanning.EngineProgress{Progress: 50}, nil
	}

	status, err := h.engine.componentStatus(ctx, "ascan", h.ascanID)
	if err != nil {
		return scanning.EngineProgress{}, fmt.Errorf("active scan status: %w", err)
	}
	if status < 100 {
		return scanning.EngineProgress{Progress: 50 + status/2}, nil
	}
	h.done = true
	return scanning.EngineProgress{Progress: 100, Done: true}, nil
}

// Results fetches the daemon's alerts for the target and maps risk codes to
// severities.
func (h *scanHandle) Results(ctx context.Context) (scanning.EngineResults, error) {
	var resp struct {
		Alerts []alert `json:"alerts"`
	}
	params := url.Values{"baseurl": {h.target}}
	if err := h.engine.call(ctx, "core/view/alerts/", params, &resp); err != nil {
		return scanning.EngineResults{}, fmt.Errorf("fetching alerts: %w", err)
	}

	findings := make([]scanning.Finding, 0, len(resp.Alerts))
	for _, a := range resp.Alerts {
		findings = append(findings, a.toFinding())
	}
	return scanning.EngineResults{Findings: findings}, nil
}

// Stop halts whichever phases are in flight. Both stops are attempted even
// when the first fails.
func (h *scanHandle) Stop(ctx context.Context) error {
	h.mu.Lock()
	spiderID, ascanID := h.spiderID, h.ascanID
	h.done = true
	h.mu.Unlock()

	var firstErr error
	if spiderID != "" {
		params := url.Values{"scanId": {spiderID}}
		if err := h.engine.call(ctx, "spider/action/stop/", params, nil); err != nil {
			firstErr = fmt.Errorf("stopping spider: %w", err)
		}
	}
	if ascanID != "" {
		params := url.Values{"scanId": {ascanID}}
		if err := h.engine.call(ctx, "ascan/action/stop/", params, nil); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("stopping active scan: %w", err)
		}
	}
	return firstErr
}

// alert is the subset of the daemon's alert object this engine consumes.
type alert struct {
	Alert    string `json:"alert"`
	Name     string `json:"name"`
	Risk     string `json:"risk"`
	RiskCode string `json:"riskcode"`
	URL      string `json:"url"`
	Evidence string `json:"evidence"`
}

func (a alert) toFinding() scanning.Finding {
	name := a.Alert
	if name == "" {
		name = a.Name
	}
	return scanning.Finding{
		Severity: scanning.SeverityFromRisk(a.riskCode()),
		Type:     name,
		Location: a.URL,
		Evidence: a.Evidence,
	}
}

// riskCode prefers the explicit riskcode field, falling back to a numeric
// risk value. Unparseable values degrade to informational.
func (a alert) riskCode() int {
	if code, err := strconv.Atoi(a.RiskCode); err == nil {
		return code
	}
	if code, err := strconv.Atoi(a.Risk); err == nil {
		return code
	}
	return 0
}

func (e *Engine) componentStatus(ctx context.Context, component, scanID string) (int, error) {
	var resp struct {
		Status string `json:"status"`
	}
	params := url.Values{"scanId": {scanID}}
	if err := e.call(ctx, component+"/view/status/", params, &resp); err != nil {
		return 0, err
	}
	status, err := strconv.Atoi(resp.Status)
	if err != nil {
		return 0, fmt.Errorf("unexpected status %q: %w", resp.Status, err)
	}
	return status, nil
}

func (e *Engine) startActiveScan(ctx context.Context, target string) (string, error) {
	var resp struct {
		Scan string `json:"scan"`
	}
	params := url.Values{"url": {target}, "recurse": {"true"}}
	if err := e.call(ctx, "ascan/action/scan/", params, &resp); err != nil {
		return "", err
	}
	e.logger.Info(ctx, "Active scan started", "target", target, "ascan_id", resp.Scan)
	return resp.Scan, nil
}

// call performs one GET against the daemon's JSON API, decoding the response
// into out when it is non-nil.
func (e *Engine) call(ctx context.Context, endpoint string, params url.Values, out any) error {
	if params == nil {
		params = url.Values{}
	}
	if e.cfg.APIKey != "" {
		params.Set("apikey", e.cfg.APIKey)
	}

	reqURL := fmt.Sprintf("%s/JSON/%s?%s", e.cfg.BaseURL, endpoint, params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("calling %s: %w", endpoint, err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("calling %s: unexpected status %d", endpoint, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s response: %w", endpoint, err)
	}
	return nil
}
