package collector

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	talib "github.com/markcheno/go-talib"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"trade-metrics-lab/internal/domain"
	"trade-metrics-lab/internal/observability"
)

// Regime is a market-state label with the classifier's confidence.
type Regime struct {
	Label      string
	Confidence domain.Probability
}

// RegimeProvider classifies the market for a symbol at a point in time.
type RegimeProvider interface {
	Name() string
	Regime(ctx context.Context, symbol string, at time.Time) (Regime, error)
}

// IndicatorProvider returns technical indicator values keyed by name.
type IndicatorProvider interface {
	Name() string
	Indicators(ctx context.Context, symbol string, at time.Time) (map[string]float64, error)
}

// Enrichment is the market context attached to a trade at open.
type Enrichment struct {
	Regime     Regime
	Indicators map[string]float64
}

// neutralEnrichment is returned when no provider answers.
func neutralEnrichment() Enrichment {
	return Enrichment{Regime: Regime{Label: domain.RegimeUnknown}}
}

// EnricherOptions configures an Enricher.
type EnricherOptions struct {
	Regime      RegimeProvider    // optional
	Indicators  IndicatorProvider // optional
	Timeout     time.Duration     // per call, default 2s
	Concurrency int64             // concurrent provider calls, default 4
	Logger      *zap.Logger
	Metrics     *observability.Metrics
}

// Enricher calls context providers with a bounded pool and timeout.
// Provider failures degrade to neutral defaults and are never returned.
type Enricher struct {
	regime     RegimeProvider
	indicators IndicatorProvider
	timeout    time.Duration
	sem        *semaphore.Weighted
	logger     *zap.Logger
	metrics    *observability.Metrics
}

// NewEnricher creates an Enricher.
func NewEnricher(opts EnricherOptions) *Enricher {
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Second
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Enricher{
		regime:     opts.Regime,
		indicators: opts.Indicators,
		timeout:    opts.Timeout,
		sem:        semaphore.NewWeighted(opts.Concurrency),
		logger:     opts.Logger,
		metrics:    opts.Metrics,
	}
}

// EnrichRequest identifies the trade being enriched.
// A non-empty Regime was supplied by the producer and skips the regime provider.
type EnrichRequest struct {
	TradeID string
	Symbol  string
	At      time.Time
	Regime  string
}

// Enrich returns market context for the trade within the configured timeout.
func (e *Enricher) Enrich(ctx context.Context, req EnrichRequest) Enrichment {
	out := neutralEnrichment()
	if req.Regime != "" {
		out.Regime.Label = req.Regime
	}
	if e == nil {
		return out
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	if e.regime != nil && req.Regime == "" {
		if r, err := e.callRegime(ctx, req.Symbol, req.At); err != nil {
			e.fallback(e.regime.Name(), req.TradeID, err)
		} else {
			out.Regime = r
		}
	}
	if e.indicators != nil {
		if ind, err := e.callIndicators(ctx, req.Symbol, req.At); err != nil {
			e.fallback(e.indicators.Name(), req.TradeID, err)
		} else {
			out.Indicators = ind
		}
	}
	return out
}

func (e *Enricher) callRegime(ctx context.Context, symbol string, at time.Time) (Regime, error) {
	if err := e.sem.Acquire(ctx, 1); err != nil {
		return Regime{}, fmt.Errorf("%w: %w", domain.ErrEnrichmentUnavailable, err)
	}
	defer e.sem.Release(1)

	r, err := e.regime.Regime(ctx, symbol, at)
	if err != nil {
		return Regime{}, fmt.Errorf("%w: %w", domain.ErrEnrichmentUnavailable, err)
	}
	if r.Label == "" {
		r.Label = domain.RegimeUnknown
	}
	return r, nil
}

func (e *Enricher) callIndicators(ctx context.Context, symbol string, at time.Time) (map[string]float64, error) {
	if err := e.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrEnrichmentUnavailable, err)
	}
	defer e.sem.Release(1)

	ind, err := e.indicators.Indicators(ctx, symbol, at)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrEnrichmentUnavailable, err)
	}
	return ind, nil
}

func (e *Enricher) fallback(provider, tradeID string, err error) {
	e.metrics.RecordEnrichmentFallback(provider)
	e.logger.Warn("enrichment degraded to defaults",
		zap.String("provider", provider),
		zap.String("trade_id", tradeID),
		zap.Error(err),
	)
}

// StaticRegimeProvider answers every request with a fixed label.
type StaticRegimeProvider struct {
	Label      string
	Confidence domain.Probability
}

// Name implements RegimeProvider.
func (p StaticRegimeProvider) Name() string { return "static" }

// Regime implements RegimeProvider.
func (p StaticRegimeProvider) Regime(_ context.Context, _ string, _ time.Time) (Regime, error) {
	return Regime{Label: p.Label, Confidence: p.Confidence}, nil
}

// HTTPRegimeProvider queries an external classifier:
// GET {base}?symbol=...&at=RFC3339 → {"regime": "...", "confidence": 0.8}.
type HTTPRegimeProvider struct {
	baseURL string
	client  *http.Client
}

// HTTPProviderOption configures the HTTP providers.
type HTTPProviderOption func(*http.Client)

// WithHTTPTimeout sets the client timeout.
func WithHTTPTimeout(d time.Duration) HTTPProviderOption {
	return func(c *http.Client) {
		c.Timeout = d
	}
}

// WithTransport sets a custom round tripper.
func WithTransport(rt http.RoundTripper) HTTPProviderOption {
	return func(c *http.Client) {
		c.Transport = rt
	}
}

func newHTTPClient(opts []HTTPProviderOption) *http.Client {
	c := &http.Client{Timeout: 5 * time.Second}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewHTTPRegimeProvider creates a regime provider for baseURL.
func NewHTTPRegimeProvider(baseURL string, opts ...HTTPProviderOption) *HTTPRegimeProvider {
	return &HTTPRegimeProvider{baseURL: baseURL, client: newHTTPClient(opts)}
}

// Name implements RegimeProvider.
func (p *HTTPRegimeProvider) Name() string { return "http_regime" }

// Regime implements RegimeProvider.
func (p *HTTPRegimeProvider) Regime(ctx context.Context, symbol string, at time.Time) (Regime, error) {
	body, err := getJSON(ctx, p.client, p.baseURL, symbol, at)
	if err != nil {
		return Regime{}, err
	}
	label := gjson.GetBytes(body, "regime")
	if !label.Exists() || label.String() == "" {
		return Regime{}, fmt.Errorf("regime response missing label")
	}
	conf, err := domain.NewProbability(gjson.GetBytes(body, "confidence").Float())
	if err != nil {
		return Regime{}, fmt.Errorf("regime confidence: %w", err)
	}
	return Regime{Label: label.String(), Confidence: conf}, nil
}

// BarSource returns closing prices ending at or before at, oldest first.
type BarSource interface {
	Closes(ctx context.Context, symbol string, at time.Time, n int) ([]float64, error)
}

// HTTPBarSource fetches closes from GET {base}?symbol=...&at=...&limit=n → {"closes": [..]}.
type HTTPBarSource struct {
	baseURL string
	client  *http.Client
}

// NewHTTPBarSource creates a bar source for baseURL.
func NewHTTPBarSource(baseURL string, opts ...HTTPProviderOption) *HTTPBarSource {
	return &HTTPBarSource{baseURL: baseURL, client: newHTTPClient(opts)}
}

// Closes implements BarSource.
func (s *HTTPBarSource) Closes(ctx context.Context, symbol string, at time.Time, n int) ([]float64, error) {
	body, err := getJSON(ctx, s.client, s.baseURL, symbol, at, "limit", fmt.Sprint(n))
	if err != nil {
		return nil, err
	}
	arr := gjson.GetBytes(body, "closes").Array()
	closes := make([]float64, 0, len(arr))
	for _, v := range arr {
		closes = append(closes, v.Float())
	}
	return closes, nil
}

// TalibIndicatorProvider computes RSI and SMA over recent closes.
type TalibIndicatorProvider struct {
	bars      BarSource
	rsiPeriod int
	smaPeriod int
}

// NewTalibIndicatorProvider creates an indicator provider with RSI(14) and SMA(20).
func NewTalibIndicatorProvider(bars BarSource) *TalibIndicatorProvider {
	return &TalibIndicatorProvider{bars: bars, rsiPeriod: 14, smaPeriod: 20}
}

// Name implements IndicatorProvider.
func (p *TalibIndicatorProvider) Name() string { return "talib" }

// Indicators implements IndicatorProvider.
func (p *TalibIndicatorProvider) Indicators(ctx context.Context, symbol string, at time.Time) (map[string]float64, error) {
	need := max(p.rsiPeriod+1, p.smaPeriod)
	closes, err := p.bars.Closes(ctx, symbol, at, need)
	if err != nil {
		return nil, err
	}
	if len(closes) < need {
		return nil, fmt.Errorf("insufficient bars for %s: need %d got %d", symbol, need, len(closes))
	}

	rsi := talib.Rsi(closes, p.rsiPeriod)
	sma := talib.Sma(closes, p.smaPeriod)
	last := closes[len(closes)-1]
	out := map[string]float64{
		fmt.Sprintf("rsi_%d", p.rsiPeriod): rsi[len(rsi)-1],
		fmt.Sprintf("sma_%d", p.smaPeriod): sma[len(sma)-1],
	}
	if s := sma[len(sma)-1]; s != 0 {
		out["close_vs_sma_pct"] = (last - s) / s * 100
	}
	return out, nil
}

func getJSON(ctx context.Context, client *http.Client, base, symbol string, at time.Time, extra ...string) ([]byte, error) {
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("parse provider url: %w", err)
	}
	q := u.Query()
	q.Set("symbol", symbol)
	q.Set("at", at.UTC().Format(time.RFC3339))
	for i := 0; i+1 < len(extra); i += 2 {
		q.Set(extra[i], extra[i+1])
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("provider request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("provider status %d", resp.StatusCode)
	}
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("provider returned invalid JSON")
	}
	return body, nil
}
