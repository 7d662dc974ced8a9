package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-sync/internal/circuitbreaker"
	"github.com/kjstillabower/weather-sync/internal/credentials"
	"github.com/kjstillabower/weather-sync/internal/models"
	"github.com/kjstillabower/weather-sync/internal/observability"
)

// Endpoint labels used in errors, logs and metrics.
const (
	EndpointWeather    = "weather"
	EndpointForecast   = "forecast"
	EndpointOneCall    = "onecall"
	EndpointAirQuality = "air_quality"
)

// Mode selects how forecasts are fetched.
type Mode string

const (
	// ModeSplit uses the 2.5 weather, forecast and air_pollution endpoints.
	ModeSplit Mode = "split"
	// ModeOneCall fetches current weather and forecasts in one 3.0 onecall request
	// when coordinates are known.
	ModeOneCall Mode = "onecall"
)

const maxBodyBytes = 4 << 20

// WeatherGateway is what the sync driver needs from the provider.
type WeatherGateway interface {
	FetchWeather(ctx context.Context, target models.Target) (models.RawWeather, error)
	FetchForecast(ctx context.Context, coords models.Coordinates) (models.RawForecast, error)
	FetchCurrentAndForecast(ctx context.Context, coords models.Coordinates) (models.RawWeather, models.RawForecast, error)
	FetchAirQuality(ctx context.Context, coords models.Coordinates) (int, error)
	Combined() bool
}

// RateGovernor guards every outbound request. Each Acquire ends in exactly one
// Record (request issued) or Release (nothing sent).
type RateGovernor interface {
	Acquire(ctx context.Context) error
	Record(t time.Time)
	Release()
}

// CredentialRotator hands out API keys.
type CredentialRotator interface {
	Next() credentials.Credential
	Penalize(c credentials.Credential)
	Size() int
	Cursor() int
}

// Config holds provider endpoints and request settings.
type Config struct {
	WeatherURL    string
	ForecastURL   string
	OneCallURL    string
	AirQualityURL string
	Mode          Mode
	Units         string
	Timeout       time.Duration
}

// Gateway issues rate-governed, key-rotating calls to OpenWeatherMap.
type Gateway struct {
	cfg      Config
	client   *http.Client
	pool     CredentialRotator
	governor RateGovernor
	breaker  *circuitbreaker.CircuitBreaker
	logger   *zap.Logger
	now      func() time.Time
}

// NewGateway validates cfg and builds a Gateway. pool and governor are shared
// with every other caller in the process.
func NewGateway(cfg Config, pool CredentialRotator, governor RateGovernor, logger *zap.Logger) (*Gateway, error) {
	if pool == nil || pool.Size() == 0 {
		return nil, fmt.Errorf("%w: gateway requires a non-empty credential pool", credentials.ErrConfiguration)
	}
	if governor == nil {
		return nil, fmt.Errorf("%w: gateway requires a rate governor", credentials.ErrConfiguration)
	}
	if cfg.WeatherURL == "" {
		return nil, fmt.Errorf("%w: weather URL is required", credentials.ErrConfiguration)
	}
	switch cfg.Mode {
	case "":
		cfg.Mode = ModeSplit
	case ModeSplit, ModeOneCall:
	default:
		return nil, fmt.Errorf("%w: unknown provider mode %q", credentials.ErrConfiguration, cfg.Mode)
	}
	if cfg.Mode == ModeSplit && cfg.ForecastURL == "" {
		return nil, fmt.Errorf("%w: forecast URL is required in split mode", credentials.ErrConfiguration)
	}
	if cfg.Mode == ModeOneCall && cfg.OneCallURL == "" {
		return nil, fmt.Errorf("%w: onecall URL is required in onecall mode", credentials.ErrConfiguration)
	}
	if cfg.AirQualityURL == "" {
		return nil, fmt.Errorf("%w: air quality URL is required", credentials.ErrConfiguration)
	}
	if cfg.Units == "" {
		cfg.Units = "metric"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gateway{
		cfg:      cfg,
		client:   &http.Client{Timeout: cfg.Timeout},
		pool:     pool,
		governor: governor,
		logger:   logger,
		now:      time.Now,
	}, nil
}

// SetCircuitBreaker routes every request through cb. nil disables it.
func (g *Gateway) SetCircuitBreaker(cb *circuitbreaker.CircuitBreaker) {
	g.breaker = cb
}

// SetClock replaces the time source used to stamp requests for the rate governor.
// It must match the governor's clock.
func (g *Gateway) SetClock(now func() time.Time) {
	g.now = now
}

// Combined reports whether current weather and forecasts come from one call.
func (g *Gateway) Combined() bool {
	return g.cfg.Mode == ModeOneCall
}

// FetchWeather returns current conditions by coordinates, or by name when coordinates are unknown.
func (g *Gateway) FetchWeather(ctx context.Context, target models.Target) (models.RawWeather, error) {
	params := url.Values{}
	switch {
	case target.Coords != nil:
		setCoords(params, *target.Coords)
	case strings.TrimSpace(target.Name) != "":
		params.Set("q", strings.TrimSpace(target.Name))
	default:
		return models.RawWeather{}, ErrInvalidTarget
	}
	params.Set("units", g.cfg.Units)

	body, attempts, err := g.fetch(ctx, EndpointWeather, g.cfg.WeatherURL, params)
	if err != nil {
		return models.RawWeather{}, err
	}
	w, err := parseWeather(body)
	if err != nil {
		return models.RawWeather{}, g.malformed(EndpointWeather, attempts, err)
	}
	return w, nil
}

// FetchForecast returns hourly and daily forecasts for coords.
func (g *Gateway) FetchForecast(ctx context.Context, coords models.Coordinates) (models.RawForecast, error) {
	params := url.Values{}
	setCoords(params, coords)
	params.Set("units", g.cfg.Units)

	if g.cfg.Mode == ModeOneCall {
		params.Set("exclude", "current,minutely,alerts")
		body, attempts, err := g.fetch(ctx, EndpointOneCall, g.cfg.OneCallURL, params)
		if err != nil {
			return models.RawForecast{}, err
		}
		_, f, err := parseOneCall(body, false)
		if err != nil {
			return models.RawForecast{}, g.malformed(EndpointOneCall, attempts, err)
		}
		return f, nil
	}

	body, attempts, err := g.fetch(ctx, EndpointForecast, g.cfg.ForecastURL, params)
	if err != nil {
		return models.RawForecast{}, err
	}
	f, err := parseForecast(body)
	if err != nil {
		return models.RawForecast{}, g.malformed(EndpointForecast, attempts, err)
	}
	return f, nil
}

// FetchCurrentAndForecast fetches current weather and forecasts in a single onecall request.
// Only available in onecall mode; a failure means neither part is usable.
func (g *Gateway) FetchCurrentAndForecast(ctx context.Context, coords models.Coordinates) (models.RawWeather, models.RawForecast, error) {
	if g.cfg.Mode != ModeOneCall {
		return models.RawWeather{}, models.RawForecast{}, ErrCombinedUnsupported
	}

	params := url.Values{}
	setCoords(params, coords)
	params.Set("units", g.cfg.Units)
	params.Set("exclude", "minutely,alerts")

	body, attempts, err := g.fetch(ctx, EndpointOneCall, g.cfg.OneCallURL, params)
	if err != nil {
		return models.RawWeather{}, models.RawForecast{}, err
	}
	w, f, err := parseOneCall(body, true)
	if err != nil {
		return models.RawWeather{}, models.RawForecast{}, g.malformed(EndpointOneCall, attempts, err)
	}
	if w.Coords == nil {
		w.Coords = &coords
	}
	return w, f, nil
}

// FetchAirQuality returns the provider AQI code (1-5) for coords, or 0 when the response carries none.
func (g *Gateway) FetchAirQuality(ctx context.Context, coords models.Coordinates) (int, error) {
	params := url.Values{}
	setCoords(params, coords)

	body, attempts, err := g.fetch(ctx, EndpointAirQuality, g.cfg.AirQualityURL, params)
	if err != nil {
		return 0, err
	}
	aqi, err := parseAirQuality(body)
	if err != nil {
		return 0, g.malformed(EndpointAirQuality, attempts, err)
	}
	return aqi, nil
}

// fetch runs one logical call: at most one attempt per pool key, rotating on
// 429/401/403 and stopping on anything else. It returns the number of requests
// issued. Only issued requests are recorded in the rate window.
func (g *Gateway) fetch(ctx context.Context, endpoint, rawURL string, params url.Values) ([]byte, int, error) {
	attempts := g.pool.Size()
	issued := 0
	lastStatus := 0
	for attempt := 1; attempt <= attempts; attempt++ {
		if g.breaker != nil && g.breaker.State() == circuitbreaker.StateOpen {
			return nil, issued, g.fail(&FetchError{Kind: KindTransport, Endpoint: endpoint, Attempts: issued, Err: circuitbreaker.ErrOpen})
		}

		waitStart := time.Now()
		if err := g.governor.Acquire(ctx); err != nil {
			return nil, issued, g.fail(&FetchError{Kind: KindTransport, Endpoint: endpoint, Attempts: issued, Err: fmt.Errorf("rate governor: %w", err)})
		}
		observability.RateGovernorWaitSeconds.Observe(time.Since(waitStart).Seconds())

		cred := g.pool.Next()
		status, body, sent, err := g.callAPI(ctx, endpoint, rawURL, params, cred)
		if sent {
			g.governor.Record(g.now())
			issued++
		} else {
			g.governor.Release()
		}
		if err != nil {
			return nil, issued, g.fail(&FetchError{Kind: KindTransport, Endpoint: endpoint, Attempts: issued, Err: err})
		}

		switch status {
		case http.StatusOK:
			return body, issued, nil
		case http.StatusTooManyRequests, http.StatusUnauthorized, http.StatusForbidden:
			lastStatus = status
			reason := "rate_limited"
			if status != http.StatusTooManyRequests {
				reason = "rejected"
			}
			observability.CredentialRotationsTotal.WithLabelValues(reason).Inc()
			g.pool.Penalize(cred)
			g.logger.Debug("provider rejected key, rotating",
				zap.String("endpoint", endpoint),
				zap.Int("status", status),
				zap.Int("key_index", cred.Index),
				zap.Int("next_key_index", g.pool.Cursor()),
				zap.Int("attempt", attempt))
		default:
			return nil, issued, g.fail(&FetchError{Kind: KindProvider, Endpoint: endpoint, StatusCode: status, Attempts: issued})
		}
	}
	g.logger.Warn("all provider keys exhausted",
		zap.String("endpoint", endpoint),
		zap.Int("attempts", issued),
		zap.Int("last_status", lastStatus))
	return nil, issued, g.fail(&FetchError{Kind: KindAllCredentialsExhausted, Endpoint: endpoint, StatusCode: lastStatus, Attempts: issued})
}

var errServerStatus = errors.New("server error status")

// callAPI issues a single HTTP request. sent reports whether the request left the
// process; it is false when the breaker or a dead ctx stopped it first. A non-nil
// error means no usable HTTP response.
func (g *Gateway) callAPI(ctx context.Context, endpoint, rawURL string, params url.Values, cred credentials.Credential) (status int, body []byte, sent bool, err error) {
	run := func() error {
		start := time.Now()
		reqCtx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
		defer cancel()

		req, err := buildRequest(reqCtx, rawURL, params, cred.Key)
		if err != nil {
			return fmt.Errorf("build request: %w", err)
		}

		if err := reqCtx.Err(); err != nil {
			return err
		}
		sent = true
		resp, err := g.client.Do(req)
		if err != nil {
			observability.ProviderCallsTotal.WithLabelValues(endpoint, "error").Inc()
			observability.ProviderDuration.WithLabelValues(endpoint, "error").Observe(time.Since(start).Seconds())
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
				return fmt.Errorf("request timeout: %w", err)
			}
			return fmt.Errorf("http request failed: %w", err)
		}
		defer resp.Body.Close()

		status = resp.StatusCode
		label := statusLabel(status)
		observability.ProviderCallsTotal.WithLabelValues(endpoint, label).Inc()
		observability.ProviderDuration.WithLabelValues(endpoint, label).Observe(time.Since(start).Seconds())

		body, err = io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		if err != nil {
			return fmt.Errorf("read response body: %w", err)
		}
		if status >= 500 {
			return fmt.Errorf("%w: HTTP %d", errServerStatus, status)
		}
		return nil
	}

	if g.breaker != nil {
		err = g.breaker.Call(ctx, run)
	} else {
		err = run()
	}
	// 5xx is a valid response for the caller; it only counts as a breaker failure.
	if errors.Is(err, errServerStatus) {
		return status, body, sent, nil
	}
	return status, body, sent, err
}

func (g *Gateway) malformed(endpoint string, attempts int, err error) error {
	return g.fail(&FetchError{Kind: KindMalformedResponse, Endpoint: endpoint, StatusCode: http.StatusOK, Attempts: attempts, Err: err})
}

func (g *Gateway) fail(err *FetchError) error {
	observability.FetchErrorsTotal.WithLabelValues(err.Endpoint, string(CategorizeError(err))).Inc()
	return err
}

func buildRequest(ctx context.Context, rawURL string, params url.Values, apiKey string) (*http.Request, error) {
	baseURL, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid API URL: %w", err)
	}

	q := baseURL.Query()
	for k, vs := range params {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	q.Set("appid", apiKey)
	baseURL.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func setCoords(params url.Values, c models.Coordinates) {
	params.Set("lat", strconv.FormatFloat(c.Lat, 'f', -1, 64))
	params.Set("lon", strconv.FormatFloat(c.Lon, 'f', -1, 64))
}

func statusLabel(statusCode int) string {
	if statusCode >= 200 && statusCode < 300 {
		return "success"
	}
	if statusCode == http.StatusTooManyRequests {
		return "rate_limited"
	}
	if statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden {
		return "rejected"
	}
	if statusCode >= 400 && statusCode < 500 {
		return "client_error"
	}
	if statusCode >= 500 {
		return "server_error"
	}
	return "error"
}
