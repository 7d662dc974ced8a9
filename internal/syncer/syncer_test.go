package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/kjstillabower/weather-sync/internal/client"
	"github.com/kjstillabower/weather-sync/internal/districts"
	"github.com/kjstillabower/weather-sync/internal/models"
	"github.com/kjstillabower/weather-sync/internal/sink"
)

var fixedNow = time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)

func fptr(v float64) *float64 { return &v }

type gatewayCall struct {
	method string
	target models.Target
	coords models.Coordinates
}

// fakeGateway returns canned results and records every call.
type fakeGateway struct {
	mu       sync.Mutex
	combined bool
	calls    []gatewayCall

	weather    func(models.Target) (models.RawWeather, error)
	forecast   func(models.Coordinates) (models.RawForecast, error)
	airQuality func(models.Coordinates) (int, error)
}

func (g *fakeGateway) record(c gatewayCall) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, c)
}

func (g *fakeGateway) Calls() []gatewayCall {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]gatewayCall(nil), g.calls...)
}

func (g *fakeGateway) FetchWeather(ctx context.Context, target models.Target) (models.RawWeather, error) {
	g.record(gatewayCall{method: "weather", target: target})
	if g.weather != nil {
		return g.weather(target)
	}
	w := models.RawWeather{Temperature: 30.5, Humidity: fptr(48)}
	if target.Coords != nil {
		w.Coords = target.Coords
	} else {
		w.Coords = &models.Coordinates{Lat: 11.67, Lon: 92.74}
	}
	return w, nil
}

func (g *fakeGateway) FetchForecast(ctx context.Context, coords models.Coordinates) (models.RawForecast, error) {
	g.record(gatewayCall{method: "forecast", coords: coords})
	if g.forecast != nil {
		return g.forecast(coords)
	}
	return models.RawForecast{
		Hourly: []models.HourlyPoint{{Time: fixedNow, Temperature: 29}},
		Daily:  []models.DailyPoint{{Date: "2024-06-01", Min: fptr(24), Max: fptr(33)}},
	}, nil
}

func (g *fakeGateway) FetchCurrentAndForecast(ctx context.Context, coords models.Coordinates) (models.RawWeather, models.RawForecast, error) {
	g.record(gatewayCall{method: "combined", coords: coords})
	return models.RawWeather{Temperature: 27, Coords: &coords},
		models.RawForecast{Hourly: []models.HourlyPoint{{Time: fixedNow, Temperature: 26}}}, nil
}

func (g *fakeGateway) FetchAirQuality(ctx context.Context, coords models.Coordinates) (int, error) {
	g.record(gatewayCall{method: "air_quality", coords: coords})
	if g.airQuality != nil {
		return g.airQuality(coords)
	}
	return 3, nil
}

func (g *fakeGateway) Combined() bool { return g.combined }

type upsert struct {
	id  string
	rec models.WeatherRecord
}

// recordingSink keeps every upsert in order and fails for ids in failFor.
type recordingSink struct {
	mu      sync.Mutex
	upserts []upsert
	failFor map[string]bool
}

func (s *recordingSink) Upsert(ctx context.Context, id string, rec models.WeatherRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failFor[id] {
		return fmt.Errorf("%w: district %s: connection reset", sink.ErrWrite, id)
	}
	s.upserts = append(s.upserts, upsert{id: id, rec: rec})
	return nil
}

func (s *recordingSink) IDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for _, u := range s.upserts {
		ids = append(ids, u.id)
	}
	return ids
}

func (s *recordingSink) Get(id string) (models.WeatherRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.upserts) - 1; i >= 0; i-- {
		if s.upserts[i].id == id {
			return s.upserts[i].rec, true
		}
	}
	return models.WeatherRecord{}, false
}

type failingSource struct{ err error }

func (f failingSource) List(context.Context) ([]models.District, error) { return nil, f.err }

func withCoords(id, name string, lat, lon float64) models.District {
	return models.District{ID: id, Name: name, Latitude: fptr(lat), Longitude: fptr(lon)}
}

func newDriver(src districts.Source, gw client.WeatherGateway, s sink.Sink, opts ...Option) *Driver {
	opts = append([]Option{WithClock(func() time.Time { return fixedNow })}, opts...)
	return New(src, gw, s, opts...)
}

func TestDriver_TotalCoverage(t *testing.T) {
	for _, n := range []int{0, 1, 7} {
		t.Run(fmt.Sprintf("%d districts", n), func(t *testing.T) {
			var list districts.StaticSource
			var want []string
			for i := 0; i < n; i++ {
				id := fmt.Sprintf("%d", 100-i)
				list = append(list, withCoords(id, "D"+id, 10+float64(i), 70+float64(i)))
				want = append(want, id)
			}
			s := &recordingSink{}
			d := newDriver(list, &fakeGateway{}, s)

			sum, err := d.Run(context.Background())
			if err != nil {
				t.Fatalf("Run() error = %v", err)
			}
			got := s.IDs()
			if len(got) != n {
				t.Fatalf("upserts = %d, want %d", len(got), n)
			}
			for i := range want {
				if got[i] != want[i] {
					t.Errorf("upsert[%d] = %s, want %s (registry order)", i, got[i], want[i])
				}
			}
			if sum.State != StateCompleted || sum.Total != n || sum.Succeeded != n {
				t.Errorf("Summary = %+v", sum)
			}
			if d.State() != StateCompleted {
				t.Errorf("State() = %v, want completed", d.State())
			}
			if sum.RunID == "" {
				t.Error("RunID is empty")
			}
		})
	}
}

func TestDriver_SkipPolicy(t *testing.T) {
	list := districts.StaticSource{
		{ID: "1", Name: ""},
		{ID: "2", Name: "   "},
		{ID: "3", Name: "???"},
		withCoords("4", "Pune", 18.52, 73.85),
	}
	gw := &fakeGateway{}
	s := &recordingSink{}

	sum, err := newDriver(list, gw, s).Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if sum.Skipped != 3 || sum.Succeeded != 1 {
		t.Errorf("Summary = %+v, want 3 skipped and 1 succeeded", sum)
	}
	if ids := s.IDs(); len(ids) != 1 || ids[0] != "4" {
		t.Errorf("upserts = %v, want only district 4", ids)
	}
	for _, c := range gw.Calls() {
		if c.method == "weather" && c.target.Coords == nil {
			t.Errorf("skipped district reached the gateway: %+v", c)
		}
	}
}

func TestDriver_NullFillOnWeatherFailure(t *testing.T) {
	gw := &fakeGateway{
		weather: func(models.Target) (models.RawWeather, error) {
			return models.RawWeather{}, &client.FetchError{Kind: client.KindProvider, Endpoint: client.EndpointWeather, StatusCode: 500, Attempts: 1}
		},
	}
	s := &recordingSink{}

	sum, err := newDriver(districts.StaticSource{withCoords("1", "Bengaluru", 12.9, 77.6)}, gw, s).Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if sum.Failed != 1 || sum.State != StateCompleted {
		t.Errorf("Summary = %+v, want 1 failed and completed", sum)
	}

	rec, ok := s.Get("1")
	if !ok {
		t.Fatal("failed district must still be written")
	}
	if rec.WeatherDesc == nil || *rec.WeatherDesc != "*" {
		t.Errorf("WeatherDesc = %v, want *", rec.WeatherDesc)
	}
	if rec.Temperature != nil || rec.Humidity != nil || rec.AirPollution != nil || rec.HourlyForecast != nil {
		t.Errorf("record = %+v, want null fields", rec)
	}
	if !rec.UpdatedAt.Equal(fixedNow) {
		t.Errorf("UpdatedAt = %v, want %v", rec.UpdatedAt, fixedNow)
	}
	for _, c := range gw.Calls() {
		if c.method != "weather" {
			t.Errorf("unexpected %s call after weather failure", c.method)
		}
	}
}

func TestDriver_PartialSuccessPreserved(t *testing.T) {
	gw := &fakeGateway{
		forecast: func(models.Coordinates) (models.RawForecast, error) {
			return models.RawForecast{}, &client.FetchError{Kind: client.KindAllCredentialsExhausted, Endpoint: client.EndpointForecast, StatusCode: 429, Attempts: 2}
		},
	}
	s := &recordingSink{}

	sum, err := newDriver(districts.StaticSource{withCoords("1", "Bengaluru", 12.9, 77.6)}, gw, s).Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if sum.Partial != 1 {
		t.Errorf("Summary = %+v, want 1 partial", sum)
	}
	rec, _ := s.Get("1")
	if rec.Temperature == nil || *rec.Temperature != 30.5 {
		t.Errorf("Temperature = %v, want 30.5", rec.Temperature)
	}
	if rec.HourlyForecast != nil || rec.DailyForecast != nil {
		t.Errorf("forecasts = %v/%v, want nil", rec.HourlyForecast, rec.DailyForecast)
	}
	if rec.AirPollution == nil || *rec.AirPollution != "Moderate" {
		t.Errorf("AirPollution = %v, want Moderate", rec.AirPollution)
	}
}

func TestDriver_NameAliasAndReturnedCoordinates(t *testing.T) {
	gw := &fakeGateway{}
	s := &recordingSink{}
	d := newDriver(districts.StaticSource{{ID: "6", Name: "South Andaman"}}, gw, s,
		WithNameAliases(map[string]string{"South Andaman": "Port Blair,IN"}))

	sum, err := d.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if sum.Succeeded != 1 {
		t.Errorf("Summary = %+v, want 1 succeeded", sum)
	}

	calls := gw.Calls()
	if len(calls) != 3 {
		t.Fatalf("calls = %+v, want weather, forecast, air_quality", calls)
	}
	if calls[0].target.Name != "Port Blair,IN" || calls[0].target.Coords != nil {
		t.Errorf("weather target = %+v, want aliased name query", calls[0].target)
	}
	want := models.Coordinates{Lat: 11.67, Lon: 92.74}
	if calls[1].coords != want || calls[2].coords != want {
		t.Errorf("forecast/aqi coords = %v/%v, want coordinates returned by weather", calls[1].coords, calls[2].coords)
	}
}

func TestDriver_NameLookupWithoutReturnedCoordinates(t *testing.T) {
	gw := &fakeGateway{
		weather: func(models.Target) (models.RawWeather, error) {
			return models.RawWeather{Temperature: 22}, nil
		},
	}
	s := &recordingSink{}

	sum, err := newDriver(districts.StaticSource{{ID: "7", Name: "Leh"}}, gw, s).Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if sum.Partial != 1 {
		t.Errorf("Summary = %+v, want 1 partial", sum)
	}
	if n := len(gw.Calls()); n != 1 {
		t.Errorf("calls = %d, want only the weather call", n)
	}
	rec, _ := s.Get("7")
	if rec.Temperature == nil || *rec.Temperature != 22 || rec.AirPollution != nil {
		t.Errorf("record = %+v", rec)
	}
}

func TestDriver_IncompleteCoordinatesFallBackToName(t *testing.T) {
	gw := &fakeGateway{}
	s := &recordingSink{}
	list := districts.StaticSource{
		{ID: "1", Name: "Chennai", Latitude: fptr(13.08)},
		{ID: "2", Name: "Kolkata", Latitude: fptr(222), Longitude: fptr(88.36)},
	}

	if _, err := newDriver(list, gw, s).Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	var names []string
	for _, c := range gw.Calls() {
		if c.method == "weather" {
			if c.target.Coords != nil {
				t.Errorf("weather call used coordinates: %+v", c.target)
			}
			names = append(names, c.target.Name)
		}
	}
	if len(names) != 2 || names[0] != "Chennai" || names[1] != "Kolkata" {
		t.Errorf("name queries = %v", names)
	}
}

func TestDriver_CombinedMode(t *testing.T) {
	gw := &fakeGateway{combined: true}
	s := &recordingSink{}
	list := districts.StaticSource{
		withCoords("1", "Mumbai", 19.07, 72.87),
		{ID: "2", Name: "Nicobars"},
	}

	sum, err := newDriver(list, gw, s).Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if sum.Succeeded != 2 {
		t.Errorf("Summary = %+v, want 2 succeeded", sum)
	}
	var methods []string
	for _, c := range gw.Calls() {
		methods = append(methods, c.method)
	}
	want := []string{"combined", "air_quality", "weather", "forecast", "air_quality"}
	if fmt.Sprint(methods) != fmt.Sprint(want) {
		t.Errorf("calls = %v, want %v", methods, want)
	}
	rec, _ := s.Get("1")
	if rec.Temperature == nil || *rec.Temperature != 27 || len(rec.HourlyForecast) != 1 {
		t.Errorf("combined record = %+v", rec)
	}
}

func TestDriver_SinkFailureCountedAndRunContinues(t *testing.T) {
	list := districts.StaticSource{
		withCoords("1", "A", 1, 1),
		withCoords("2", "B", 2, 2),
		withCoords("3", "C", 3, 3),
	}
	s := &recordingSink{failFor: map[string]bool{"2": true}}

	sum, err := newDriver(list, &fakeGateway{}, s).Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if sum.State != StateCompleted || sum.WriteErrors != 1 || sum.Succeeded != 3 {
		t.Errorf("Summary = %+v, want completed with 1 write error", sum)
	}
	if ids := s.IDs(); len(ids) != 2 || ids[0] != "1" || ids[1] != "3" {
		t.Errorf("upserts = %v, want [1 3]", ids)
	}
}

func TestDriver_RegistryReadFailureAborts(t *testing.T) {
	gw := &fakeGateway{}
	d := newDriver(failingSource{err: errors.New("connection refused")}, gw, &recordingSink{})

	sum, err := d.Run(context.Background())
	if !errors.Is(err, ErrRegistryRead) {
		t.Fatalf("Run() error = %v, want ErrRegistryRead", err)
	}
	if sum.State != StateAborted || d.State() != StateAborted {
		t.Errorf("state = %v/%v, want aborted", sum.State, d.State())
	}
	if len(gw.Calls()) != 0 {
		t.Error("gateway called after registry failure")
	}
}

func TestDriver_CancellationAborts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	gw := &fakeGateway{}
	gw.weather = func(target models.Target) (models.RawWeather, error) {
		if target.Name == "B" {
			cancel()
			return models.RawWeather{}, &client.FetchError{Kind: client.KindTransport, Endpoint: client.EndpointWeather, Attempts: 1, Err: context.Canceled}
		}
		return models.RawWeather{Temperature: 25, Coords: target.Coords}, nil
	}
	s := &recordingSink{}
	list := districts.StaticSource{
		withCoords("1", "A", 1, 1),
		withCoords("2", "B", 2, 2),
		withCoords("3", "C", 3, 3),
	}
	d := newDriver(list, gw, s)

	sum, err := d.Run(ctx)
	if !errors.Is(err, ErrInterrupted) || !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() error = %v, want ErrInterrupted wrapping context.Canceled", err)
	}
	if sum.State != StateAborted || d.State() != StateAborted {
		t.Errorf("state = %v/%v, want aborted", sum.State, d.State())
	}
	if ids := s.IDs(); len(ids) != 1 || ids[0] != "1" {
		t.Errorf("upserts = %v, want only the district completed before cancellation", ids)
	}
	for _, c := range gw.Calls() {
		if c.target.Name == "C" {
			t.Error("district scheduled after cancellation")
		}
	}
	if sum.Succeeded != 1 || sum.Failed != 0 {
		t.Errorf("Summary = %+v, interrupted district must not be counted", sum)
	}
}

func TestDriver_RunsOnce(t *testing.T) {
	d := newDriver(districts.StaticSource{}, &fakeGateway{}, &recordingSink{})
	if _, err := d.Run(context.Background()); err != nil {
		t.Fatalf("first Run() error = %v", err)
	}
	sum, err := d.Run(context.Background())
	if !errors.Is(err, ErrAlreadyRun) {
		t.Errorf("second Run() error = %v, want ErrAlreadyRun", err)
	}
	if sum.State != StateCompleted {
		t.Errorf("second Run() state = %v, want completed", sum.State)
	}
}

func TestDriver_Idempotent(t *testing.T) {
	list := districts.StaticSource{withCoords("1", "A", 1, 1), {ID: "2", Name: "Nicobars"}}
	s := sink.NewMemorySink()

	times := []time.Time{fixedNow, fixedNow.Add(time.Hour)}
	var records [2]models.WeatherRecord
	for i, now := range times {
		now := now
		d := New(list, &fakeGateway{}, s, WithClock(func() time.Time { return now }))
		if _, err := d.Run(context.Background()); err != nil {
			t.Fatalf("Run() #%d error = %v", i, err)
		}
		records[i], _ = s.Get("1")
	}

	if s.Len() != 2 {
		t.Errorf("Len() = %d, want 2", s.Len())
	}
	a, b := records[0], records[1]
	if *a.Temperature != *b.Temperature || *a.AirPollution != *b.AirPollution || len(a.HourlyForecast) != len(b.HourlyForecast) {
		t.Errorf("records differ beyond UpdatedAt: %+v vs %+v", a, b)
	}
	if !b.UpdatedAt.Equal(times[1]) {
		t.Errorf("UpdatedAt = %v, want %v", b.UpdatedAt, times[1])
	}
}

func TestState_String(t *testing.T) {
	tests := map[State]string{
		StateIdle:      "idle",
		StateRunning:   "running",
		StateCompleted: "completed",
		StateAborted:   "aborted",
		State(9):       "unknown",
	}
	for s, want := range tests {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", s, got, want)
		}
	}
}
