package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/kjstillabower/weather-sync/internal/models"
)

const (
	maxHourly = 24
	maxDaily  = 8
)

type weatherDescription struct {
	Main        string `json:"main"`
	Description string `json:"description"`
}

type coordResponse struct {
	Lon *float64 `json:"lon"`
	Lat *float64 `json:"lat"`
}

type openWeatherResponse struct {
	Coord *coordResponse `json:"coord"`
	Main  *struct {
		Temp     *float64 `json:"temp"`
		Humidity *float64 `json:"humidity"`
		Pressure *float64 `json:"pressure"`
	} `json:"main"`
	Wind *struct {
		Speed *float64 `json:"speed"`
		Deg   *float64 `json:"deg"`
	} `json:"wind"`
	Visibility *float64             `json:"visibility"`
	Weather    []weatherDescription `json:"weather"`
}

type oneCallResponse struct {
	Lat     *float64 `json:"lat"`
	Lon     *float64 `json:"lon"`
	Current *struct {
		Temp       *float64             `json:"temp"`
		Humidity   *float64             `json:"humidity"`
		Pressure   *float64             `json:"pressure"`
		WindSpeed  *float64             `json:"wind_speed"`
		WindDeg    *float64             `json:"wind_deg"`
		Visibility *float64             `json:"visibility"`
		Weather    []weatherDescription `json:"weather"`
	} `json:"current"`
	Hourly []struct {
		Dt   int64    `json:"dt"`
		Temp *float64 `json:"temp"`
	} `json:"hourly"`
	Daily []struct {
		Dt   int64 `json:"dt"`
		Temp *struct {
			Day *float64 `json:"day"`
			Min *float64 `json:"min"`
			Max *float64 `json:"max"`
		} `json:"temp"`
	} `json:"daily"`
}

type forecastResponse struct {
	List []struct {
		Dt   int64 `json:"dt"`
		Main *struct {
			Temp    *float64 `json:"temp"`
			TempMin *float64 `json:"temp_min"`
			TempMax *float64 `json:"temp_max"`
		} `json:"main"`
	} `json:"list"`
}

type airPollutionResponse struct {
	List []struct {
		Main *struct {
			AQI int `json:"aqi"`
		} `json:"main"`
	} `json:"list"`
}

var (
	errMissingTemp     = errors.New("missing main.temp")
	errMissingCurrent  = errors.New("missing current.temp")
	errMissingForecast = errors.New("missing hourly and daily forecast")
	errMissingList     = errors.New("missing forecast list")
)

func parseWeather(body []byte) (models.RawWeather, error) {
	var resp openWeatherResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return models.RawWeather{}, fmt.Errorf("parse response: %w", err)
	}
	if resp.Main == nil || resp.Main.Temp == nil {
		return models.RawWeather{}, errMissingTemp
	}

	w := models.RawWeather{
		Temperature: *resp.Main.Temp,
		Humidity:    resp.Main.Humidity,
		Pressure:    resp.Main.Pressure,
		Visibility:  roundPtr(resp.Visibility),
		Description: describe(resp.Weather),
	}
	if resp.Wind != nil {
		w.WindSpeed = resp.Wind.Speed
		w.WindDirection = resp.Wind.Deg
	}
	if resp.Coord != nil && resp.Coord.Lat != nil && resp.Coord.Lon != nil {
		c := models.Coordinates{Lat: *resp.Coord.Lat, Lon: *resp.Coord.Lon}
		if c.Valid() {
			w.Coords = &c
		}
	}
	return w, nil
}

// parseOneCall decodes a onecall body. withCurrent requires the current block.
func parseOneCall(body []byte, withCurrent bool) (models.RawWeather, models.RawForecast, error) {
	var resp oneCallResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return models.RawWeather{}, models.RawForecast{}, fmt.Errorf("parse response: %w", err)
	}

	var w models.RawWeather
	if withCurrent {
		if resp.Current == nil || resp.Current.Temp == nil {
			return models.RawWeather{}, models.RawForecast{}, errMissingCurrent
		}
		cur := resp.Current
		w = models.RawWeather{
			Temperature:   *cur.Temp,
			Humidity:      cur.Humidity,
			Pressure:      cur.Pressure,
			WindSpeed:     cur.WindSpeed,
			WindDirection: cur.WindDeg,
			Visibility:    roundPtr(cur.Visibility),
			Description:   describe(cur.Weather),
		}
		if resp.Lat != nil && resp.Lon != nil {
			w.Coords = &models.Coordinates{Lat: *resp.Lat, Lon: *resp.Lon}
		}
	} else if resp.Hourly == nil && resp.Daily == nil {
		return models.RawWeather{}, models.RawForecast{}, errMissingForecast
	}

	var f models.RawForecast
	for _, h := range resp.Hourly {
		if h.Temp == nil {
			continue
		}
		if len(f.Hourly) == maxHourly {
			break
		}
		f.Hourly = append(f.Hourly, models.HourlyPoint{Time: time.Unix(h.Dt, 0).UTC(), Temperature: *h.Temp})
	}
	for _, d := range resp.Daily {
		if d.Temp == nil {
			continue
		}
		if len(f.Daily) == maxDaily {
			break
		}
		f.Daily = append(f.Daily, models.DailyPoint{
			Date:        time.Unix(d.Dt, 0).UTC().Format("2006-01-02"),
			Temperature: d.Temp.Day,
			Min:         d.Temp.Min,
			Max:         d.Temp.Max,
		})
	}
	return w, f, nil
}

// parseForecast decodes the 3-hourly 2.5 forecast. The first entries become the
// hourly series; daily min/max are folded per UTC date in list order.
func parseForecast(body []byte) (models.RawForecast, error) {
	var resp forecastResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return models.RawForecast{}, fmt.Errorf("parse response: %w", err)
	}
	if resp.List == nil {
		return models.RawForecast{}, errMissingList
	}

	var f models.RawForecast
	dayIndex := map[string]int{}
	for _, item := range resp.List {
		if item.Main == nil || item.Main.Temp == nil {
			continue
		}
		ts := time.Unix(item.Dt, 0).UTC()
		temp := *item.Main.Temp
		if len(f.Hourly) < maxHourly {
			f.Hourly = append(f.Hourly, models.HourlyPoint{Time: ts, Temperature: temp})
		}

		lo, hi := temp, temp
		if item.Main.TempMin != nil {
			lo = *item.Main.TempMin
		}
		if item.Main.TempMax != nil {
			hi = *item.Main.TempMax
		}

		date := ts.Format("2006-01-02")
		i, ok := dayIndex[date]
		if !ok {
			if len(f.Daily) == maxDaily {
				continue
			}
			f.Daily = append(f.Daily, models.DailyPoint{Date: date, Min: floatPtr(lo), Max: floatPtr(hi)})
			dayIndex[date] = len(f.Daily) - 1
			continue
		}
		d := &f.Daily[i]
		if lo < *d.Min {
			d.Min = floatPtr(lo)
		}
		if hi > *d.Max {
			d.Max = floatPtr(hi)
		}
	}
	return f, nil
}

func parseAirQuality(body []byte) (int, error) {
	var resp airPollutionResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, fmt.Errorf("parse response: %w", err)
	}
	if len(resp.List) == 0 || resp.List[0].Main == nil {
		return 0, nil
	}
	return resp.List[0].Main.AQI, nil
}

func describe(items []weatherDescription) *string {
	if len(items) == 0 {
		return nil
	}
	desc := items[0].Description
	if desc == "" {
		desc = items[0].Main
	}
	if desc == "" {
		return nil
	}
	return &desc
}

func floatPtr(v float64) *float64 {
	return &v
}

// roundPtr converts metres reported as a JSON number to whole metres.
func roundPtr(v *float64) *int {
	if v == nil {
		return nil
	}
	n := int(math.Round(*v))
	return &n
}
