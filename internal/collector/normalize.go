package collector

import (
	"encoding/json"
	"math"
	"time"
)

// kelvinOffset converts Kelvin to Celsius by subtraction.
const kelvinOffset = 273.15

// wholeNumber reads an integer column. Providers occasionally send a fraction
// such as 31.0; it is rounded rather than rejected.
func wholeNumber(n json.Number) (int64, error) {
	if i, err := n.Int64(); err == nil {
		return i, nil
	}
	f, err := n.Float64()
	if err != nil {
		return 0, err
	}
	return int64(math.Round(f)), nil
}

// intFields converts several numeric fields, stopping at the first bad one.
type intFields struct {
	kind DataKind
	geo  string
	err  error
}

func (c *intFields) get(field string, n *json.Number) int64 {
	if c.err != nil {
		return 0
	}
	v, err := wholeNumber(*n)
	if err != nil {
		c.err = &NormalizeError{Kind: c.kind, GeoName: c.geo, Field: field, Err: err}
	}
	return v
}

type coordinate struct {
	Latitude  json.Number `json:"latitude"`
	Longitude json.Number `json:"longitude"`
}

func (c coordinate) String() string {
	return c.Latitude.String() + "," + c.Longitude.String()
}

type trafficPayload struct {
	FlowSegmentData *struct {
		FRC                *string      `json:"frc"`
		CurrentSpeed       *json.Number `json:"currentSpeed"`
		FreeFlowSpeed      *json.Number `json:"freeFlowSpeed"`
		CurrentTravelTime  *json.Number `json:"currentTravelTime"`
		FreeFlowTravelTime *json.Number `json:"freeFlowTravelTime"`
		Confidence         *float64     `json:"confidence"`
		RoadClosure        *bool        `json:"roadClosure"`
		Coordinates        *struct {
			Coordinate []coordinate `json:"coordinate"`
		} `json:"coordinates"`
	} `json:"flowSegmentData"`
}

// NormalizeTraffic flattens a flow segment payload. Every field is required;
// a missing one yields a *NormalizeError and no record.
func NormalizeTraffic(raw []byte, point GeoPoint, now time.Time) (Record, error) {
	var p trafficPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, &NormalizeError{Kind: KindTraffic, GeoName: point.Name, Err: err}
	}

	missing := func(field string) error { return missingField(KindTraffic, point.Name, field) }

	f := p.FlowSegmentData
	switch {
	case f == nil:
		return nil, missing("flowSegmentData")
	case f.FRC == nil:
		return nil, missing("flowSegmentData.frc")
	case f.CurrentSpeed == nil:
		return nil, missing("flowSegmentData.currentSpeed")
	case f.FreeFlowSpeed == nil:
		return nil, missing("flowSegmentData.freeFlowSpeed")
	case f.CurrentTravelTime == nil:
		return nil, missing("flowSegmentData.currentTravelTime")
	case f.FreeFlowTravelTime == nil:
		return nil, missing("flowSegmentData.freeFlowTravelTime")
	case f.Confidence == nil:
		return nil, missing("flowSegmentData.confidence")
	case f.RoadClosure == nil:
		return nil, missing("flowSegmentData.roadClosure")
	case f.Coordinates == nil || len(f.Coordinates.Coordinate) == 0:
		return nil, missing("flowSegmentData.coordinates.coordinate")
	}

	coords := f.Coordinates.Coordinate
	first, last := coords[0], coords[len(coords)-1]
	for _, c := range []coordinate{first, last} {
		if c.Latitude == "" || c.Longitude == "" {
			return nil, missing("flowSegmentData.coordinates.coordinate")
		}
	}

	ints := &intFields{kind: KindTraffic, geo: point.Name}
	rec := &TrafficRecord{
		GeoNameValue:        point.Name,
		Latitude:            point.Latitude,
		Longitude:           point.Longitude,
		RoadClass:           *f.FRC,
		CurrentSpeed:        ints.get("flowSegmentData.currentSpeed", f.CurrentSpeed),
		FreeFlowSpeed:       ints.get("flowSegmentData.freeFlowSpeed", f.FreeFlowSpeed),
		CurrentTravelTime:   ints.get("flowSegmentData.currentTravelTime", f.CurrentTravelTime),
		FreeFlowTravelTime:  ints.get("flowSegmentData.freeFlowTravelTime", f.FreeFlowTravelTime),
		Confidence:          *f.Confidence,
		RoadClosure:         *f.RoadClosure,
		OriginalCoordinates: point.Coordinates(),
		FirstCoordinates:    first.String(),
		LastCoordinates:     last.String(),
	}
	if ints.err != nil {
		return nil, ints.err
	}
	stamp := NewStamp(now)
	rec.Date, rec.Time = stamp.Date, stamp.Time
	return rec, nil
}

type weatherPayload struct {
	Weather []struct {
		Main        *string `json:"main"`
		Description *string `json:"description"`
	} `json:"weather"`
	Main *struct {
		Temp      *float64     `json:"temp"`
		FeelsLike *float64     `json:"feels_like"`
		TempMin   *float64     `json:"temp_min"`
		TempMax   *float64     `json:"temp_max"`
		Pressure  *json.Number `json:"pressure"`
		Humidity  *json.Number `json:"humidity"`
	} `json:"main"`
	Visibility *json.Number `json:"visibility"`
	Wind       *struct {
		Speed *float64     `json:"speed"`
		Deg   *json.Number `json:"deg"`
	} `json:"wind"`
	Clouds *struct {
		All *json.Number `json:"all"`
	} `json:"clouds"`
	Sys *struct {
		Country *string `json:"country"`
	} `json:"sys"`
	Name *string `json:"name"`
}

// NormalizeWeather flattens a current-conditions payload and converts the
// four temperature readings from Kelvin to Celsius.
func NormalizeWeather(raw []byte, point GeoPoint, now time.Time) (Record, error) {
	var p weatherPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, &NormalizeError{Kind: KindWeather, GeoName: point.Name, Err: err}
	}

	missing := func(field string) error { return missingField(KindWeather, point.Name, field) }

	switch {
	case len(p.Weather) == 0:
		return nil, missing("weather")
	case p.Weather[0].Main == nil:
		return nil, missing("weather[0].main")
	case p.Weather[0].Description == nil:
		return nil, missing("weather[0].description")
	case p.Main == nil:
		return nil, missing("main")
	case p.Main.Temp == nil:
		return nil, missing("main.temp")
	case p.Main.FeelsLike == nil:
		return nil, missing("main.feels_like")
	case p.Main.TempMin == nil:
		return nil, missing("main.temp_min")
	case p.Main.TempMax == nil:
		return nil, missing("main.temp_max")
	case p.Main.Pressure == nil:
		return nil, missing("main.pressure")
	case p.Main.Humidity == nil:
		return nil, missing("main.humidity")
	case p.Visibility == nil:
		return nil, missing("visibility")
	case p.Wind == nil:
		return nil, missing("wind")
	case p.Wind.Speed == nil:
		return nil, missing("wind.speed")
	case p.Wind.Deg == nil:
		return nil, missing("wind.deg")
	case p.Clouds == nil || p.Clouds.All == nil:
		return nil, missing("clouds.all")
	case p.Sys == nil || p.Sys.Country == nil:
		return nil, missing("sys.country")
	case p.Name == nil:
		return nil, missing("name")
	}

	ints := &intFields{kind: KindWeather, geo: point.Name}
	rec := &WeatherRecord{
		GeoNameValue:         point.Name,
		OriginalCoordinates:  point.Coordinates(),
		Country:              *p.Sys.Country,
		CityAreaName:         *p.Name,
		WeatherMain:          *p.Weather[0].Main,
		WeatherDescription:   *p.Weather[0].Description,
		Temperature:          *p.Main.Temp - kelvinOffset,
		FeelsLike:            *p.Main.FeelsLike - kelvinOffset,
		TempMin:              *p.Main.TempMin - kelvinOffset,
		TempMax:              *p.Main.TempMax - kelvinOffset,
		Pressure:             ints.get("main.pressure", p.Main.Pressure),
		HumidityPercent:      ints.get("main.humidity", p.Main.Humidity),
		Visibility:           ints.get("visibility", p.Visibility),
		WindSpeed:            *p.Wind.Speed,
		WindDirectionDegrees: ints.get("wind.deg", p.Wind.Deg),
		CloudinessPercent:    ints.get("clouds.all", p.Clouds.All),
	}
	if ints.err != nil {
		return nil, ints.err
	}
	stamp := NewStamp(now)
	rec.Date, rec.Time = stamp.Date, stamp.Time
	return rec, nil
}
