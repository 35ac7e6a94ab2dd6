package collector

import "time"

// DataKind names the provider a pipeline pulls from.
type DataKind string

const (
	KindWeather DataKind = "weather"
	KindTraffic DataKind = "traffic"
)

// GeoPoint is a named location polled on every run. Coordinates are kept as
// the decimal strings they were configured with.
type GeoPoint struct {
	ID        int    `yaml:"id" json:"id" validate:"required,gt=0"`
	Name      string `yaml:"name" json:"name" validate:"required"`
	Latitude  string `yaml:"latitude" json:"latitude" validate:"required,latitude"`
	Longitude string `yaml:"longitude" json:"longitude" validate:"required,longitude"`
}

// Coordinates returns "lat,lon".
func (g GeoPoint) Coordinates() string {
	return g.Latitude + "," + g.Longitude
}

// Record is one normalized row bound for a table.
type Record interface {
	Kind() DataKind
	GeoName() string
	// Columns and Values are parallel slices in table column order.
	Columns() []string
	Values() []interface{}
}

// Stamp holds the date and time attached to a record at normalization.
type Stamp struct {
	Date string
	Time string
}

// NewStamp formats t as YYYY-MM-DD and HH:MM in t's location.
func NewStamp(t time.Time) Stamp {
	return Stamp{Date: t.Format("2006-01-02"), Time: t.Format("15:04")}
}

// TrafficRecord is a flattened flow segment reading.
type TrafficRecord struct {
	Date                string  `json:"date" bigquery:"date" parquet:"name=date, type=BYTE_ARRAY, convertedtype=UTF8"`
	Time                string  `json:"time" bigquery:"time" parquet:"name=time, type=BYTE_ARRAY, convertedtype=UTF8"`
	GeoNameValue        string  `json:"geo_name" bigquery:"geo_name" parquet:"name=geo_name, type=BYTE_ARRAY, convertedtype=UTF8"`
	Latitude            string  `json:"latitude" bigquery:"latitude" parquet:"name=latitude, type=BYTE_ARRAY, convertedtype=UTF8"`
	Longitude           string  `json:"longitude" bigquery:"longitude" parquet:"name=longitude, type=BYTE_ARRAY, convertedtype=UTF8"`
	RoadClass           string  `json:"road_class" bigquery:"road_class" parquet:"name=road_class, type=BYTE_ARRAY, convertedtype=UTF8"`
	CurrentSpeed        int64   `json:"current_speed" bigquery:"current_speed" parquet:"name=current_speed, type=INT64"`
	FreeFlowSpeed       int64   `json:"free_flow_speed" bigquery:"free_flow_speed" parquet:"name=free_flow_speed, type=INT64"`
	CurrentTravelTime   int64   `json:"current_travel_time" bigquery:"current_travel_time" parquet:"name=current_travel_time, type=INT64"`
	FreeFlowTravelTime  int64   `json:"free_flow_travel_time" bigquery:"free_flow_travel_time" parquet:"name=free_flow_travel_time, type=INT64"`
	Confidence          float64 `json:"confidence" bigquery:"confidence" parquet:"name=confidence, type=DOUBLE"`
	RoadClosure         bool    `json:"road_closure" bigquery:"road_closure" parquet:"name=road_closure, type=BOOLEAN"`
	OriginalCoordinates string  `json:"original_coordinates" bigquery:"original_coordinates" parquet:"name=original_coordinates, type=BYTE_ARRAY, convertedtype=UTF8"`
	FirstCoordinates    string  `json:"first_coordinates" bigquery:"first_coordinates" parquet:"name=first_coordinates, type=BYTE_ARRAY, convertedtype=UTF8"`
	LastCoordinates     string  `json:"last_coordinates" bigquery:"last_coordinates" parquet:"name=last_coordinates, type=BYTE_ARRAY, convertedtype=UTF8"`
}

var trafficColumns = []string{
	"date", "time", "geo_name", "latitude", "longitude", "road_class",
	"current_speed", "free_flow_speed", "current_travel_time", "free_flow_travel_time",
	"confidence", "road_closure", "original_coordinates", "first_coordinates", "last_coordinates",
}

func (r *TrafficRecord) Kind() DataKind    { return KindTraffic }
func (r *TrafficRecord) GeoName() string   { return r.GeoNameValue }
func (r *TrafficRecord) Columns() []string { return trafficColumns }

func (r *TrafficRecord) Values() []interface{} {
	return []interface{}{
		r.Date, r.Time, r.GeoNameValue, r.Latitude, r.Longitude, r.RoadClass,
		r.CurrentSpeed, r.FreeFlowSpeed, r.CurrentTravelTime, r.FreeFlowTravelTime,
		r.Confidence, r.RoadClosure, r.OriginalCoordinates, r.FirstCoordinates, r.LastCoordinates,
	}
}

// WeatherRecord is a flattened current-conditions reading. Temperatures are Celsius.
type WeatherRecord struct {
	Date                 string  `json:"date" bigquery:"date" parquet:"name=date, type=BYTE_ARRAY, convertedtype=UTF8"`
	Time                 string  `json:"time" bigquery:"time" parquet:"name=time, type=BYTE_ARRAY, convertedtype=UTF8"`
	GeoNameValue         string  `json:"geo_name" bigquery:"geo_name" parquet:"name=geo_name, type=BYTE_ARRAY, convertedtype=UTF8"`
	OriginalCoordinates  string  `json:"original_coordinates" bigquery:"original_coordinates" parquet:"name=original_coordinates, type=BYTE_ARRAY, convertedtype=UTF8"`
	Country              string  `json:"country" bigquery:"country" parquet:"name=country, type=BYTE_ARRAY, convertedtype=UTF8"`
	CityAreaName         string  `json:"city_area_name" bigquery:"city_area_name" parquet:"name=city_area_name, type=BYTE_ARRAY, convertedtype=UTF8"`
	WeatherMain          string  `json:"weather_main" bigquery:"weather_main" parquet:"name=weather_main, type=BYTE_ARRAY, convertedtype=UTF8"`
	WeatherDescription   string  `json:"weather_description" bigquery:"weather_description" parquet:"name=weather_description, type=BYTE_ARRAY, convertedtype=UTF8"`
	Temperature          float64 `json:"temperature" bigquery:"temperature" parquet:"name=temperature, type=DOUBLE"`
	FeelsLike            float64 `json:"feels_like" bigquery:"feels_like" parquet:"name=feels_like, type=DOUBLE"`
	TempMin              float64 `json:"temp_min" bigquery:"temp_min" parquet:"name=temp_min, type=DOUBLE"`
	TempMax              float64 `json:"temp_max" bigquery:"temp_max" parquet:"name=temp_max, type=DOUBLE"`
	Pressure             int64   `json:"pressure" bigquery:"pressure" parquet:"name=pressure, type=INT64"`
	HumidityPercent      int64   `json:"humidity_percent" bigquery:"humidity_percent" parquet:"name=humidity_percent, type=INT64"`
	Visibility           int64   `json:"visibility" bigquery:"visibility" parquet:"name=visibility, type=INT64"`
	WindSpeed            float64 `json:"wind_speed" bigquery:"wind_speed" parquet:"name=wind_speed, type=DOUBLE"`
	WindDirectionDegrees int64   `json:"wind_direction_degrees" bigquery:"wind_direction_degrees" parquet:"name=wind_direction_degrees, type=INT64"`
	CloudinessPercent    int64   `json:"cloudiness_percent" bigquery:"cloudiness_percent" parquet:"name=cloudiness_percent, type=INT64"`
}

var weatherColumns = []string{
	"date", "time", "geo_name", "original_coordinates", "country", "city_area_name",
	"weather_main", "weather_description", "temperature", "feels_like", "temp_min", "temp_max",
	"pressure", "humidity_percent", "visibility", "wind_speed", "wind_direction_degrees", "cloudiness_percent",
}

func (r *WeatherRecord) Kind() DataKind    { return KindWeather }
func (r *WeatherRecord) GeoName() string   { return r.GeoNameValue }
func (r *WeatherRecord) Columns() []string { return weatherColumns }

func (r *WeatherRecord) Values() []interface{} {
	return []interface{}{
		r.Date, r.Time, r.GeoNameValue, r.OriginalCoordinates, r.Country, r.CityAreaName,
		r.WeatherMain, r.WeatherDescription, r.Temperature, r.FeelsLike, r.TempMin, r.TempMax,
		r.Pressure, r.HumidityPercent, r.Visibility, r.WindSpeed, r.WindDirectionDegrees, r.CloudinessPercent,
	}
}
