package pv

import (
	"math"
	"time"
)

const solarConstant = 1353.0

// Site locates an array. Angles are radians, elevation is kilometres.
type Site struct {
	Latitude  float64
	Elevation float64
	Tilt      float64
}

// TotalIrradiance is the direct plus diffuse radiation on the array face, W/m^2.
func TotalIrradiance(s Site, t time.Time) float64 {
	elev := elevationAngle(s, t)
	if elev <= 0 {
		return 0
	}
	direct, diffuse := intensity(s, elev)

	angle := incidentAngle(s, t)
	if angle > math.Pi/2 {
		return diffuse
	}
	return direct*math.Cos(angle) + diffuse
}

// intensity is the clear-sky direct and diffuse radiation for a sun elev
// radians above the horizon.
func intensity(s Site, elev float64) (float64, float64) {
	airMass := 1 / math.Sin(elev)
	x := math.Pow(0.7, math.Pow(airMass, 0.678))
	h := s.Elevation * 0.14

	direct := (x*(1-h) + h) * solarConstant
	return direct, direct * 0.1
}

func incidentAngle(s Site, t time.Time) float64 {
	d := declinationAngle(t)
	x := math.Cos(hourAngle(t)) * math.Cos(d) * math.Cos(s.Latitude-s.Tilt)
	y := math.Sin(d) * math.Sin(s.Latitude-s.Tilt)
	return math.Acos(math.Max(-1, math.Min(1, x+y)))
}

func elevationAngle(s Site, t time.Time) float64 {
	d := declinationAngle(t)
	x := math.Sin(d) * math.Sin(s.Latitude)
	y := math.Cos(d) * math.Cos(s.Latitude) * math.Cos(hourAngle(t))
	return math.Asin(math.Max(-1, math.Min(1, x+y)))
}

func hourAngle(t time.Time) float64 {
	hourOfDay := float64(t.Hour()*3600+t.Minute()*60+t.Second()) / 3600
	return (hourOfDay - 12) * 15 * (math.Pi / 180)
}

// daylight returns the hours of sun either side of solar noon on t's day.
func daylight(s Site, t time.Time) float64 {
	d := declinationAngle(t)
	c := -math.Tan(s.Latitude) * math.Tan(d)
	switch {
	case c >= 1:
		return 0
	case c <= -1:
		return 12
	}
	return math.Acos(c) * (180 / math.Pi) / 15
}

// Sunrise is the local solar time of sunrise on t's day.
func Sunrise(s Site, t time.Time) time.Time {
	return clockTime(t, 12-daylight(s, t))
}

// Sunset is the local solar time of sunset on t's day.
func Sunset(s Site, t time.Time) time.Time {
	return clockTime(t, 12+daylight(s, t))
}

func clockTime(t time.Time, hours float64) time.Time {
	midnight := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	return midnight.Add(time.Duration(hours * float64(time.Hour)))
}

func declinationAngle(t time.Time) float64 {
	x := math.Sin((float64(t.YearDay()) - 81) * 2 * math.Pi / 365.25)
	return math.Asin(x * math.Sin(0.40928))
}
