package pv

import (
	"errors"
	"math"
	"time"

	opensimplex "github.com/ojrac/opensimplex-go"

	"github.com/ohowland/colony_grid/internal/pkg/asset"
)

// Kind is the configuration name of the device.
const Kind = "pv"

// standard test condition irradiance, W/m^2
const ratedIrradiance = 1000.0

// dust storms evolve over roughly this many seconds of clock time
const dustPeriod = 6 * 3600.0

var (
	// ErrNegativeRating is returned for an array rated below zero.
	ErrNegativeRating = errors.New("pv: rated output must not be negative")
	// ErrDustScale is returned when the dust scale is outside [0, 1].
	ErrDustScale = errors.New("pv: dust scale must be between 0 and 1")
)

// Config holds the PV array configuration parameters. Angles are degrees.
type Config struct {
	Name        string  `json:"Name" yaml:"name"`
	Rated       float64 `json:"Rated" yaml:"rated"`
	LatitudeDeg float64 `json:"LatitudeDeg" yaml:"latitude_deg"`
	ElevationKm float64 `json:"ElevationKm" yaml:"elevation_km"`
	TiltDeg     float64 `json:"TiltDeg" yaml:"tilt_deg"`
	DustSeed    int64   `json:"DustSeed" yaml:"dust_seed"`
	DustScale   float64 `json:"DustScale" yaml:"dust_scale"`
}

// Asset is a solar array. Its output follows the sun as seen by the host
// clock, attenuated by drifting dust.
type Asset struct {
	asset.Node
	config Config
	site   Site
	dust   opensimplex.Noise
	clock  func() time.Time
}

// New returns a configured Asset that reads time from clock. A nil clock
// means time.Now.
func New(cfg Config, clock func() time.Time) (*Asset, error) {
	node, err := asset.NewNode(cfg.Name)
	if err != nil {
		return nil, err
	}
	if cfg.Rated < 0 {
		return nil, ErrNegativeRating
	}
	if cfg.DustScale < 0 || cfg.DustScale > 1 {
		return nil, ErrDustScale
	}
	if clock == nil {
		clock = time.Now
	}

	degToRad := math.Pi / 180
	return &Asset{
		Node:   node,
		config: cfg,
		site: Site{
			Latitude:  cfg.LatitudeDeg * degToRad,
			Elevation: cfg.ElevationKm,
			Tilt:      cfg.TiltDeg * degToRad,
		},
		dust:  opensimplex.NewNormalized(cfg.DustSeed),
		clock: clock,
	}, nil
}

// Kind is the device kind.
func (a *Asset) Kind() string {
	return Kind
}

// Config returns the array configuration.
func (a *Asset) Config() Config {
	return a.config
}

// Daylight returns sunrise and sunset on the clock's current day.
func (a *Asset) Daylight() (time.Time, time.Time) {
	now := a.clock()
	return Sunrise(a.site, now), Sunset(a.site, now)
}

// GenerationRate is zero between sunset and sunrise.
func (a *Asset) GenerationRate() float64 {
	now := a.clock()
	rise, set := Sunrise(a.site, now), Sunset(a.site, now)
	if now.Before(rise) || !now.Before(set) {
		return 0
	}
	irr := TotalIrradiance(a.site, now)
	if irr <= 0 {
		return 0
	}
	return math.Max(0, a.config.Rated*irr/ratedIrradiance*(1-a.Dust(now)))
}

// Dust is the fraction of sunlight lost to dust at t, in [0, DustScale].
func (a *Asset) Dust(t time.Time) float64 {
	if a.config.DustScale == 0 {
		return 0
	}
	x := float64(t.Unix()) / dustPeriod
	return a.config.DustScale * a.dust.Eval2(x, 0)
}

// Status returns the device reading.
func (a *Asset) Status() asset.Status {
	rise, set := a.Daylight()
	return asset.Status{
		PID:        a.PID(),
		Name:       a.Name(),
		Kind:       Kind,
		Network:    a.NetworkID(),
		Generation: a.GenerationRate(),
		On:         true,
		Powered:    true,
		Sunrise:    &rise,
		Sunset:     &set,
	}
}
