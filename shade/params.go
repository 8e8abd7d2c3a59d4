// Package shade colours elevation grids: hillshading, slope, altitude
// bands and contour lines.
package shade

import (
	"errors"
	"fmt"
	"image/color"
	"math"
	"sort"
	"strings"
	"sync"
)

var (
	ErrBreaks   = errors.New("altitude breaks must be strictly increasing")
	ErrColours  = errors.New("colour count must be break count plus one")
	ErrIndex    = errors.New("index out of range")
	ErrInterval = errors.New("contour interval must be positive")
	ErrMode     = errors.New("unknown shading mode")
)

//Mode display mode of the terrain shader
type Mode int

// Shading modes.
const (
	Altitude Mode = iota
	Shading
	LightShading
	FreeShading
	Slope
	Colour
	ShadingColour
	Contour
)

var modeNames = []string{"altitude", "shading", "light_shading", "free_shading", "slope", "colour", "shading_colour", "contour"}

func (m Mode) String() string {
	if m < 0 || int(m) >= len(modeNames) {
		return fmt.Sprintf("mode(%d)", int(m))
	}
	return modeNames[m]
}

//ParseMode reads a mode by name, case and dashes are ignored
func ParseMode(s string) (Mode, error) {
	s = strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_")
	for i, n := range modeNames {
		if n == s || strings.ReplaceAll(n, "_", "") == s {
			return Mode(i), nil
		}
	}
	return Altitude, fmt.Errorf("%w: %q", ErrMode, s)
}

// Defaults.
const (
	DefaultNoData          = -999.0
	DefaultContourInterval = 50.0
	DefaultAzimuth         = 135.0
	DefaultZenith          = 45.0
	LightAzimuth           = 135.0
	LightZenith            = 65.0
)

var (
	DefaultBreaks  = []float64{0, 200, 400, 600, 5500}
	DefaultColours = []color.RGBA{
		{3, 34, 76, 255},
		{64, 128, 128, 255},
		{255, 255, 0, 255},
		{255, 128, 0, 255},
		{128, 64, 0, 255},
		{240, 240, 240, 255},
	}
	OutOfArea = color.RGBA{255, 0, 0, 255}
)

//Settings immutable view of the shading parameters used by one pass
type Settings struct {
	NoData          float64
	Z               []float64
	Colours         []color.RGBA
	Mode            Mode
	ContourInterval float64
	Azimuth         float64
	Zenith          float64
	OutOfArea       color.RGBA
}

func DefaultSettings() Settings {
	return Settings{
		NoData:          DefaultNoData,
		Z:               append([]float64(nil), DefaultBreaks...),
		Colours:         append([]color.RGBA(nil), DefaultColours...),
		Mode:            LightShading,
		ContourInterval: DefaultContourInterval,
		Azimuth:         DefaultAzimuth,
		Zenith:          DefaultZenith,
		OutOfArea:       OutOfArea,
	}
}

//Validate checks breaks and colours agree
func (s Settings) Validate() error {
	if len(s.Z) == 0 {
		return ErrBreaks
	}
	for i := 1; i < len(s.Z); i++ {
		if s.Z[i] <= s.Z[i-1] {
			return fmt.Errorf("%w: %v", ErrBreaks, s.Z)
		}
	}
	if len(s.Colours) != len(s.Z)+1 {
		return fmt.Errorf("%w: %d breaks, %d colours", ErrColours, len(s.Z), len(s.Colours))
	}
	if s.ContourInterval <= 0 {
		return ErrInterval
	}
	if s.Mode < Altitude || s.Mode > Contour {
		return ErrMode
	}
	return nil
}

func (s Settings) clone() Settings {
	s.Z = append([]float64(nil), s.Z...)
	s.Colours = append([]color.RGBA(nil), s.Colours...)
	return s
}

//Params shared, editable shading parameters
type Params struct {
	mu sync.RWMutex
	s  Settings
}

//NewParams params initialised from s
func NewParams(s Settings) (*Params, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &Params{s: s.clone()}, nil
}

//Snapshot copy of the current settings
func (p *Params) Snapshot() Settings {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.s.clone()
}

func (p *Params) Mode() Mode {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.s.Mode
}

func (p *Params) SetMode(m Mode) error {
	if m < Altitude || m > Contour {
		return ErrMode
	}
	p.mu.Lock()
	p.s.Mode = m
	p.mu.Unlock()
	return nil
}

func (p *Params) SetNoData(v float64) {
	p.mu.Lock()
	p.s.NoData = v
	p.mu.Unlock()
}

func (p *Params) SetContourInterval(step float64) error {
	if step <= 0 {
		return ErrInterval
	}
	p.mu.Lock()
	p.s.ContourInterval = step
	p.mu.Unlock()
	return nil
}

//SetLight sets the free light, zenith is clamped to [0, 90]
func (p *Params) SetLight(azimuth, zenith float64) {
	if zenith < 0 {
		zenith = 0
	}
	if zenith > 90 {
		zenith = 90
	}
	p.mu.Lock()
	p.s.Azimuth, p.s.Zenith = azimuth, zenith
	p.mu.Unlock()
}

func (p *Params) SetColour(i int, c color.RGBA) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if i < 0 || i >= len(p.s.Colours) {
		return fmt.Errorf("%w: colour %d", ErrIndex, i)
	}
	c.A = 255
	p.s.Colours[i] = c
	return nil
}

//AddAltitude inserts a break at z with the colour the ramp had there
func (p *Params) AddAltitude(z float64) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	k := sort.SearchFloat64s(p.s.Z, z)
	if k < len(p.s.Z) && p.s.Z[k] == z {
		return k, fmt.Errorf("%w: %v already present", ErrBreaks, z)
	}
	c := p.s.Band(z)
	p.s.Z = append(p.s.Z, 0)
	copy(p.s.Z[k+1:], p.s.Z[k:])
	p.s.Z[k] = z
	p.s.Colours = append(p.s.Colours, color.RGBA{})
	copy(p.s.Colours[k+1:], p.s.Colours[k:])
	p.s.Colours[k] = c
	return k, nil
}

//SetAltitude moves break i to z, its colour travels with it,
//returns the new index of the break
func (p *Params) SetAltitude(i int, z float64) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if i < 0 || i >= len(p.s.Z) {
		return i, fmt.Errorf("%w: break %d", ErrIndex, i)
	}
	if math.IsNaN(z) || math.IsInf(z, 0) {
		return i, fmt.Errorf("%w: %v", ErrBreaks, z)
	}
	if p.s.Z[i] == z {
		return i, nil
	}
	k := sort.SearchFloat64s(p.s.Z, z)
	if k < len(p.s.Z) && p.s.Z[k] == z {
		return i, fmt.Errorf("%w: %v already present", ErrBreaks, z)
	}
	c := p.s.Colours[i]
	p.s.Z = append(p.s.Z[:i], p.s.Z[i+1:]...)
	p.s.Colours = append(p.s.Colours[:i], p.s.Colours[i+1:]...)
	k = sort.SearchFloat64s(p.s.Z, z)
	p.s.Z = append(p.s.Z, 0)
	copy(p.s.Z[k+1:], p.s.Z[k:])
	p.s.Z[k] = z
	p.s.Colours = append(p.s.Colours, color.RGBA{})
	copy(p.s.Colours[k+1:], p.s.Colours[k:])
	p.s.Colours[k] = c
	return k, nil
}

//RemoveAltitude drops break i and its colour, the last break stays
func (p *Params) RemoveAltitude(i int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if i < 0 || i >= len(p.s.Z) || len(p.s.Z) == 1 {
		return fmt.Errorf("%w: break %d", ErrIndex, i)
	}
	p.s.Z = append(p.s.Z[:i], p.s.Z[i+1:]...)
	p.s.Colours = append(p.s.Colours[:i], p.s.Colours[i+1:]...)
	return nil
}

//Replace swaps every setting at once
func (p *Params) Replace(s Settings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	p.mu.Lock()
	p.s = s.clone()
	p.mu.Unlock()
	return nil
}
