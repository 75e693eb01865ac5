// Package noise samples seeded fractal noise for terrain generation.
package noise

import (
	"math"

	perlin "github.com/aquilax/go-perlin"
)

// Sampler is what terrain generation reads from. Implementations must be pure.
type Sampler interface {
	Sample2D(x, z float64) float64
	Sample3D(x, y, z float64) float64
}

// Params shapes the fractal sum and the final affine mapping.
type Params struct {
	Octaves    int     `yaml:"octaves"`
	Lacunarity float64 `yaml:"lacunarity"`
	Gain       float64 `yaml:"gain"`
	Frequency  float64 `yaml:"frequency"`
	Amplitude  float64 `yaml:"amplitude"`
	Scale      float64 `yaml:"scale"`
	Offset     float64 `yaml:"offset"`
}

func DefaultHeightParams() Params {
	return Params{Octaves: 4, Lacunarity: 2, Gain: 0.5, Frequency: 0.01, Amplitude: 1, Scale: 1, Offset: 0}
}

func DefaultCaveParams() Params {
	return Params{Octaves: 3, Lacunarity: 2, Gain: 0.5, Frequency: 0.1, Amplitude: 1, Scale: 1, Offset: 0}
}

func (p *Params) Normalize() {
	if p.Octaves <= 0 {
		p.Octaves = 1
	}
	if p.Lacunarity == 0 {
		p.Lacunarity = 2
	}
	if p.Gain == 0 {
		p.Gain = 0.5
	}
	if p.Frequency == 0 {
		p.Frequency = 0.01
	}
	if p.Amplitude == 0 {
		p.Amplitude = 1
	}
	if p.Scale == 0 {
		p.Scale = 1
	}
}

// Field is a seeded fractal sampler. Every octave contributes |noise|·amplitude.
type Field struct {
	params Params
	seed   int64
	base   *perlin.Perlin
}

// base layer is a single perlin octave; alpha/beta are unused at n=1.
const (
	baseAlpha = 2
	baseBeta  = 2
)

func NewField(seed int64, p Params) *Field {
	p.Normalize()
	return &Field{
		params: p,
		seed:   seed,
		base:   perlin.NewPerlin(baseAlpha, baseBeta, 1, seed),
	}
}

func (f *Field) Params() Params { return f.params }
func (f *Field) Seed() int64    { return f.seed }

func (f *Field) Sample2D(x, z float64) float64 {
	freq := f.params.Frequency
	amp := f.params.Amplitude
	var sum float64
	for i := 0; i < f.params.Octaves; i++ {
		sum += math.Abs(f.base.Noise2D(x*freq, z*freq)) * amp
		freq *= f.params.Lacunarity
		amp *= f.params.Gain
	}
	return sum*f.params.Scale + f.params.Offset
}

func (f *Field) Sample3D(x, y, z float64) float64 {
	freq := f.params.Frequency
	amp := f.params.Amplitude
	var sum float64
	for i := 0; i < f.params.Octaves; i++ {
		sum += math.Abs(f.base.Noise3D(x*freq, y*freq, z*freq)) * amp
		freq *= f.params.Lacunarity
		amp *= f.params.Gain
	}
	return sum*f.params.Scale + f.params.Offset
}

// Constant always returns the same values. Used to pin terrain in tests and tools.
type Constant struct {
	Value2D float64
	Value3D float64
}

func (c Constant) Sample2D(x, z float64) float64    { return c.Value2D }
func (c Constant) Sample3D(x, y, z float64) float64 { return c.Value3D }
