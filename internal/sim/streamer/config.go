package streamer

import "fmt"

// Config holds the streaming knobs. Distances are in world units (blocks) unless
// the name says otherwise.
type Config struct {
	// BuildRadius is the Chebyshev chunk radius kept built around the reference coord.
	BuildRadius int
	// InitialBuildRadius is used for the very first cycle only.
	InitialBuildRadius int
	// A new cycle starts once the observer moved BuildRadius*NearPlayerMultiplier.
	NearPlayerMultiplier float64
	// Chunks farther than BuildRadius*Edge*RemoveMultiplier from the observer are evicted.
	RemoveMultiplier float64
	// LookAhead projects the reference point along the travel direction.
	LookAhead float64

	OpsPerStep       int
	EvictEveryCycles int

	AutosaveEveryTicks int
	AutosaveDistance   float64

	TickRateHz int
}

func DefaultConfig() Config {
	return Config{
		BuildRadius:          4,
		InitialBuildRadius:   6,
		NearPlayerMultiplier: 2,
		RemoveMultiplier:     1.5,
		LookAhead:            16,
		OpsPerStep:           8,
		EvictEveryCycles:     2,
		AutosaveEveryTicks:   600,
		AutosaveDistance:     256,
		TickRateHz:           20,
	}
}

func (c *Config) normalize() {
	if c.BuildRadius <= 0 {
		c.BuildRadius = 1
	}
	if c.InitialBuildRadius < c.BuildRadius {
		c.InitialBuildRadius = c.BuildRadius
	}
	if c.OpsPerStep <= 0 {
		c.OpsPerStep = 1
	}
	if c.EvictEveryCycles <= 0 {
		c.EvictEveryCycles = 1
	}
	if c.TickRateHz <= 0 {
		c.TickRateHz = 20
	}
}

func (c Config) validate() error {
	if c.RemoveMultiplier <= 1 {
		return fmt.Errorf("remove multiplier must be > 1 (got %v)", c.RemoveMultiplier)
	}
	if c.NearPlayerMultiplier < 0 || c.LookAhead < 0 || c.AutosaveDistance < 0 || c.AutosaveEveryTicks < 0 {
		return fmt.Errorf("streamer distances and intervals must be >= 0")
	}
	return nil
}
