package agent

import (
	"math"
	"math/rand"
)

// RateIterator schedules events as a Poisson process with a given rate per tick.
type RateIterator struct {
	rnd           *rand.Rand
	rate          float64
	nextOccurence float64
}

func NewRateIterator(rate float64, seed int64) *RateIterator {
	ri := &RateIterator{
		rnd:           rand.New(rand.NewSource(seed)),
		rate:          rate,
		nextOccurence: 1.0,
	}
	ri.chooseNext() // randomize first occurrence
	return ri
}

// Tick calls f once for each event landing in this tick.
// On average f runs `rate` times per tick, but any single tick may see zero or many calls.
func (ri *RateIterator) Tick(f func() error) error {
	ri.nextOccurence -= 1.0
	for ri.nextOccurence < 1.0 {
		if err := f(); err != nil {
			return err
		}
		ri.chooseNext()
	}
	return nil
}

// exponentially distributed gap between events
func (ri *RateIterator) chooseNext() {
	ri.nextOccurence += -math.Log(1-ri.rnd.Float64()) / ri.rate
}
