package trainer

import "math"

// Controller schedules learning rate decay on a held-out metric. No
// decay happens before DecayStartEpoch; afterwards the rate shrinks by
// DecayRate once the metric has failed to improve for
// DecayPatientEpoch consecutive epochs.
type Controller struct {
	DecayStartEpoch   int
	DecayRate         float64
	DecayPatientEpoch int
	LowerBetter       bool

	best             float64
	notImprovedEpoch int
}

// NewController builds a controller with an unset best value, so the
// first epoch always counts as an improvement.
func NewController(decayStartEpoch int, decayRate float64, decayPatientEpoch int, lowerBetter bool) *Controller {
	return &Controller{
		DecayStartEpoch:   decayStartEpoch,
		DecayRate:         decayRate,
		DecayPatientEpoch: decayPatientEpoch,
		LowerBetter:       lowerBetter,
		best:              math.Inf(1),
	}
}

// DecayLR returns the learning rate for the next epoch given this
// epoch's metric value.
func (c *Controller) DecayLR(lr float64, epoch int, value float64) float64 {
	if !c.LowerBetter {
		value = -value
	}
	if epoch < c.DecayStartEpoch {
		if value < c.best {
			c.best = value
		}
		return lr
	}
	switch {
	case value < c.best:
		c.best = value
		c.notImprovedEpoch = 0
	case c.notImprovedEpoch < c.DecayPatientEpoch:
		c.notImprovedEpoch++
	default:
		c.notImprovedEpoch = 0
		lr *= c.DecayRate
	}
	return lr
}
