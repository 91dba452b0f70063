package model

// Vehicle is the per-tick view of one routed entity.
//
// Deadline is the remaining time budget in seconds: larger values mean more
// slack. Speed is in distance units per second and is never negative.
type Vehicle struct {
	ID          string
	CurrentEdge string
	Destination string
	Deadline    float64
	Speed       float64
}

// Arrived reports whether the vehicle already sits on its destination edge.
func (v Vehicle) Arrived() bool {
	return v.CurrentEdge == v.Destination
}

// AverageDeadline returns the mean deadline across vehicles, or 0 for an
// empty batch.
func AverageDeadline(vehicles []Vehicle) float64 {
	if len(vehicles) == 0 {
		return 0
	}
	var sum float64
	for _, v := range vehicles {
		sum += v.Deadline
	}
	return sum / float64(len(vehicles))
}
