package stats

// Key mechanics used by Energy.
const (
	keyForce  = 0.574 // newtons to depress a key
	keyTravel = 0.01  // metres of key travel
)

// Energy returns the work in joules spent on one key press at velocity v.
// Velocity must already be within 0..127.
func Energy(v uint8) float64 {
	return keyForce * keyTravel * (1 + float64(v)/127)
}
