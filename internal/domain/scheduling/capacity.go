package scheduling

// OccupiesSlot reports whether an appointment in status s counts toward the
// provider's patient counter. Only confirmed appointments do.
func OccupiesSlot(s Status) bool {
	return s == StatusConfirmed
}

// CapacityDelta returns the change to the provider's patient counter caused
// by moving an appointment from prev to next.
//
// Completing a confirmed visit leaves the counter alone even though the
// appointment stops counting, so each completion leaves the counter one
// above the confirmed count until the reconciler recomputes it.
func CapacityDelta(prev, next Status) int {
	switch {
	case prev == next:
		return 0
	case next == StatusConfirmed:
		return 1
	case prev == StatusConfirmed && (next == StatusRejected || next == StatusCancelled):
		return -1
	default:
		return 0
	}
}

// DeletionDelta returns the counter change caused by deleting an appointment
// in status s.
func DeletionDelta(s Status) int {
	if OccupiesSlot(s) {
		return -1
	}
	return 0
}
