package domain

// TryReserveSlot takes one seat on the activity. It must run inside Store.WithinActivity
// together with the enrollment insert.
func TryReserveSlot(activity *Activity) error {
	if activity.CurrentParticipants >= activity.MaxParticipants {
		return ErrCapacityExceeded
	}
	activity.CurrentParticipants++
	return nil
}

// ReleaseSlot frees one seat; the counter never drops below zero.
func ReleaseSlot(activity *Activity) {
	if activity.CurrentParticipants > 0 {
		activity.CurrentParticipants--
	}
}

// RemainingSlots returns how many seats are still open.
func RemainingSlots(activity Activity) int {
	if remaining := activity.MaxParticipants - activity.CurrentParticipants; remaining > 0 {
		return remaining
	}
	return 0
}
