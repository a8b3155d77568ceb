package domain

import "time"

// WindowPolicy holds the configured enroll/unenroll cutoffs. A cutoff of 0 disables the
// corresponding restriction entirely.
type WindowPolicy struct {
	RegistrationCutoffHours   int
	UnregistrationCutoffHours int
}

// CanEnroll reports whether enrollment is open: the activity must start within the
// registration lead window and must not have started yet.
func CanEnroll(activity Activity, now time.Time, registrationCutoffHours int) bool {
	if registrationCutoffHours == 0 {
		return true
	}
	untilStart := activity.StartAt.Sub(now)
	return untilStart <= hours(registrationCutoffHours) && untilStart > 0
}

// CanUnenroll reports whether a member may still leave: unenrollment closes once the
// activity is closer to starting than the cutoff.
func CanUnenroll(activity Activity, now time.Time, unregistrationCutoffHours int) bool {
	if unregistrationCutoffHours == 0 {
		return true
	}
	return activity.StartAt.Sub(now) >= hours(unregistrationCutoffHours)
}

func hours(n int) time.Duration {
	return time.Duration(n) * time.Hour
}
