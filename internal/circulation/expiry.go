package circulation

import "time"

// IsLapsed reports whether a hold expired without being rented or returned.
// Lapsed holds are never written back; every reader recomputes this.
func IsLapsed(r Reservation, now time.Time) bool {
	return !r.Rented && !r.Returned && !r.ExpiresAt.After(now)
}

// IsActive reports whether r currently blocks its item.
func IsActive(r Reservation, now time.Time) bool {
	return !r.Returned && (r.Rented || r.ExpiresAt.After(now))
}
