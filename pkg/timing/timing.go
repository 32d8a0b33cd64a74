// Package timing is the Timing Oracle: the single place that knows how
// pulse deadlines align to the wall clock, independent of any particular
// strand or stored state.
package timing

import "time"

// NextBoundary returns the first instant strictly after now that lies on
// the period grid anchored to the Unix epoch. A strand with a one-minute
// period always publishes at :00 of some minute; a five-minute period
// always publishes on a multiple of five minutes past the hour, and so on.
func NextBoundary(now time.Time, period time.Duration) time.Time {
	if period <= 0 {
		return now
	}
	epoch := now.Unix()
	secs := int64(period / time.Second)
	if secs <= 0 {
		secs = 1
	}
	next := ((epoch / secs) + 1) * secs
	return time.Unix(next, 0).UTC()
}

// NextPulseTimestamp returns the timestamp of the pulse following one
// published at prev, given the strand's period. Pulses advance by exactly
// one period and always land on a whole second.
func NextPulseTimestamp(prev time.Time, period time.Duration) time.Time {
	return prev.Add(period).Truncate(time.Second)
}

// LeadDeadline returns the instant by which a pulse targeting boundary
// must be fully prepared and signed: the boundary itself, minus a safety
// margin. Callers are expected to begin cross-stitch refresh and
// assembly well before this.
func LeadDeadline(boundary time.Time, lead time.Duration) time.Time {
	return boundary.Add(-lead)
}
