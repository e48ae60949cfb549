package domain

import "time"

// TimeAccount is the billable effort ledger of one request. Only the
// accumulated total and the start of the running interval are stored; the
// live value is always derived with Snapshot.
type TimeAccount struct {
	AccumulatedSeconds int64      `json:"accumulated_seconds"`
	RunningSince       *time.Time `json:"running_since,omitempty"`
}

// Running reports whether an interval is open.
func (t TimeAccount) Running() bool {
	return t.RunningSince != nil
}

// Start opens a running interval at the given instant.
func (t *TimeAccount) Start(at time.Time) error {
	if t.RunningSince != nil {
		return ErrAlreadyRunning
	}
	started := at
	t.RunningSince = &started
	return nil
}

// Stop closes the running interval and returns the seconds it added.
// Negative intervals caused by clock skew count as zero.
func (t *TimeAccount) Stop(at time.Time) (int64, error) {
	if t.RunningSince == nil {
		return 0, ErrNotRunning
	}
	delta := wholeSeconds(at.Sub(*t.RunningSince))
	t.AccumulatedSeconds += delta
	t.RunningSince = nil
	return delta, nil
}

// Snapshot returns the elapsed seconds as of at without mutating the account.
func (t TimeAccount) Snapshot(at time.Time) int64 {
	if t.RunningSince == nil {
		return t.AccumulatedSeconds
	}
	return t.AccumulatedSeconds + wholeSeconds(at.Sub(*t.RunningSince))
}

func wholeSeconds(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	return int64(d / time.Second)
}
