package model

// LogFilter holds criteria for reading the event log.
// Zero values mean "no constraint"; results are always in ascending id order.
type LogFilter struct {
	DeviceID  string    `json:"device_id,omitempty"`
	EventType EventType `json:"event_type,omitempty"`
	AfterID   int64     `json:"after_id,omitempty"` // only records with id > AfterID
	Limit     int       `json:"limit,omitempty"`
}

// MaxLogLimit caps the number of records returned by a single read.
const MaxLogLimit = 1000

// EffectiveLimit returns the limit to apply, clamped to (0, MaxLogLimit].
func (f LogFilter) EffectiveLimit() int {
	if f.Limit <= 0 || f.Limit > MaxLogLimit {
		return MaxLogLimit
	}
	return f.Limit
}
