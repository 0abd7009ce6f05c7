package model

import "time"

// Times holds the audit timestamps shared by groups and entries. All values
// are UTC with second precision, the resolution stored on disk.
type Times struct {
	CreationTime         time.Time
	LastModificationTime time.Time
	LastAccessTime       time.Time
	ExpiryTime           time.Time
	Expires              bool
	UsageCount           int64
	LocationChanged      time.Time
}

// Now returns the current time at file precision.
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Second)
}

func NewTimes() Times {
	now := Now()
	return Times{
		CreationTime:         now,
		LastModificationTime: now,
		LastAccessTime:       now,
		ExpiryTime:           now,
		LocationChanged:      now,
	}
}

// Touch records an access, and a modification if modified is set.
func (t *Times) Touch(modified bool) {
	now := Now()
	t.LastAccessTime = now
	t.UsageCount++
	if modified {
		t.LastModificationTime = now
	}
}

// Expired reports whether the item expires and the expiry time has passed.
func (t *Times) Expired(now time.Time) bool {
	return t.Expires && !now.Before(t.ExpiryTime)
}
