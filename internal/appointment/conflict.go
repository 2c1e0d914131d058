package appointment

import (
	"time"

	"github.com/google/uuid"
)

// FirstConflict returns the first SCHEDULED appointment in appts that overlaps
// [start, end), skipping exclude. It is the in-memory form of the storage
// HasConflict query and must only be trusted on data read under the doctor lock.
func FirstConflict(appts []Appointment, start, end time.Time, exclude *uuid.UUID) *Appointment {
	for i := range appts {
		a := &appts[i]
		if a.Status != StatusScheduled {
			continue
		}
		if exclude != nil && a.ID == *exclude {
			continue
		}
		if Overlaps(start, end, a.StartTime, a.EndTime()) {
			return a
		}
	}
	return nil
}
