// Package partition manages time-based storage partitions: lazy creation on
// first write, resolution of a timestamp to its owning partition, and the
// administrative archive/drop operations for retired time ranges.
package partition

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// tablePrefix is shared by every partition table name.
const tablePrefix = "events_"

// Partition is one calendar-month time bucket of stored events. Every record
// belongs to exactly one partition, determined by its timestamp at write
// time. Bounds are [Start, End) in UTC.
type Partition struct {
	Table string
	Start time.Time
	End   time.Time
}

// ForTime resolves the partition that owns the given timestamp.
func ForTime(ts time.Time) Partition {
	ts = ts.UTC()
	start := time.Date(ts.Year(), ts.Month(), 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0)
	return Partition{
		Table: fmt.Sprintf("%s%04d%02d", tablePrefix, start.Year(), int(start.Month())),
		Start: start,
		End:   end,
	}
}

// FromTable parses a partition table name (events_YYYYMM) back into a
// Partition. Returns false for names that are not partition tables.
func FromTable(name string) (Partition, bool) {
	suffix, ok := strings.CutPrefix(name, tablePrefix)
	if !ok || len(suffix) != 6 {
		return Partition{}, false
	}
	year, err := strconv.Atoi(suffix[:4])
	if err != nil {
		return Partition{}, false
	}
	month, err := strconv.Atoi(suffix[4:])
	if err != nil || month < 1 || month > 12 {
		return Partition{}, false
	}
	start := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
	return Partition{
		Table: name,
		Start: start,
		End:   start.AddDate(0, 1, 0),
	}, true
}

// Contains reports whether ts falls inside the partition's time range.
func (p Partition) Contains(ts time.Time) bool {
	ts = ts.UTC()
	return !ts.Before(p.Start) && ts.Before(p.End)
}
