package main

import (
	"fmt"
	"strings"
	"time"
)

// parseTimeField accepts RFC 3339, ISO dates and the dd/mm/yyyy form the
// personnel spreadsheets use.
func parseTimeField(v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, fmt.Errorf("missing time value")
	}
	if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
		return t.UTC(), nil
	}
	for _, layout := range []string{"2006-01-02", "02/01/2006", "2/1/2006", "01-02-06"} {
		if t, err := time.ParseInLocation(layout, v, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid time: %s", v)
}
