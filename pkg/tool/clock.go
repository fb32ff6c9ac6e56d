package tool

import (
	"context"
	"time"
)

// NewClockCapability returns the get_current_date capability. The now
// function is injectable for tests; pass nil for time.Now.
func NewClockCapability(now func() time.Time) Capability {
	if now == nil {
		now = time.Now
	}
	return Capability{
		Name:        "get_current_date",
		Description: "Returns today's date and weekday.",
		Handler: func(ctx context.Context, args Args) (any, error) {
			t := now()
			return map[string]string{
				"date":    t.Format("2006-01-02"),
				"weekday": t.Weekday().String(),
			}, nil
		},
	}
}
