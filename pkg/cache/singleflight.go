package cache

import (
	"context"

	"golang.org/x/sync/singleflight"

	"github.com/erpilot-ai/erpilot/pkg/core"
)

// Group coalesces concurrent identical queries so a burst of the same
// question from the same role triggers one pipeline execution instead of N.
type Group struct {
	sf singleflight.Group
}

// Do runs fn once per in-flight key; duplicate callers receive a copy of
// the shared result.
func (g *Group) Do(ctx context.Context, q core.Query, fn func() (*core.Response, error)) (*core.Response, bool, error) {
	v, err, shared := g.sf.Do(Key(q), func() (any, error) {
		return fn()
	})
	if err != nil {
		return nil, shared, err
	}
	resp, _ := v.(*core.Response)
	if shared && resp != nil {
		// Duplicate callers get their own copy so one caller mutating the
		// response cannot affect another.
		clone := *resp
		return &clone, shared, nil
	}
	return resp, shared, nil
}
