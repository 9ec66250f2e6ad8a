// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of tg-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package storage

import (
	"context"
	"time"

	"github.com/TemporalGrid/tg-backend/pkg/log"
)

type hookCtxKey int

const hookBeginKey hookCtxKey = iota

// queryHooks satisfies the sqlhooks interfaces. Statements are traced
// at debug level; anything slower than the threshold is promoted to a
// warning so lock contention on the single sqlite connection shows up
// without debug logging enabled.
type queryHooks struct {
	slowThreshold time.Duration
}

func (h *queryHooks) Before(ctx context.Context, query string, args ...interface{}) (context.Context, error) {
	return context.WithValue(ctx, hookBeginKey, time.Now()), nil
}

func (h *queryHooks) After(ctx context.Context, query string, args ...interface{}) (context.Context, error) {
	begin, ok := ctx.Value(hookBeginKey).(time.Time)
	if !ok {
		return ctx, nil
	}

	took := time.Since(begin)
	if h.slowThreshold > 0 && took >= h.slowThreshold {
		log.Warnf("slow SQL query (%s): %s %q", took, query, args)
	} else {
		log.Debugf("SQL query (%s): %s %q", took, query, args)
	}
	return ctx, nil
}

// OnError logs failed statements with their arguments; the time-series
// upserts are the hot path and a silent retry loop in a caller would
// otherwise hide what the store was doing.
func (h *queryHooks) OnError(ctx context.Context, err error, query string, args ...interface{}) error {
	if err != context.Canceled {
		log.Errorf("SQL query failed: %s %q: %v", query, args, err)
	}
	return err
}
