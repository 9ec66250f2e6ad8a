// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of tg-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package storage

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestHooksThreadBeginTime(t *testing.T) {
	h := &queryHooks{slowThreshold: time.Second}

	ctx, err := h.Before(context.Background(), "SELECT 1")
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := ctx.Value(hookBeginKey).(time.Time); !ok {
		t.Error("Before must record the start time in the context")
	}

	if _, err := h.After(ctx, "SELECT 1"); err != nil {
		t.Fatal(err)
	}
}

func TestHooksAfterWithoutBefore(t *testing.T) {
	h := &queryHooks{}

	// sqlhooks calls After on connections it did not see Before on;
	// that must not panic.
	if _, err := h.After(context.Background(), "SELECT 1"); err != nil {
		t.Fatal(err)
	}
}

func TestHooksOnErrorPassesThrough(t *testing.T) {
	h := &queryHooks{}

	want := errors.New("locked")
	if got := h.OnError(context.Background(), want, "INSERT", 1); got != want {
		t.Errorf("OnError returned %v, want the original error", got)
	}
	if got := h.OnError(context.Background(), context.Canceled, "INSERT"); got != context.Canceled {
		t.Error("cancellation must pass through unchanged")
	}
}
