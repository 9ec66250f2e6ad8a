// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of tg-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package taskmanager schedules the engine's periodic maintenance
// jobs, currently the time-point retention service.
package taskmanager

import (
	"time"

	"github.com/TemporalGrid/tg-backend/internal/config"
	"github.com/TemporalGrid/tg-backend/internal/storage"
	"github.com/TemporalGrid/tg-backend/pkg/log"
	"github.com/go-co-op/gocron/v2"
)

var s gocron.Scheduler

func parseDuration(str string, fallback time.Duration) time.Duration {
	if str == "" {
		return fallback
	}
	d, err := time.ParseDuration(str)
	if err != nil {
		log.Warnf("Could not parse duration '%s', using %s", str, fallback)
		return fallback
	}
	return d
}

// Start builds the scheduler and registers the services enabled in the
// configuration. A nil retention config means nothing to do.
func Start(store storage.Store) {
	if config.Keys.Retention == nil {
		return
	}

	var err error
	s, err = gocron.NewScheduler()
	if err != nil {
		log.Fatalf("Taskmanager Start: Could not create gocron scheduler.\nError: %s\n", err.Error())
	}

	RegisterRetentionService(store, *config.Keys.Retention)
	s.Start()
}

func Shutdown() {
	if s != nil {
		s.Shutdown()
	}
}
