// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of tg-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package config

import (
	"bytes"
	"encoding/json"
	"os"

	"github.com/TemporalGrid/tg-backend/pkg/log"
	"github.com/TemporalGrid/tg-backend/pkg/schema"
)

type StorageConfig struct {
	Kind          string `json:"kind"`
	Path          string `json:"path,omitempty"`
	BusyTimeoutMs int    `json:"busyTimeoutMs,omitempty"`
	SlowQueryMs   int    `json:"slowQueryMs,omitempty"`
}

type TreeConfig struct {
	BaseAddress string `json:"baseAddress,omitempty"`
	MaxDepth    int    `json:"maxDepth,omitempty"`
	FanOut      int    `json:"fanOut,omitempty"`
}

type TimelineConfig struct {
	CacheCapacity int `json:"cacheCapacity,omitempty"`
}

type RetentionConfig struct {
	// Age is how old a time point may get before the retention job
	// drops it, e.g. "720h".
	Age string `json:"age"`
	// Interval is how often the job runs; default "1h".
	Interval string `json:"interval,omitempty"`
}

type ProgramConfig struct {
	Storage   StorageConfig    `json:"storage"`
	Tree      TreeConfig       `json:"tree,omitempty"`
	Timeline  TimelineConfig   `json:"timeline,omitempty"`
	Retention *RetentionConfig `json:"retention,omitempty"`
	LogLevel  string           `json:"logLevel,omitempty"`
	LogDate   bool             `json:"logDate,omitempty"`
}

var Keys ProgramConfig = ProgramConfig{
	Storage: StorageConfig{
		Kind:          "sqlite",
		Path:          "./var/tg.db",
		BusyTimeoutMs: 5000,
	},
	Tree: TreeConfig{
		BaseAddress: "10.0.0.0",
		MaxDepth:    10,
		FanOut:      100,
	},
	Timeline: TimelineConfig{
		CacheCapacity: 1000,
	},
	LogLevel: "warn",
}

// Init loads and validates the JSON config file. A missing file keeps
// the defaults; an invalid one is fatal.
func Init(flagConfigFile string) {
	raw, err := os.ReadFile(flagConfigFile)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Fatalf("CONFIG/CONFIG > ERROR: %v", err)
		}
		return
	}

	if err := schema.ValidateConfig(bytes.NewReader(raw)); err != nil {
		log.Fatalf("Validate config: %v\n", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&Keys); err != nil {
		log.Fatalf("could not decode: %v", err)
	}

	if Keys.Storage.Kind == "" {
		log.Fatal("Storage backend kind required in config!")
	}
}

// StorageOptions renders the backend options of the selected storage
// kind as the raw config the storage factory expects.
func StorageOptions() json.RawMessage {
	raw, err := json.Marshal(Keys.Storage)
	if err != nil {
		log.Fatalf("CONFIG/CONFIG > ERROR: %v", err)
	}
	return raw
}
