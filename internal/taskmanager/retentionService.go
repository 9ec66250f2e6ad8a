// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of tg-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package taskmanager

import (
	"time"

	"github.com/TemporalGrid/tg-backend/internal/config"
	"github.com/TemporalGrid/tg-backend/internal/storage"
	"github.com/TemporalGrid/tg-backend/pkg/log"
	"github.com/go-co-op/gocron/v2"
)

// RegisterRetentionService periodically walks every stored tree and
// drops time points older than the configured age.
func RegisterRetentionService(store storage.Store, cfg config.RetentionConfig) {
	age := parseDuration(cfg.Age, 0)
	if age <= 0 {
		log.Warn("Retention age missing or zero, service not registered")
		return
	}
	interval := parseDuration(cfg.Interval, time.Hour)

	log.Info("Register retention delete service")

	s.NewJob(gocron.DurationJob(interval),
		gocron.NewTask(
			func() {
				before := time.Now().Add(-age)
				total := 0

				trees, err := store.ListTrees()
				if err != nil {
					log.Warnf("Retention: could not list trees: %s", err.Error())
					return
				}

				for _, treeID := range trees {
					nodes, err := store.ListNodes(treeID)
					if err != nil {
						log.Warnf("Retention: could not list nodes of '%s': %s", treeID, err.Error())
						continue
					}
					for _, node := range nodes {
						dims, err := store.GetDimensions(treeID, node.NodeID)
						if err != nil {
							log.Warnf("Retention: could not list dimensions of '%s': %s", node.NodeID, err.Error())
							continue
						}
						for _, dim := range dims {
							cnt, err := store.DeleteTimePoints(treeID, node.NodeID, dim, &before)
							if err != nil {
								log.Errorf("Retention: delete on (%s, %s, %s) failed: %s", treeID, node.NodeID, dim, err.Error())
								continue
							}
							total += cnt
						}
					}
				}

				if total > 0 {
					log.Infof("Retention: Removed %d time points", total)
				}
			}))
}
