// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of tg-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/TemporalGrid/tg-backend/internal/address"
	"github.com/TemporalGrid/tg-backend/internal/config"
	"github.com/TemporalGrid/tg-backend/internal/storage"
	"github.com/TemporalGrid/tg-backend/internal/taskmanager"
	"github.com/TemporalGrid/tg-backend/internal/tree"
	"github.com/TemporalGrid/tg-backend/pkg/log"
	"github.com/TemporalGrid/tg-backend/pkg/schema"
	"github.com/joho/godotenv"
)

const logoString = `
 _____ ____       _                _                  _
|_   _/ ___|     | |__   __ _  ___| | _____ _ __   __| |
  | || |  _ _____| '_ \ / _' |/ __| |/ / _ \ '_ \ / _' |
  | || |_| |_____| |_) | (_| | (__|   <  __/ | | | (_| |
  |_| \____|     |_.__/ \__,_|\___|_|\_\___|_| |_|\__,_|
`

var (
	date    string
	commit  string
	version string
)

func main() {
	cliInit()

	if flagVersion {
		fmt.Print(logoString)
		fmt.Printf("Version:\t%s\n", version)
		fmt.Printf("Git hash:\t%s\n", commit)
		fmt.Printf("Build time:\t%s\n", date)
		fmt.Printf("Go toolchain:\t%s\n", runtime.Version())
		os.Exit(0)
	}

	// Apply config flags for pkg/log
	log.SetLogLevel(flagLogLevel)
	if flagLogDateTime {
		log.SetLogDateTime(true)
	}

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Warnf("parsing './.env' file failed: %s", err.Error())
	}

	config.Init(flagConfigFile)
	if config.Keys.LogLevel != "" && flagLogLevel == "warn" {
		log.SetLogLevel(config.Keys.LogLevel)
	}
	if config.Keys.LogDate {
		log.SetLogDateTime(true)
	}

	if flagMigrateDB {
		if config.Keys.Storage.Kind != storage.KindSqlite {
			log.Fatalf("-migrate-db only applies to the sqlite backend, configured is '%s'", config.Keys.Storage.Kind)
		}
		if err := storage.MigrateDB(config.Keys.Storage.Path); err != nil {
			log.Fatalf("migration failed: %v", err)
		}
		os.Exit(0)
	}

	store, err := storage.Open(config.Keys.Storage.Kind, config.StorageOptions())
	if err != nil {
		log.Fatalf("could not open %s storage: %v", config.Keys.Storage.Kind, err)
	}
	defer store.Close()

	if flagInitDB {
		if err := initDemoTree(store); err != nil {
			log.Fatalf("init-db failed: %v", err)
		}
		os.Exit(0)
	}

	if config.Keys.Retention == nil {
		log.Info("no retention configured, nothing to do")
		return
	}

	taskmanager.Start(store)
	defer taskmanager.Shutdown()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs
	log.Info("shutting down")
}

// initDemoTree seeds the store with a small metered/reference network
// so the engine can be poked at right away.
func initDemoTree(store storage.Store) error {
	alloc, err := address.NewAllocator(config.Keys.Tree.BaseAddress, config.Keys.Tree.MaxDepth, config.Keys.Tree.FanOut)
	if err != nil {
		return err
	}

	repo, err := tree.NewRepository(tree.Config{
		Name:          "demo-network",
		RootName:      "headquarters",
		Store:         store,
		Allocator:     alloc,
		CacheCapacity: config.Keys.Timeline.CacheCapacity,
	})
	if err != nil {
		return err
	}

	beijing, err := repo.AddNode(repo.Root().ID(), "beijing", []string{"region"})
	if err != nil {
		return err
	}
	if _, err := repo.AddNode(repo.Root().ID(), "shanghai", []string{"region"}); err != nil {
		return err
	}

	now := time.Now()
	for i := 0; i < 3; i++ {
		at := now.AddDate(0, 0, -i)
		if err := beijing.SetData("reference", 2000.0, tree.WriteOptions{At: at}); err != nil {
			return err
		}
		if err := beijing.SetData("metered", 1900.0+float64(i*25), tree.WriteOptions{
			At: at, Quality: schema.QualityNormal,
		}); err != nil {
			return err
		}
	}

	if err := repo.SaveToStorage(nil); err != nil {
		return err
	}
	log.Infof("initialized demo tree '%s' in %s storage", repo.TreeID(), store.Backend())
	return nil
}
