// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of tg-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package main

import "flag"

var (
	flagInitDB, flagMigrateDB, flagVersion, flagLogDateTime bool
	flagConfigFile, flagLogLevel                            string
)

func cliInit() {
	flag.BoolVar(&flagInitDB, "init-db", false, "Initialize the storage backend with a demo tree and seed data, then exit")
	flag.BoolVar(&flagMigrateDB, "migrate-db", false, "Migrate the sqlite database to the supported version and exit")
	flag.BoolVar(&flagVersion, "version", false, "Show version information and exit")
	flag.BoolVar(&flagLogDateTime, "logdate", false, "Set this flag to add date and time to log messages")
	flag.StringVar(&flagConfigFile, "config", "./config.json", "Specify alternative path to `config.json`")
	flag.StringVar(&flagLogLevel, "loglevel", "warn", "Sets the logging level: `[debug, info, warn (default), err, crit]`")
	flag.Parse()
}
