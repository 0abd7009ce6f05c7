package main

import (
	"os"

	"github.com/btcsuite/btclog"

	"github.com/Zaphoood/kdbx/src/keepass/database"
	"github.com/Zaphoood/kdbx/src/keepass/parser"
)

const logLevelEnv = "KDBX_LOG_LEVEL"

// Loggers per subsystem. They all write to stderr through one backend.
var (
	backendLog = btclog.NewBackend(os.Stderr)
	dbLog      = backendLog.Logger("DB")
	xmlLog     = backendLog.Logger("XML")
)

// subsystemLoggers maps each subsystem identifier to its associated logger.
var subsystemLoggers = map[string]btclog.Logger{
	"DB":  dbLog,
	"XML": xmlLog,
}

func init() {
	database.UseLogger(dbLog)
	parser.UseLogger(xmlLog)
}

// setLogLevels sets the level of every subsystem. Invalid levels default
// to warnings only.
func setLogLevels(logLevel string) {
	level, ok := btclog.LevelFromString(logLevel)
	if !ok {
		level = btclog.LevelWarn
	}
	for _, logger := range subsystemLoggers {
		logger.SetLevel(level)
	}
}
