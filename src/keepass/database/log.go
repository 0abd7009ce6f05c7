package database

import "github.com/btcsuite/btclog"

// log is disabled by default until UseLogger is called.
var log = btclog.Disabled

// UseLogger routes the package's messages to logger.
func UseLogger(logger btclog.Logger) {
	log = logger
}

// DisableLog disables all library log output.
func DisableLog() {
	log = btclog.Disabled
}
