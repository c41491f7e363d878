package app

import (
	log "github.com/sirupsen/logrus"
)

// SetLogLevel applies LOG_LEVEL. Unknown levels keep info and warn.
func SetLogLevel(level string) {
	if level == "" {
		return
	}
	lvl, err := log.ParseLevel(level)
	if err != nil {
		log.Warnf("unknown LOG_LEVEL %q, keeping %s", level, log.GetLevel())
		return
	}
	log.SetLevel(lvl)
}
