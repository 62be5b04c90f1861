package gologger

import (
	"strings"

	"github.com/goliatone/go-integration-broker/core"
	glog "github.com/goliatone/go-logger/glog"
)

// DefaultLoggerName names the broker logger when the config leaves it blank.
const DefaultLoggerName = "broker"

// Resolve picks the logger for name. A provider wins over a direct logger;
// with neither, a nop logger is returned.
func Resolve(name string, provider glog.LoggerProvider, logger glog.Logger) (glog.LoggerProvider, glog.Logger) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = DefaultLoggerName
	}
	return glog.Resolve(name, provider, logger)
}

// NewObserver resolves the named logger and pairs it with metrics for broker
// components.
func NewObserver(name string, provider glog.LoggerProvider, logger glog.Logger, metrics core.MetricsRecorder) *core.Observer {
	_, resolved := Resolve(name, provider, logger)
	return core.NewObserver(resolved, metrics)
}
