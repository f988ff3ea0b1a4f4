package gologger

import (
	"strings"

	job "github.com/goliatone/go-job"
	glog "github.com/goliatone/go-logger/glog"
)

// RootName is the logger name every wxopen component logs under.
const RootName = "wxopen"

// Resolve uses deterministic precedence provider > logger > nop.
func Resolve(provider glog.LoggerProvider, logger glog.Logger) (glog.LoggerProvider, glog.Logger) {
	return glog.Resolve(RootName, provider, logger)
}

// Named returns the provider logger for "wxopen.<name>", falling back to the
// resolved root logger.
func Named(provider glog.LoggerProvider, logger glog.Logger, name string) glog.Logger {
	resolvedProvider, resolved := Resolve(provider, logger)
	name = strings.Trim(strings.TrimSpace(name), ".")
	if name == "" || resolvedProvider == nil {
		return glog.Ensure(resolved)
	}
	if named := resolvedProvider.GetLogger(RootName + "." + name); named != nil {
		return named
	}
	return glog.Ensure(resolved)
}

// ToJobProvider maps a glog provider to the go-job logger provider contract.
func ToJobProvider(provider glog.LoggerProvider) job.LoggerProvider {
	if provider == nil {
		return nil
	}
	return job.GoLoggerProvider(provider)
}

// ToJobLogger maps a glog logger to the go-job logger contract.
func ToJobLogger(logger glog.Logger) job.Logger {
	if logger == nil {
		return nil
	}
	return job.GoLogger(logger)
}

// ResolveForJob resolves the refresh worker logger and its go-job bridges.
func ResolveForJob(
	provider glog.LoggerProvider,
	logger glog.Logger,
) (glog.Logger, job.LoggerProvider, job.Logger) {
	resolvedProvider, _ := Resolve(provider, logger)
	workerLogger := Named(provider, logger, "jobs")
	return workerLogger, ToJobProvider(resolvedProvider), ToJobLogger(workerLogger)
}
