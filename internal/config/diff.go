package config

import (
	"reflect"
	"sort"

	logx "taskd/pkg/logx"
)

// SummarizeChange lists the sections that differ between two configs and
// returns log fields describing the new values.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	var (
		changed []string
		attrs   []logx.Field
	)
	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file", newCfg.Logging.File.Enabled),
		)
	}
	if oldCfg.Engine != newCfg.Engine {
		changed = append(changed, "engine")
		attrs = append(attrs, logx.Int("engine.workers", newCfg.Engine.Workers), logx.Int("engine.queue_size", newCfg.Engine.QueueSize))
	}
	if oldCfg.Scheduler != newCfg.Scheduler {
		changed = append(changed, "scheduler")
		attrs = append(attrs, logx.String("scheduler.timezone", newCfg.Scheduler.Timezone))
	}
	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, "storage")
	}
	if !reflect.DeepEqual(oldCfg.Debug, newCfg.Debug) {
		changed = append(changed, "debug")
	}
	added, removed, updated := DiffJobs(oldCfg, newCfg)
	if len(added)+len(removed)+len(updated) > 0 {
		changed = append(changed, "jobs")
		attrs = append(attrs,
			logx.Any("jobs.added", added),
			logx.Any("jobs.removed", removed),
			logx.Any("jobs.changed", updated),
		)
	}
	return changed, attrs
}

// DiffJobs compares declared jobs by name. Results are sorted.
func DiffJobs(oldCfg, newCfg *Config) (added, removed, changed []string) {
	oldJobs := map[string]JobConfig{}
	if oldCfg != nil {
		for _, j := range oldCfg.Jobs {
			oldJobs[j.Name] = j
		}
	}
	newJobs := map[string]JobConfig{}
	if newCfg != nil {
		for _, j := range newCfg.Jobs {
			newJobs[j.Name] = j
		}
	}
	for name, nj := range newJobs {
		oj, ok := oldJobs[name]
		switch {
		case !ok:
			added = append(added, name)
		case !reflect.DeepEqual(oj, nj):
			changed = append(changed, name)
		}
	}
	for name := range oldJobs {
		if _, ok := newJobs[name]; !ok {
			removed = append(removed, name)
		}
	}
	sort.Strings(added)
	sort.Strings(removed)
	sort.Strings(changed)
	return added, removed, changed
}
