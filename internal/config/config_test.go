package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"taskd/internal/task/trigger"
	logx "taskd/pkg/logx"
)

const sampleYAML = `
logging:
  level: debug
  console: true
engine:
  workers: 4
scheduler:
  timezone: UTC
  max_consecutive_failures: 3
  shutdown_timeout: 5s
storage:
  driver: file
  path: ./data/fires.jsonl
jobs:
  - name: heartbeat
    interval:
      delay: 1s
      every: 30s
    action: log
    message: alive
  - name: nightly
    cron: "0 0 2 * * *"
    max_runs: 10
    action: noop
  - name: hourly
    schedule: "@hourly"
    action: log
    paused: true
`

func TestDecodeYAML(t *testing.T) {
	t.Parallel()
	cfg, err := Decode("taskd.yaml", []byte(sampleYAML))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if err := Validate(cfg); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cfg.Engine.Workers != 4 || cfg.Scheduler.MaxConsecutiveFailures != 3 || len(cfg.Jobs) != 3 {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if got := cfg.ShutdownTimeout(); got != 5*time.Second {
		t.Fatalf("ShutdownTimeout = %s", got)
	}

	hb, ok := cfg.JobByName("heartbeat")
	if !ok {
		t.Fatal("heartbeat job missing")
	}
	spec, err := hb.Trigger()
	if err != nil {
		t.Fatalf("Trigger: %v", err)
	}
	if want := (trigger.Interval{Delay: time.Second, Every: 30 * time.Second}); spec != want {
		t.Fatalf("heartbeat trigger = %#v, want %#v", spec, want)
	}
	nightly, _ := cfg.JobByName("nightly")
	if spec, _ := nightly.Trigger(); spec != (trigger.Calendar{Expression: "0 0 2 * * *"}) {
		t.Fatalf("nightly trigger = %#v", spec)
	}
}

func TestDecodeRejectsUnknownFieldsAndTrailingData(t *testing.T) {
	t.Parallel()
	if _, err := Decode("c.yaml", []byte("engine:\n  workerz: 2\n")); err == nil {
		t.Fatal("expected unknown field error")
	}
	if _, err := Decode("c.json", []byte(`{"engine":{}} {"engine":{}}`)); err == nil {
		t.Fatal("expected trailing data error")
	}
	cfg, err := Decode("c.yaml", []byte(""))
	if err != nil {
		t.Fatalf("empty yaml: %v", err)
	}
	if d := cfg.ShutdownTimeout(); d != 10*time.Second {
		t.Fatalf("default shutdown timeout = %s", d)
	}
}

func TestValidateRejects(t *testing.T) {
	t.Parallel()
	job := func(mut func(*JobConfig)) *Config {
		j := JobConfig{Name: "j", Schedule: "5m", Action: "log"}
		mut(&j)
		return &Config{Jobs: []JobConfig{j}}
	}
	tests := []struct {
		name string
		cfg  *Config
		want string
	}{
		{"missing name", job(func(j *JobConfig) { j.Name = "" }), "jobs[0].name"},
		{"missing action", job(func(j *JobConfig) { j.Action = "" }), "jobs[0].action"},
		{"negative max runs", job(func(j *JobConfig) { j.MaxRuns = -1 }), "max_runs"},
		{"two triggers", job(func(j *JobConfig) { j.Cron = "* * * * *" }), "exactly one"},
		{"no trigger", job(func(j *JobConfig) { j.Schedule = "" }), "exactly one"},
		{"zero interval", job(func(j *JobConfig) { j.Schedule = ""; j.Interval = &IntervalConfig{Every: "0s"} }), "interval.every"},
		{"bad schedule", job(func(j *JobConfig) { j.Schedule = "whenever" }), "schedule"},
		{"bad level", &Config{Logging: LoggingConfig{Level: "loud"}}, "logging.level"},
		{"bad timezone", &Config{Scheduler: SchedulerConfig{Timezone: "Nowhere/City"}}, "timezone"},
		{"bad shutdown timeout", &Config{Scheduler: SchedulerConfig{ShutdownTimeout: "soon"}}, "shutdown_timeout"},
		{"bad storage driver", &Config{Storage: &StorageConfig{Driver: "mysql", Path: "x"}}, "storage.driver"},
		{"bad debug addr", &Config{Debug: &DebugConfig{Enabled: true, Addr: "nohost"}}, "debug.addr"},
		{"duplicate jobs", &Config{Jobs: []JobConfig{
			{Name: "a", Schedule: "1m", Action: "log"},
			{Name: "a", Schedule: "2m", Action: "log"},
		}}, "duplicate"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := Validate(tt.cfg)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestDiffJobs(t *testing.T) {
	t.Parallel()
	oldCfg := &Config{Jobs: []JobConfig{
		{Name: "keep", Schedule: "1m", Action: "log"},
		{Name: "edit", Schedule: "1m", Action: "log"},
		{Name: "drop", Schedule: "1m", Action: "log"},
	}}
	newCfg := &Config{Jobs: []JobConfig{
		{Name: "keep", Schedule: "1m", Action: "log"},
		{Name: "edit", Schedule: "2m", Action: "log"},
		{Name: "new", Schedule: "1m", Action: "noop"},
	}}
	added, removed, changed := DiffJobs(oldCfg, newCfg)
	if strings.Join(added, ",") != "new" || strings.Join(removed, ",") != "drop" || strings.Join(changed, ",") != "edit" {
		t.Fatalf("added=%v removed=%v changed=%v", added, removed, changed)
	}

	sections, _ := SummarizeChange(oldCfg, newCfg)
	if strings.Join(sections, ",") != "jobs" {
		t.Fatalf("sections = %v", sections)
	}
}

func TestWatchPublishesValidChanges(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "taskd.yaml")
	write := func(body string) {
		t.Helper()
		if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	write("engine:\n  workers: 1\n")

	m := NewConfigManager(path, logx.Nop())
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.Watch(ctx)
	}()
	// Give the watcher time to register the directory.
	time.Sleep(200 * time.Millisecond)

	write("engine:\n  workers: -1\n")
	select {
	case cfg := <-ch:
		t.Fatalf("invalid config published: %+v", cfg.Engine)
	case <-time.After(700 * time.Millisecond):
	}

	write("engine:\n  workers: 3\n")
	select {
	case cfg := <-ch:
		if cfg.Engine.Workers != 3 {
			t.Fatalf("published workers = %d, want 3", cfg.Engine.Workers)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("config change not published")
	}
	if got := m.Get().Engine.Workers; got != 3 {
		t.Fatalf("Get().Engine.Workers = %d", got)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Watch did not return after cancel")
	}
}

func TestWatchBackoffGrowsWithJitter(t *testing.T) {
	t.Parallel()
	b := newBackoff()
	base := restartBackoffBase
	for i := 0; i < 8; i++ {
		wait := b.next()
		if wait < base || wait > base+base/2 {
			t.Fatalf("step %d: wait %s outside [%s, %s]", i, wait, base, base+base/2)
		}
		base = min(base*2, restartBackoffMax)
	}
	b.reset()
	if wait := b.next(); wait > restartBackoffBase+restartBackoffBase/2 {
		t.Fatalf("wait after reset = %s", wait)
	}
}
