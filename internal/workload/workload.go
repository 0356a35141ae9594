// Package workload describes synthetic scheduler workloads, loaded from YAML,
// and drives them against a scheduler.
package workload

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/joeycumines/go-scheduler"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

type (
	// Workload is the root of a workload file.
	Workload struct {
		Name string `yaml:"name"`
		// Timeout bounds the whole run, if positive.
		Timeout time.Duration `yaml:"timeout"`
		Tasks   []TaskSpec    `yaml:"tasks"`
	}

	// TaskSpec describes a group of identical tasks.
	TaskSpec struct {
		Name     string `yaml:"name"`
		Priority string `yaml:"priority"`
		// Cron delays the first enqueue until the schedule's next activation.
		Cron  string        `yaml:"cron"`
		Delay time.Duration `yaml:"delay"`
		// Work is the simulated duration of each run. Synchronous tasks
		// sleep, blocking the host, while async tasks settle after it.
		Work time.Duration `yaml:"work"`
		// CancelAfter cancels persistent tasks, once elapsed from enqueue.
		CancelAfter time.Duration `yaml:"cancel_after"`
		// Repeat is the number of tasks to enqueue, defaulting to 1.
		Repeat int `yaml:"repeat"`
		// Rate limits enqueues per second, if positive.
		Rate       float64 `yaml:"rate"`
		Preempt    bool    `yaml:"preempt"`
		Persistent bool    `yaml:"persistent"`
		Reusable   bool    `yaml:"reusable"`
		Async      bool    `yaml:"async"`
		Fail       bool    `yaml:"fail"`
	}
)

var cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Load reads and validates the workload file at path.
func Load(path string) (*Workload, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	w, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf(`workload: %s: %w`, path, err)
	}
	return w, nil
}

// Parse decodes and validates a workload. Unknown fields are rejected.
func Parse(r io.Reader) (*Workload, error) {
	d := yaml.NewDecoder(r)
	d.KnownFields(true)
	var w Workload
	if err := d.Decode(&w); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New(`empty document`)
		}
		return nil, err
	}
	if err := w.Validate(); err != nil {
		return nil, err
	}
	return &w, nil
}

// Validate reports every problem with the workload.
func (w *Workload) Validate() error {
	var errs []error
	if w.Timeout < 0 {
		errs = append(errs, errors.New(`negative timeout`))
	}
	if len(w.Tasks) == 0 {
		errs = append(errs, errors.New(`no tasks`))
	}
	names := make(map[string]struct{}, len(w.Tasks))
	for i := range w.Tasks {
		t := &w.Tasks[i]
		label := t.Name
		if label == `` {
			label = fmt.Sprintf(`#%d`, i)
			errs = append(errs, fmt.Errorf(`task %s: missing name`, label))
		} else if _, ok := names[label]; ok {
			errs = append(errs, fmt.Errorf(`task %s: duplicate name`, label))
		}
		names[label] = struct{}{}
		for _, err := range t.validate() {
			errs = append(errs, fmt.Errorf(`task %s: %w`, label, err))
		}
	}
	return errors.Join(errs...)
}

func (t *TaskSpec) validate() []error {
	var errs []error
	priority, err := scheduler.ParsePriority(t.Priority)
	if err != nil {
		errs = append(errs, err)
	}
	if t.Cron != `` {
		if _, err := cronParser.Parse(t.Cron); err != nil {
			errs = append(errs, fmt.Errorf(`cron: %w`, err))
		}
	}
	for _, d := range [...]struct {
		name  string
		value time.Duration
	}{
		{`delay`, t.Delay},
		{`work`, t.Work},
		{`cancel_after`, t.CancelAfter},
	} {
		if d.value < 0 {
			errs = append(errs, fmt.Errorf(`negative %s`, d.name))
		}
	}
	if t.Repeat < 0 {
		errs = append(errs, errors.New(`negative repeat`))
	}
	if t.Rate < 0 {
		errs = append(errs, errors.New(`negative rate`))
	}
	if t.Preempt && (t.Delay > 0 || t.Cron != ``) {
		errs = append(errs, errors.New(`preempt cannot be delayed`))
	}
	if t.Preempt && t.Persistent {
		errs = append(errs, errors.New(`preempt cannot be persistent`))
	}
	if t.Persistent && err == nil && priority == scheduler.PriorityMicrotask {
		errs = append(errs, errors.New(`microtasks cannot be persistent`))
	}
	if t.CancelAfter > 0 && !t.Persistent {
		errs = append(errs, errors.New(`cancel_after requires persistent`))
	}
	return errs
}

// Count returns the number of tasks the spec enqueues.
func (t *TaskSpec) Count() int {
	return max(1, t.Repeat)
}

// Options returns the queue options for the spec, given an extra initial
// delay (e.g. until a cron activation).
func (t *TaskSpec) Options(extra time.Duration) *scheduler.QueueTaskOptions {
	opts := scheduler.QueueTaskOptions{
		Delay:      t.Delay + extra,
		Preempt:    t.Preempt,
		Persistent: t.Persistent,
		Reusable:   t.Reusable,
	}
	return &opts
}

// untilCron returns the time from now, until the next activation of the
// spec's cron schedule, or zero if it has none.
func (t *TaskSpec) untilCron(now time.Time) time.Duration {
	if t.Cron == `` {
		return 0
	}
	s, err := cronParser.Parse(t.Cron)
	if err != nil {
		return 0
	}
	return max(0, s.Next(now).Sub(now))
}
