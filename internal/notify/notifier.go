package notify

import (
	"context"
	"errors"
)

// RunSummary is the notification payload for one finished pipeline run.
type RunSummary struct {
	RunID         string            `json:"run_id"`
	DryRun        bool              `json:"dry_run"`
	Succeeded     int               `json:"succeeded"`
	Failed        int               `json:"failed"`
	AcceptedTotal int               `json:"accepted_total"`
	FailedDates   map[string]string `json:"failed_dates,omitempty"`
	ReportPath    string            `json:"report_path,omitempty"`
	Aborted       bool              `json:"aborted,omitempty"`
}

// OK reports whether the run had no failed dates.
func (s RunSummary) OK() bool {
	return s.Failed == 0 && !s.Aborted
}

// Notifier sends run notifications.
type Notifier interface {
	Notify(ctx context.Context, msg RunSummary) error
}

// MultiNotifier dispatches a summary to every notifier and joins their errors.
type MultiNotifier struct {
	notifiers []Notifier
}

// NewMultiNotifier constructs a MultiNotifier. Nil notifiers are skipped.
func NewMultiNotifier(notifiers ...Notifier) *MultiNotifier {
	m := &MultiNotifier{}
	for _, n := range notifiers {
		if n != nil {
			m.notifiers = append(m.notifiers, n)
		}
	}
	return m
}

// Len returns the number of notifiers.
func (m *MultiNotifier) Len() int {
	if m == nil {
		return 0
	}
	return len(m.notifiers)
}

// Notify forwards the summary to all notifiers.
func (m *MultiNotifier) Notify(ctx context.Context, msg RunSummary) error {
	if m == nil {
		return nil
	}
	var errs []error
	for _, n := range m.notifiers {
		if err := n.Notify(ctx, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// FailuresOnly wraps a notifier so it only fires for runs with failures.
func FailuresOnly(n Notifier) Notifier {
	return failuresOnly{next: n}
}

type failuresOnly struct {
	next Notifier
}

func (f failuresOnly) Notify(ctx context.Context, msg RunSummary) error {
	if msg.OK() || f.next == nil {
		return nil
	}
	return f.next.Notify(ctx, msg)
}
