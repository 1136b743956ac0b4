package types

import (
	"errors"
	"fmt"
)

// Result is the outcome of one action applied to one target.
type Result struct {
	Service string
	Action  Action
	Target  string
	Err     error
}

func (r Result) OK() bool { return r.Err == nil }

func (r Result) String() string {
	target := r.Target
	if target == "" {
		target = "(global)"
	}
	if r.Err != nil {
		return fmt.Sprintf("%s %s %s: %v", r.Action, r.Service, target, r.Err)
	}
	return fmt.Sprintf("%s %s %s: ok", r.Action, r.Service, target)
}

// Report collects the results of a batch run in target order.
type Report struct {
	Results []Result
}

func (r *Report) Add(res Result) {
	r.Results = append(r.Results, res)
}

func (r Report) Failed() []Result {
	var out []Result
	for _, res := range r.Results {
		if !res.OK() {
			out = append(out, res)
		}
	}
	return out
}

// Err joins the errors of every failed target, or returns nil.
func (r Report) Err() error {
	var errs []error
	for _, res := range r.Failed() {
		errs = append(errs, fmt.Errorf("%s: %w", displayTarget(res.Target), res.Err))
	}
	return errors.Join(errs...)
}

func displayTarget(t string) string {
	if t == "" {
		return "(global)"
	}
	return t
}
