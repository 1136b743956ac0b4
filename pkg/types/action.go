package types

import (
	"fmt"
	"strings"
)

type Action string

const (
	ActionAdd     Action = "add"
	ActionEnable  Action = "enable"
	ActionRemove  Action = "remove"
	ActionDisable Action = "disable"
)

// Actions lists the accepted actions in help-text order.
var Actions = []Action{ActionAdd, ActionEnable, ActionRemove, ActionDisable}

func ParseAction(s string) (Action, error) {
	a := Action(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Actions {
		if a == known {
			return a, nil
		}
	}
	return "", fmt.Errorf("invalid action %q (choose from add, enable, remove, disable)", s)
}

// OverrideMode selects the administrative override. With an override the
// bundle resolver is bypassed and targets are used as given.
type OverrideMode string

const (
	OverrideNone OverrideMode = ""
	// OverrideApp treats targets as bundle identifiers that need not exist.
	OverrideApp OverrideMode = "app"
	// OverrideBin treats targets as absolute paths to executables.
	OverrideBin OverrideMode = "bin"
)

func (m OverrideMode) Enabled() bool { return m != OverrideNone }
