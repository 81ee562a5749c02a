package repo

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/moonwalker/tuner/pkg/rules"
)

// Diff describes what changed between two versions of a rule.
func Diff(old *rules.Rule, new *rules.Rule) []string {
	res := make([]string, 0)

	// string fields
	if old.Name != new.Name {
		res = append(res, fmt.Sprintf("Name updated to %s", new.Name))
	}
	if old.Description != new.Description {
		res = append(res, fmt.Sprintf("Description updated to %s", new.Description))
	}

	// int fields
	if old.Priority != new.Priority {
		res = append(res, fmt.Sprintf("Priority updated to %d", new.Priority))
	}

	if old.Enabled != new.Enabled {
		if new.Enabled {
			res = append(res, "Rule enabled")
		} else {
			res = append(res, "Rule disabled")
		}
	}

	if !reflect.DeepEqual(old.Tags, new.Tags) {
		res = append(res, fmt.Sprintf("Tags updated to %s", strings.Join(new.Tags, ",")))
	}

	res = append(res, diffConditions(old.Conditions, new.Conditions)...)
	res = append(res, diffActions(old.Actions, new.Actions)...)

	return res
}

func diffConditions(old rules.Conditions, new rules.Conditions) []string {
	res := make([]string, 0)

	for _, oc := range old {
		nv, found := new.Get(oc.Key)
		if !found {
			res = append(res, fmt.Sprintf("Condition %s was removed", oc.Key))
		} else if !reflect.DeepEqual(oc.Value, nv) {
			res = append(res, fmt.Sprintf("Condition %s changed to %v", oc.Key, nv))
		}
	}

	for _, nc := range new {
		if _, found := old.Get(nc.Key); !found {
			res = append(res, fmt.Sprintf("Condition %s was added (Value: %v)", nc.Key, nc.Value))
		}
	}

	return res
}

func diffActions(old []*rules.Action, new []*rules.Action) []string {
	res := make([]string, 0)

	n := len(old)
	if len(new) > n {
		n = len(new)
	}

	for i := 0; i < n; i++ {
		switch {
		case i >= len(new):
			res = append(res, fmt.Sprintf("Action %d (%s) was removed", i, old[i].Type))
		case i >= len(old):
			res = append(res, fmt.Sprintf("Action %d (%s) was added", i, new[i].Type))
		case old[i].Type != new[i].Type:
			res = append(res, fmt.Sprintf("Action %d type changed from %s to %s", i, old[i].Type, new[i].Type))
		case !reflect.DeepEqual(old[i].Params, new[i].Params):
			res = append(res, fmt.Sprintf("Parameters of action %d (%s) changed", i, new[i].Type))
		}
	}

	return res
}
