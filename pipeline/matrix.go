package pipeline

import (
	"sort"
	"strings"
)

// Matrix expands a step template across the cartesian product of
// named axes, minus excluded combinations.
type Matrix struct {
	Axes    []Axis
	Exclude []Exclude
	Body    *Step
}

type Axis struct {
	Name   string
	Values []string
}

// Exclude is a conjunction of axis == value terms; a cell matching
// every term is dropped.
type Exclude map[string]string

// Cell is one surviving combination of axis values.
type Cell struct {
	Name   string
	Values map[string]string
}

// Cells computes the surviving combinations in a deterministic
// order: the last declared axis varies fastest.
func (m *Matrix) Cells() []Cell {
	combos := []map[string]string{{}}
	for _, axis := range m.Axes {
		next := make([]map[string]string, 0, len(combos)*len(axis.Values))
		for _, combo := range combos {
			for _, v := range axis.Values {
				c := make(map[string]string, len(combo)+1)
				for k, cv := range combo {
					c[k] = cv
				}
				c[axis.Name] = v
				next = append(next, c)
			}
		}
		combos = next
	}

	var cells []Cell
	for _, combo := range combos {
		if m.excluded(combo) {
			continue
		}
		cells = append(cells, Cell{Name: cellName(combo), Values: combo})
	}
	return cells
}

func (m *Matrix) excluded(combo map[string]string) bool {
	for _, ex := range m.Exclude {
		if len(ex) == 0 {
			continue
		}
		match := true
		for axis, value := range ex {
			if combo[axis] != value {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

func cellName(combo map[string]string) string {
	keys := make([]string, 0, len(combo))
	for k := range combo {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+combo[k])
	}
	return strings.Join(parts, ",")
}

func (m *Matrix) validate() error {
	if len(m.Axes) == 0 {
		return validationErrorf("matrix needs at least one axis")
	}
	seen := make(map[string]bool, len(m.Axes))
	for _, axis := range m.Axes {
		if axis.Name == "" {
			return validationErrorf("matrix axis name cannot be empty")
		}
		if seen[axis.Name] {
			return validationErrorf("duplicate matrix axis %q", axis.Name)
		}
		seen[axis.Name] = true
		if len(axis.Values) == 0 {
			return validationErrorf("matrix axis %q needs at least one value", axis.Name)
		}
	}
	for _, ex := range m.Exclude {
		for axis := range ex {
			if !seen[axis] {
				return validationErrorf("matrix exclude references unknown axis %q", axis)
			}
		}
	}
	if m.Body == nil {
		return validationErrorf("matrix needs a body step")
	}
	return m.Body.validate()
}
