// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of tg-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package dimension

import (
	"fmt"
	"slices"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Domain restricts the values a stored dimension accepts. Either a
// numeric range (Min/Max, both optional) or an enumeration of strings.
type Domain struct {
	Min  *float64 `json:"min,omitempty"`
	Max  *float64 `json:"max,omitempty"`
	Enum []string `json:"enum,omitempty"`
}

func (d *Domain) IsEnum() bool {
	return len(d.Enum) > 0
}

// Contains reports whether value lies in the domain. Numeric values are
// coerced to float64 first; everything else fails for numeric domains.
func (d *Domain) Contains(value any) bool {
	if d.IsEnum() {
		s, ok := value.(string)
		return ok && slices.Contains(d.Enum, s)
	}

	f, ok := toFloat(value)
	if !ok {
		return false
	}
	if d.Min != nil && f < *d.Min {
		return false
	}
	if d.Max != nil && f > *d.Max {
		return false
	}
	return true
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}

// Descriptor describes one named dimension. Stored descriptors validate
// writes against their domain; derived descriptors have no stored points
// and compute their value from the Inputs dimensions via Rule, a pure
// expr-lang expression over the input names.
type Descriptor struct {
	Name        string   `json:"name"`
	DisplayName string   `json:"displayName,omitempty"`
	Unit        string   `json:"unit,omitempty"`
	Domain      Domain   `json:"domain"`
	Derived     bool     `json:"derived"`
	Inputs      []string `json:"inputs,omitempty"`
	Rule        string   `json:"rule,omitempty"`

	program *vm.Program
}

func (d *Descriptor) compile() error {
	if !d.Derived {
		return nil
	}
	if len(d.Inputs) == 0 || d.Rule == "" {
		return fmt.Errorf("derived dimension '%s' needs inputs and a rule", d.Name)
	}

	program, err := expr.Compile(d.Rule)
	if err != nil {
		return fmt.Errorf("compile rule of dimension '%s': %w", d.Name, err)
	}
	d.program = program
	return nil
}

// Validate reports whether value may be stored under this dimension.
func (d *Descriptor) Validate(value any) bool {
	if d.Derived {
		return false
	}
	return d.Domain.Contains(value)
}

// Derive evaluates the rule over one value per input dimension. All
// inputs must be present; the rule must yield a number.
func (d *Descriptor) Derive(inputs map[string]any) (float64, error) {
	if !d.Derived {
		return 0, fmt.Errorf("dimension '%s' is not derived", d.Name)
	}
	for _, name := range d.Inputs {
		if _, ok := inputs[name]; !ok {
			return 0, fmt.Errorf("derive '%s': missing input '%s'", d.Name, name)
		}
	}

	out, err := expr.Run(d.program, inputs)
	if err != nil {
		return 0, fmt.Errorf("derive '%s': %w", d.Name, err)
	}
	f, ok := toFloat(out)
	if !ok {
		return 0, fmt.Errorf("derive '%s': rule returned %T, want number", d.Name, out)
	}
	return f, nil
}

// Format renders a value for display, respecting the unit.
func (d *Descriptor) Format(value any) string {
	if value == nil {
		return "N/A"
	}
	if f, ok := toFloat(value); ok {
		if d.Unit == "" {
			return fmt.Sprintf("%.2f", f)
		}
		return fmt.Sprintf("%.2f %s", f, d.Unit)
	}
	if d.Unit == "" {
		return fmt.Sprint(value)
	}
	return fmt.Sprintf("%v %s", value, d.Unit)
}
