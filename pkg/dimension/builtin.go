// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of tg-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package dimension

func ptr(f float64) *float64 { return &f }

// Builtins returns the canonical descriptor set: metered flow, reference
// flow and the derived loss rate. The loss rate is a fraction in [-1, 1]
// and defined as 0 when the reference flow is 0.
func Builtins() []*Descriptor {
	return []*Descriptor{
		{
			Name:        "metered",
			DisplayName: "Metered Flow",
			Unit:        "m³",
			Domain:      Domain{Min: ptr(0)},
		},
		{
			Name:        "reference",
			DisplayName: "Reference Flow",
			Unit:        "m³",
			Domain:      Domain{Min: ptr(0)},
		},
		{
			Name:        "loss_rate",
			DisplayName: "Loss Rate",
			Domain:      Domain{Min: ptr(-1), Max: ptr(1)},
			Derived:     true,
			Inputs:      []string{"metered", "reference"},
			Rule:        "reference == 0 ? 0.0 : (reference - metered) / reference",
		},
	}
}
