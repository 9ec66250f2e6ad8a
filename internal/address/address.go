// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of tg-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package address implements the hierarchical dotted-segment addresses
// nodes are known by ("IPs") and the allocator that hands them out as a
// tree grows.
package address

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	// SegMax is the largest value a single segment may carry.
	SegMax = 255
	// MaxSegments bounds the parseable address length; allocators
	// usually enforce a tighter depth.
	MaxSegments = 16
)

type InvalidAddressError struct {
	Address string
	Reason  string
}

func (e *InvalidAddressError) Error() string {
	return fmt.Sprintf("invalid address '%s': %s", e.Address, e.Reason)
}

// Address is an immutable hierarchical address, a non-empty sequence of
// segments in [0, SegMax]. The zero value is invalid; construct via
// Parse or the derivation methods.
type Address struct {
	segments []int
}

// Parse splits a dotted-segment string into an Address. Empty strings,
// non-numeric, over-range or over-length input is rejected.
func Parse(s string) (Address, error) {
	if s == "" {
		return Address{}, &InvalidAddressError{Address: s, Reason: "empty"}
	}

	parts := strings.Split(s, ".")
	if len(parts) > MaxSegments {
		return Address{}, &InvalidAddressError{
			Address: s,
			Reason:  fmt.Sprintf("too many segments: %d > %d", len(parts), MaxSegments),
		}
	}

	segments := make([]int, len(parts))
	for i, part := range parts {
		v, err := strconv.Atoi(part)
		if err != nil || part == "" || strings.HasPrefix(part, "-") || strings.HasPrefix(part, "+") {
			return Address{}, &InvalidAddressError{
				Address: s,
				Reason:  fmt.Sprintf("segment %d is not a number: '%s'", i+1, part),
			}
		}
		if v > SegMax {
			return Address{}, &InvalidAddressError{
				Address: s,
				Reason:  fmt.Sprintf("segment %d out of range: %d (allowed: 0-%d)", i+1, v, SegMax),
			}
		}
		segments[i] = v
	}

	return Address{segments: segments}, nil
}

// MustParse is Parse for trusted literals; it panics on error.
func MustParse(s string) Address {
	a, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return a
}

func (a Address) IsValid() bool {
	return len(a.segments) > 0
}

// Segments returns a copy of the segment sequence.
func (a Address) Segments() []int {
	return append([]int(nil), a.segments...)
}

// Depth is the number of segments minus one; a root address has depth 0.
func (a Address) Depth() int {
	return len(a.segments) - 1
}

func (a Address) String() string {
	var sb strings.Builder
	for i, s := range a.segments {
		if i > 0 {
			sb.WriteByte('.')
		}
		sb.WriteString(strconv.Itoa(s))
	}
	return sb.String()
}

func (a Address) IsRoot() bool {
	return len(a.segments) == 1
}

// Parent returns the address with the last segment removed. The second
// return is false for single-segment addresses.
func (a Address) Parent() (Address, bool) {
	if len(a.segments) <= 1 {
		return Address{}, false
	}
	return Address{segments: append([]int(nil), a.segments[:len(a.segments)-1]...)}, true
}

// Child appends child index i as a new last segment.
func (a Address) Child(i int) (Address, error) {
	if i < 0 || i > SegMax {
		return Address{}, &InvalidAddressError{
			Address: a.String(),
			Reason:  fmt.Sprintf("child index out of range: %d (allowed: 0-%d)", i, SegMax),
		}
	}
	if len(a.segments) >= MaxSegments {
		return Address{}, &InvalidAddressError{
			Address: a.String(),
			Reason:  fmt.Sprintf("too many segments: %d", len(a.segments)+1),
		}
	}
	segments := make([]int, len(a.segments)+1)
	copy(segments, a.segments)
	segments[len(a.segments)] = i
	return Address{segments: segments}, nil
}

// Sibling replaces the last segment by last+offset. The second return is
// false when the result would fall outside [0, SegMax].
func (a Address) Sibling(offset int) (Address, bool) {
	if len(a.segments) == 0 {
		return Address{}, false
	}
	last := a.segments[len(a.segments)-1] + offset
	if last < 0 || last > SegMax {
		return Address{}, false
	}
	segments := append([]int(nil), a.segments...)
	segments[len(segments)-1] = last
	return Address{segments: segments}, true
}

// IsAncestorOf reports whether a's segments are a strict prefix of
// other's.
func (a Address) IsAncestorOf(other Address) bool {
	if len(a.segments) >= len(other.segments) {
		return false
	}
	for i, s := range a.segments {
		if other.segments[i] != s {
			return false
		}
	}
	return true
}

func (a Address) Equal(other Address) bool {
	return a.Compare(other) == 0
}

// Compare orders addresses lexicographically by segments; a strict
// prefix sorts before its extensions.
func (a Address) Compare(other Address) int {
	n := min(len(a.segments), len(other.segments))
	for i := 0; i < n; i++ {
		if a.segments[i] != other.segments[i] {
			if a.segments[i] < other.segments[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(a.segments) < len(other.segments):
		return -1
	case len(a.segments) > len(other.segments):
		return 1
	default:
		return 0
	}
}

func (a Address) Less(other Address) bool {
	return a.Compare(other) < 0
}
