// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of tg-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package storage

import (
	"errors"
	"fmt"
)

const (
	KindMemory   = "memory"
	KindDocument = "document"
	KindSqlite   = "sqlite"
)

var (
	ErrTreeNotFound = errors.New("tree not found")
	ErrNodeNotFound = errors.New("node not found")
)

// Error wraps every backend failure with the operation and backend it
// came from. Match the cause with errors.Is/As through Unwrap.
type Error struct {
	Op      string
	Backend string
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("storage: %s on %s backend: %v", e.Op, e.Backend, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func wrap(op, backend string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Backend: backend, Err: err}
}
