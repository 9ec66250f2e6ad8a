// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of tg-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package schema

import (
	"embed"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*
var schemaFiles embed.FS

// ValidationError names the embedded schema a document failed against.
type ValidationError struct {
	Schema string
	Err    error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("document does not match schema '%s': %v", e.Schema, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

var (
	schemaMu    sync.Mutex
	schemaCache = map[string]*jsonschema.Schema{}
)

// compiled returns the compiled embedded schema for name, compiling at
// most once per process.
func compiled(name string) (*jsonschema.Schema, error) {
	schemaMu.Lock()
	defer schemaMu.Unlock()

	if s, ok := schemaCache[name]; ok {
		return s, nil
	}

	f, err := schemaFiles.Open("schemas/" + name)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	url := "embedfs://schemas/" + name
	c := jsonschema.NewCompiler()
	if err := c.AddResource(url, f); err != nil {
		return nil, err
	}
	s, err := c.Compile(url)
	if err != nil {
		return nil, err
	}
	schemaCache[name] = s
	return s, nil
}

func validateAgainst(name string, r io.Reader) error {
	s, err := compiled(name)
	if err != nil {
		return err
	}

	var v interface{}
	if err := json.NewDecoder(r).Decode(&v); err != nil {
		return fmt.Errorf("decode candidate for schema '%s': %w", name, err)
	}

	if err := s.Validate(v); err != nil {
		return &ValidationError{Schema: name, Err: err}
	}
	return nil
}

// ValidateConfig checks a configuration file against the embedded
// config schema.
func ValidateConfig(r io.Reader) error {
	return validateAgainst("config.schema.json", r)
}

// ValidateDocument checks a document-store file against the embedded
// on-disk document schema.
func ValidateDocument(r io.Reader) error {
	return validateAgainst("document.schema.json", r)
}
