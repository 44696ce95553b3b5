// Package resultstore reads crawler artifacts and the historical result tree.
package resultstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrNotFound is returned when an artifact does not exist.
var ErrNotFound = errors.New("artifact not found")

// ParseError reports an artifact whose content is not valid JSON.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %v", e.Path, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// IOError reports a filesystem failure other than absence.
type IOError struct {
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("read %s: %v", e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// Entry is one historical result file.
type Entry struct {
	Category string          `json:"category"`
	File     string          `json:"file"`
	Data     json.RawMessage `json:"data"`
}

// Exists reports whether path names an existing file.
func Exists(path string) (bool, error) {
	_, err := os.Stat(path)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, &IOError{Path: path, Err: err}
	}
}

// Read loads and validates the JSON document at path. The bytes are returned
// untouched so callers can forward the payload as-is.
func Read(path string) (json.RawMessage, error) {
	ok, err := Exists(path)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%s: %w", path, ErrNotFound)
	}
	data, err := os.ReadFile(path) // #nosec G304 -- paths come from the job layout and the configured results dir
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", path, ErrNotFound)
		}
		return nil, &IOError{Path: path, Err: err}
	}
	if !jsonAPI.Valid(data) {
		var probe any
		perr := jsonAPI.Unmarshal(data, &probe)
		if perr == nil {
			perr = errors.New("invalid JSON document")
		}
		return nil, &ParseError{Path: path, Err: perr}
	}
	return json.RawMessage(data), nil
}

// Remove deletes path; a missing file is not an error.
func Remove(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return &IOError{Path: path, Err: err}
	}
	return nil
}

// ReadHistory walks root/<category>/*.json, exactly one directory level deep.
// os.ReadDir sorts by name, so entries come back ordered by category then
// file. Per-file failures are collected and skipped; the returned error is non-nil
// only when root itself cannot be listed.
func ReadHistory(root string) ([]Entry, []error, error) {
	categories, err := os.ReadDir(root)
	if err != nil {
		return nil, nil, &IOError{Path: root, Err: err}
	}

	var (
		entries []Entry
		skipped []error
	)
	for _, category := range categories {
		if !category.IsDir() {
			continue
		}
		dir := filepath.Join(root, category.Name())
		files, err := os.ReadDir(dir)
		if err != nil {
			skipped = append(skipped, &IOError{Path: dir, Err: err})
			continue
		}
		for _, file := range files {
			if file.IsDir() || !strings.EqualFold(filepath.Ext(file.Name()), ".json") {
				continue
			}
			data, err := Read(filepath.Join(dir, file.Name()))
			if err != nil {
				skipped = append(skipped, err)
				continue
			}
			entries = append(entries, Entry{
				Category: category.Name(),
				File:     file.Name(),
				Data:     data,
			})
		}
	}
	return entries, skipped, nil
}
