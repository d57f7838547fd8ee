// Package jsonl provides JSON Lines read/write helpers with atomic
// persistence. The local ledger snapshots and the export command use it.
package jsonl

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrMalformed reports a line that is not valid JSON.
var ErrMalformed = errors.New("malformed JSONL line")

// Read reads a JSONL file and returns each non-empty, parseable line as a
// json.RawMessage. Malformed lines are skipped. A missing file yields no
// records and no error.
func Read(path string) ([]json.RawMessage, error) {
	return read(path, false)
}

// ReadStrict is Read, but a malformed line fails the whole read with
// ErrMalformed and its line number.
func ReadStrict(path string) ([]json.RawMessage, error) {
	return read(path, true)
}

func read(path string, strict bool) ([]json.RawMessage, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	var records []json.RawMessage
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for n := 1; scanner.Scan(); n++ {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if !json.Valid(line) {
			if strict {
				return nil, fmt.Errorf("%s line %d: %w", path, n, ErrMalformed)
			}
			continue
		}
		cp := make([]byte, len(line))
		copy(cp, line)
		records = append(records, json.RawMessage(cp))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scanning %s: %w", path, err)
	}
	return records, nil
}

// Write atomically writes records to a JSONL file using the temp-file,
// fsync, rename pattern.
func Write(path string, records []json.RawMessage) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".jsonl-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()

	w := bufio.NewWriter(tmp)
	for _, rec := range records {
		if _, err := w.Write(rec); err != nil {
			tmp.Close()
			os.Remove(tmpName)
			return fmt.Errorf("writing record: %w", err)
		}
		if err := w.WriteByte('\n'); err != nil {
			tmp.Close()
			os.Remove(tmpName)
			return fmt.Errorf("writing newline: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("flushing buffer: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("syncing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("renaming temp file: %w", err)
	}
	return nil
}

// WriteValues marshals each value and writes the result with Write.
func WriteValues[T any](path string, values []T) error {
	records := make([]json.RawMessage, 0, len(values))
	for i := range values {
		data, err := json.Marshal(values[i])
		if err != nil {
			return fmt.Errorf("marshaling record %d: %w", i, err)
		}
		records = append(records, data)
	}
	return Write(path, records)
}

// ReadValues reads path and unmarshals every record into T.
func ReadValues[T any](path string) ([]T, error) {
	records, err := Read(path)
	if err != nil {
		return nil, err
	}
	return decode[T](path, records)
}

// ReadValuesStrict is ReadValues over ReadStrict.
func ReadValuesStrict[T any](path string) ([]T, error) {
	records, err := ReadStrict(path)
	if err != nil {
		return nil, err
	}
	return decode[T](path, records)
}

func decode[T any](path string, records []json.RawMessage) ([]T, error) {
	out := make([]T, 0, len(records))
	for i, rec := range records {
		var v T
		if err := json.Unmarshal(rec, &v); err != nil {
			return nil, fmt.Errorf("decoding record %d of %s: %w", i, path, err)
		}
		out = append(out, v)
	}
	return out, nil
}
