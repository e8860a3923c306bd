// Package linklist reads and writes the link-list artifact shared by the
// spider and the extraction pipeline: a CSV file with a single "Links" column.
package linklist

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Header is the column name of the link-list artifact.
const Header = "Links"

// ErrNotExist is returned by Read when the artifact has not been written.
var ErrNotExist = errors.New("link list does not exist")

// Decode parses a link list, skipping the header row and blank entries.
func Decode(r io.Reader) ([]string, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("decode link list: %w", err)
	}
	links := make([]string, 0, len(records))
	for i, record := range records {
		if len(record) == 0 {
			continue
		}
		link := strings.TrimSpace(record[0])
		if i == 0 && link == Header {
			continue
		}
		if link == "" {
			continue
		}
		links = append(links, link)
	}
	return links, nil
}

// Encode writes the header followed by one row per link.
func Encode(w io.Writer, links []string) error {
	writer := csv.NewWriter(w)
	if err := writer.Write([]string{Header}); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, link := range links {
		if err := writer.Write([]string{link}); err != nil {
			return fmt.Errorf("write link: %w", err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("flush link list: %w", err)
	}
	return nil
}

// Read loads the link list at path. A missing file yields ErrNotExist.
func Read(path string) ([]string, error) {
	// #nosec G304 -- path is built by the service from its artifact directory.
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotExist
		}
		return nil, fmt.Errorf("open link list: %w", err)
	}
	defer func() { _ = f.Close() }()
	return Decode(f)
}

// Write creates (or truncates) the link list at path, creating parent directories.
func Write(path string, links []string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create link list dir: %w", err)
	}
	// #nosec G304 -- path is supplied by the operator or the orchestrator.
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("create link list: %w", err)
	}
	if err := Encode(f, links); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close link list: %w", err)
	}
	return nil
}
