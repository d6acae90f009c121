// Package document loads uploaded files into domain documents.
package document

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"docqa/internal/domain"
)

// MaxSize is the largest accepted upload.
const MaxSize = 50 << 20

var (
	ErrTooLarge    = errors.New("document exceeds 50 MiB")
	ErrUnsupported = errors.New("unsupported document type")
)

type layoutFile struct {
	Pages []domain.Page `json:"pages"`
}

// Load reads a .txt, .md or layout .json file. Layout documents get their
// plain text derived from the pages.
func Load(path string) (domain.Document, error) {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".txt", ".md", ".json":
	default:
		return domain.Document{}, fmt.Errorf("%w: %s", ErrUnsupported, path)
	}
	f, err := os.Open(path)
	if err != nil {
		return domain.Document{}, err
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, MaxSize+1))
	if err != nil {
		return domain.Document{}, fmt.Errorf("read %s: %w", path, err)
	}
	if len(data) > MaxSize {
		return domain.Document{}, fmt.Errorf("%w: %s", ErrTooLarge, path)
	}
	doc := domain.Document{ID: hashString(path), Path: path}
	if ext == ".json" {
		var lf layoutFile
		if err := json.Unmarshal(data, &lf); err != nil {
			return domain.Document{}, fmt.Errorf("parse layout %s: %w", path, err)
		}
		doc.Pages = lf.Pages
		doc.Content = PlainText(lf.Pages)
		return doc, nil
	}
	doc.Content = string(data)
	return doc, nil
}

// PlainText joins the spans of each page with a space and the pages with a
// newline. Empty spans are dropped.
func PlainText(pages []domain.Page) string {
	out := make([]string, 0, len(pages))
	for _, page := range pages {
		var parts []string
		for _, line := range page {
			for _, sp := range line {
				if t := strings.TrimSpace(sp.Text); t != "" {
					parts = append(parts, t)
				}
			}
		}
		out = append(out, strings.Join(parts, " "))
	}
	return strings.Join(out, "\n")
}

func hashString(s string) string {
	h := sha1.Sum([]byte(s))
	return hex.EncodeToString(h[:8])
}
