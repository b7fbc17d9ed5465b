package pages

import (
	"bufio"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Violation is one forbidden-term occurrence in a rendered file.
type Violation struct {
	File string // path relative to the scanned directory
	Line int    // 1-based line number
	Term string // the configured term that matched
}

// Scan walks dir and reports every case-insensitive occurrence of the given
// terms in rendered HTML files. A term appearing on three lines yields three
// violations; two terms on one line yield two. An empty term list means
// there is nothing to scan.
func Scan(dir string, terms []string) ([]Violation, error) {
	if len(terms) == 0 {
		return nil, nil
	}

	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("pages: scan %s: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("pages: scan %s: not a directory", dir)
	}

	lowered := make([]string, len(terms))
	for i, t := range terms {
		lowered[i] = strings.ToLower(t)
	}

	var violations []Violation
	walkErr := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.EqualFold(filepath.Ext(path), ".html") {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		found, err := scanFile(path, rel, terms, lowered)
		if err != nil {
			return err
		}
		violations = append(violations, found...)
		return nil
	})
	if walkErr != nil {
		return nil, fmt.Errorf("pages: scan %s: %w", dir, walkErr)
	}
	return violations, nil
}

func scanFile(path, rel string, terms, lowered []string) ([]Violation, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var found []Violation
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20) // embedded series JSON makes long lines
	for line := 1; sc.Scan(); line++ {
		text := strings.ToLower(sc.Text())
		for i, term := range lowered {
			if strings.Contains(text, term) {
				found = append(found, Violation{File: rel, Line: line, Term: terms[i]})
			}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return found, nil
}
