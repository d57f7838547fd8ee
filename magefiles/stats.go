// Copyright (c) 2026 Petar Djukic. All rights reserved.
// SPDX-License-Identifier: MIT

//go:build mage

package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/tabwriter"
)

// pkgStats is the size of one Go package directory.
type pkgStats struct {
	Dir       string `json:"dir"`
	Files     int    `json:"files"`
	ProdLines int    `json:"prod_lines"`
	TestLines int    `json:"test_lines"`
	Funcs     int    `json:"funcs"`
	Tests     int    `json:"tests"`
}

// skipDirs are never walked for source.
var skipDirs = map[string]bool{
	"vendor":    true,
	".git":      true,
	"_examples": true,
	"magefiles": true,
	binaryDir:   true,
	"testdata":  true,
	".stall":    true,
	".stall-db": true,
}

// Stats prints a per-package table of Go lines, functions and test
// functions, followed by a JSON totals line that also counts words in the
// root markdown files.
func Stats() error {
	pkgs, err := collectStats(".")
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "package\tfiles\tprod\ttest\tfuncs\ttests\t")
	var total pkgStats
	for _, p := range pkgs {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%d\t\n", p.Dir, p.Files, p.ProdLines, p.TestLines, p.Funcs, p.Tests)
		total.Files += p.Files
		total.ProdLines += p.ProdLines
		total.TestLines += p.TestLines
		total.Funcs += p.Funcs
		total.Tests += p.Tests
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	words, err := markdownWords("*.md")
	if err != nil {
		return err
	}
	line, err := json.Marshal(map[string]int{
		"packages":    len(pkgs),
		"go_loc_prod": total.ProdLines,
		"go_loc_test": total.TestLines,
		"go_funcs":    total.Funcs,
		"go_tests":    total.Tests,
		"doc_words":   words,
	})
	if err != nil {
		return err
	}
	fmt.Println(string(line))
	return nil
}

// collectStats parses every Go file under root and groups the counts by
// directory, sorted by directory name.
func collectStats(root string) ([]pkgStats, error) {
	byDir := make(map[string]*pkgStats)
	fset := token.NewFileSet()

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && skipDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if filepath.Ext(path) != ".go" {
			return nil
		}
		src, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		f, err := parser.ParseFile(fset, path, src, parser.SkipObjectResolution)
		if err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}

		dir := filepath.ToSlash(filepath.Dir(path))
		p, ok := byDir[dir]
		if !ok {
			p = &pkgStats{Dir: dir}
			byDir[dir] = p
		}
		p.Files++
		lines := bytes.Count(src, []byte("\n"))
		isTest := strings.HasSuffix(path, "_test.go")
		if isTest {
			p.TestLines += lines
		} else {
			p.ProdLines += lines
		}
		for _, decl := range f.Decls {
			fn, ok := decl.(*ast.FuncDecl)
			if !ok {
				continue
			}
			if isTest && fn.Recv == nil && strings.HasPrefix(fn.Name.Name, "Test") {
				p.Tests++
			} else if !isTest {
				p.Funcs++
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := make([]pkgStats, 0, len(byDir))
	for _, p := range byDir {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Dir < out[j].Dir })
	return out, nil
}

// markdownWords counts whitespace-separated words across files matching
// pattern.
func markdownWords(pattern string) (int, error) {
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			return 0, err
		}
		total += len(strings.Fields(string(data)))
	}
	return total, nil
}
