package repoview

import (
	"path/filepath"
	"strings"
)

// defaultIgnoreDirs are directory names skipped during every walk.
var defaultIgnoreDirs = map[string]bool{
	"node_modules": true, ".git": true, "__pycache__": true,
	"vendor": true, "dist": true, "build": true, "target": true,
	".next": true, ".nuxt": true, "venv": true, ".venv": true,
	".idea": true, ".vscode": true, "coverage": true,
	".cache": true, ".tmp": true, ".terraform": true,
}

// ignorePolicy combines the default ignore set with user-supplied
// globs (repo.ignore_globs) and hidden-file filtering.
//
// A glob library was considered for gitignore-style negation and
// directory-scoped patterns, but nothing in the retrieved corpus
// depends on one; matching is done with the standard library's
// filepath.Match against the basename, which is sufficient for the flat
// glob patterns configuration exposes (see DESIGN.md).
type ignorePolicy struct {
	extraGlobs []string
}

func newIgnorePolicy(extraGlobs []string) *ignorePolicy {
	return &ignorePolicy{extraGlobs: extraGlobs}
}

func (p *ignorePolicy) ignoreDir(name string) bool {
	if defaultIgnoreDirs[name] {
		return true
	}
	if strings.HasPrefix(name, ".") {
		return true
	}
	return p.matchesExtra(name)
}

func (p *ignorePolicy) ignoreFile(name string) bool {
	if strings.HasPrefix(name, ".") {
		return true
	}
	return p.matchesExtra(name)
}

func (p *ignorePolicy) matchesExtra(name string) bool {
	for _, g := range p.extraGlobs {
		if ok, _ := filepath.Match(g, name); ok {
			return true
		}
	}
	return false
}
