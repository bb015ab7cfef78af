package namespace

import (
	"fmt"
	"sort"
	"strings"
)

// RootDepth is the number of path segments that make up a namespace root.
const RootDepth = 3

// Well-known namespace roots of the storage tier.
const (
	RootData = "/store/data"
	RootMC   = "/store/mc"
	RootUser = "/store/user"
)

// Root returns the first RootDepth "/"-delimited segments of path. A leading
// slash produces an empty first segment, so "/store/data/x" yields
// "/store/data".
func Root(path string) string {
	parts := strings.SplitN(path, "/", RootDepth+1)
	if len(parts) > RootDepth {
		parts = parts[:RootDepth]
	}
	return strings.Join(parts, "/")
}

// Segment returns the i-th "/"-delimited segment of path, or "" when the path
// is shorter.
func Segment(path string, i int) string {
	parts := strings.Split(path, "/")
	if i < 0 || i >= len(parts) {
		return ""
	}
	return parts[i]
}

// Rule rewrites a namespace root for records of a given category.
type Rule struct {
	Root        string `yaml:"root"`
	Category    string `yaml:"category"`
	Replacement string `yaml:"replacement"`
}

// Matches reports whether the rule applies. A record without a category
// never matches.
func (r Rule) Matches(root, category string) bool {
	return category != "" && category == r.Category && root == r.Root
}

// DefaultRules tags RAW data files with a synthetic root.
var DefaultRules = []Rule{
	{Root: RootData, Category: "RAW", Replacement: RootData + "/.../RAW"},
}

// Rewriter applies an ordered rule table. The first matching rule wins.
type Rewriter struct {
	rules []Rule
}

// NewRewriter validates rules and builds a Rewriter.
func NewRewriter(rules []Rule) (*Rewriter, error) {
	for i, r := range rules {
		if r.Root == "" || r.Category == "" || r.Replacement == "" {
			return nil, fmt.Errorf("namespace: rule %d: root, category and replacement are required", i)
		}
	}
	cp := make([]Rule, len(rules))
	copy(cp, rules)
	return &Rewriter{rules: cp}, nil
}

// Rewrite returns the root a record should be filed under.
func (rw *Rewriter) Rewrite(root, category string) string {
	if rw == nil {
		return root
	}
	for _, r := range rw.rules {
		if r.Matches(root, category) {
			return r.Replacement
		}
	}
	return root
}

// Classifier maps paths to named categories by longest matching prefix.
type Classifier struct {
	entries []classEntry
}

type classEntry struct {
	prefix string // e.g. "/store/mc"
	name   string
}

// NewClassifier creates a Classifier from name → prefix pairs. Prefixes are
// sorted longest-first so the most specific match wins.
func NewClassifier(prefixes map[string]string) *Classifier {
	entries := make([]classEntry, 0, len(prefixes))
	for name, p := range prefixes {
		p = "/" + strings.Trim(p, "/")
		entries = append(entries, classEntry{prefix: p, name: name})
	}
	sort.Slice(entries, func(i, j int) bool {
		if len(entries[i].prefix) != len(entries[j].prefix) {
			return len(entries[i].prefix) > len(entries[j].prefix)
		}
		return entries[i].name < entries[j].name
	})
	return &Classifier{entries: entries}
}

// Classify returns the category name of path, or "" if no prefix matches.
func (c *Classifier) Classify(path string) string {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	for _, e := range c.entries {
		if path == e.prefix || strings.HasPrefix(path, e.prefix+"/") {
			return e.name
		}
	}
	return ""
}
