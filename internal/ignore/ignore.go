// Package ignore parses gitignore-style files so project seeding skips
// what the repository itself ignores.
package ignore

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
)

// Rule is one parsed ignore pattern.
type Rule struct {
	// Pattern is a filepath.Match glob over slash-separated paths.
	Pattern string
	// Anchored rules match only relative to the project root; unanchored
	// rules match any path segment at any depth.
	Anchored bool
	// DirOnly rules match directories and everything under them.
	DirOnly bool
}

// Parser reads and parses gitignore-style files.
type Parser struct {
	// IgnoreFiles is the list of ignore file names to look for.
	IgnoreFiles []string

	// Fallback rules apply when no ignore files are found.
	Fallback []Rule
}

// NewParser creates an ignore file parser. Fallback patterns use the same
// syntax as ignore file lines.
func NewParser(ignoreFiles, fallbackPatterns []string) *Parser {
	p := &Parser{IgnoreFiles: ignoreFiles}
	for _, pattern := range fallbackPatterns {
		if rule, ok := parseLine(pattern); ok {
			p.Fallback = append(p.Fallback, rule)
		}
	}
	return p
}

// NewDefaultParser returns a parser for the usual suspects: .gitignore and
// .flowdignore files, with dependency and build directories excluded when
// neither exists.
func NewDefaultParser() *Parser {
	return NewParser(
		[]string{".gitignore", ".flowdignore"},
		[]string{"node_modules/", "vendor/", "dist/", "__pycache__/"},
	)
}

// ParseProject reads all ignore files from the project root and returns
// the combined rules. If no ignore files are found, the fallback rules
// apply instead.
func (p *Parser) ParseProject(projectRoot string) ([]Rule, error) {
	var rules []Rule
	foundAny := false

	for _, ignoreFile := range p.IgnoreFiles {
		path := filepath.Join(projectRoot, ignoreFile)
		fileRules, err := p.parseFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}
		rules = append(rules, fileRules...)
		foundAny = true
	}

	if !foundAny {
		return p.Fallback, nil
	}
	return rules, nil
}

// Matches reports whether the slash-separated path rel, relative to the
// project root, is ignored by rules. isDir says whether rel names a
// directory; a directory match covers everything beneath it.
func Matches(rules []Rule, rel string, isDir bool) bool {
	if rel == "" || rel == "." {
		return false
	}
	for _, rule := range rules {
		if rule.matches(rel, isDir) {
			return true
		}
	}
	return false
}

func (r Rule) matches(rel string, isDir bool) bool {
	if r.Anchored {
		// Match the path itself, then each ancestor directory.
		if ok, _ := filepath.Match(r.Pattern, rel); ok {
			return isDir || !r.DirOnly
		}
		for dir := parentDir(rel); dir != ""; dir = parentDir(dir) {
			if ok, _ := filepath.Match(r.Pattern, dir); ok {
				return true
			}
		}
		return false
	}

	segments := strings.Split(rel, "/")
	for i, segment := range segments {
		ok, _ := filepath.Match(r.Pattern, segment)
		if !ok {
			continue
		}
		last := i == len(segments)-1
		if !last || isDir || !r.DirOnly {
			return true
		}
	}
	return false
}

func parentDir(rel string) string {
	idx := strings.LastIndexByte(rel, '/')
	if idx < 0 {
		return ""
	}
	return rel[:idx]
}

// parseFile reads a single gitignore-style file and returns its rules.
func (p *Parser) parseFile(path string) ([]Rule, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var rules []Rule
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		if rule, ok := parseLine(scanner.Text()); ok {
			rules = append(rules, rule)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return rules, nil
}

// parseLine parses one ignore file line. Comments, blanks and negations
// (unsupported) yield ok=false.
func parseLine(line string) (Rule, bool) {
	line = strings.TrimRight(line, " \t")
	if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "!") {
		return Rule{}, false
	}

	var rule Rule
	if strings.HasSuffix(line, "/") {
		rule.DirOnly = true
		line = strings.TrimSuffix(line, "/")
	}
	if strings.HasPrefix(line, "/") {
		rule.Anchored = true
		line = strings.TrimPrefix(line, "/")
	}
	// A slash inside the pattern also anchors it, per gitignore.
	if strings.Contains(line, "/") {
		rule.Anchored = true
	}
	if line == "" {
		return Rule{}, false
	}

	rule.Pattern = line
	return rule, true
}
