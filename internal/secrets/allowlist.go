package secrets

import (
	"fmt"
	"os"
	"regexp"

	"github.com/BurntSushi/toml"
)

// Allowlist holds user-supplied exclusions for the secret guard.
//
// File format (TOML):
//
//	[allowlist]
//	regexes   = ['example-key-[a-z]+']
//	stopwords = ['sample', 'placeholder']
type Allowlist struct {
	Regexes   []string
	StopWords []string
}

// Empty reports whether the allowlist excludes nothing.
func (a *Allowlist) Empty() bool {
	return a == nil || (len(a.Regexes) == 0 && len(a.StopWords) == 0)
}

// LoadAllowlist reads the allowlist at path. A missing file or empty path
// yields an empty allowlist; invalid TOML or regex patterns are errors.
func LoadAllowlist(path string) (*Allowlist, error) {
	if path == "" {
		return &Allowlist{}, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return &Allowlist{}, nil
	}

	var file struct {
		Allowlist struct {
			Regexes   []string
			StopWords []string `toml:"stopwords"`
		}
	}
	if _, err := toml.DecodeFile(path, &file); err != nil {
		return nil, fmt.Errorf("parse allowlist %s: %w", path, err)
	}

	// Fail fast on bad patterns so applyAllowlist can assume validity.
	for _, pattern := range file.Allowlist.Regexes {
		if _, err := regexp.Compile(pattern); err != nil {
			return nil, fmt.Errorf("invalid allowlist pattern %q in %s: %w", pattern, path, err)
		}
	}

	return &Allowlist{
		Regexes:   file.Allowlist.Regexes,
		StopWords: file.Allowlist.StopWords,
	}, nil
}
