package masking

import (
	"log/slog"
	"regexp"
	"slices"
)

// CompiledPattern holds a pre-compiled regex pattern with its replacement.
type CompiledPattern struct {
	Name        string
	Regex       *regexp.Regexp
	Replacement string
	Description string
}

// resolvedPatterns holds the resolved set of maskers and patterns for a
// masking pass, split into code maskers (structural) and regex patterns.
type resolvedPatterns struct {
	codeMaskerNames []string
	regexPatterns   []*CompiledPattern
}

// compileBuiltinPatterns compiles every built-in regex pattern. Invalid
// patterns are logged and skipped rather than failing service startup.
func (s *Service) compileBuiltinPatterns() {
	for name, pattern := range BuiltinPatterns() {
		compiled, err := regexp.Compile(pattern.Regex)
		if err != nil {
			slog.Error("failed to compile built-in masking pattern, skipping",
				"pattern", name, "error", err)
			continue
		}
		s.patterns[name] = &CompiledPattern{
			Name:        name,
			Regex:       compiled,
			Replacement: pattern.Replacement,
			Description: pattern.Description,
		}
	}
}

// resolveGroups expands a list of pattern group names into a deduplicated
// resolvedPatterns, categorizing each member as a code masker or a regex
// pattern.
func (s *Service) resolveGroups(groups []string) *resolvedPatterns {
	seen := make(map[string]bool)
	resolved := &resolvedPatterns{}

	for _, groupName := range groups {
		names, ok := s.patternGroups[groupName]
		if !ok {
			continue
		}
		for _, name := range names {
			if seen[name] {
				continue
			}
			seen[name] = true
			s.addToResolved(resolved, name)
		}
	}

	return resolved
}

func (s *Service) addToResolved(resolved *resolvedPatterns, name string) {
	if slices.Contains(s.codeMaskerNames, name) {
		resolved.codeMaskerNames = append(resolved.codeMaskerNames, name)
		return
	}
	if cp, ok := s.patterns[name]; ok {
		resolved.regexPatterns = append(resolved.regexPatterns, cp)
	}
}
