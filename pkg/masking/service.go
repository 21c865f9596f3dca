package masking

import "log/slog"

// Service redacts credential-shaped substrings from captured step output
// before it is persisted or streamed to operators (§4.2 step 4). Created
// once per worker process; thread-safe and stateless aside from its
// compiled patterns.
type Service struct {
	groups          []string
	patterns        map[string]*CompiledPattern
	patternGroups   map[string][]string
	codeMaskers     map[string]Masker
	codeMaskerNames []string
}

// NewService compiles the built-in patterns and registers the code-based
// maskers, scoping redaction to the given pattern groups (typically
// config.ConnectorConfig.OutputMaskingPatternGroups). All patterns are
// compiled eagerly; invalid patterns are logged and skipped rather than
// failing startup.
func NewService(groups []string) *Service {
	s := &Service{
		groups:        groups,
		patterns:      make(map[string]*CompiledPattern),
		patternGroups: PatternGroups(),
		codeMaskers:   make(map[string]Masker),
	}

	s.compileBuiltinPatterns()
	s.registerMasker(&KubernetesSecretMasker{})
	s.codeMaskerNames = CodeMaskers()

	slog.Info("masking service initialized",
		"pattern_groups", groups,
		"compiled_patterns", len(s.patterns),
		"code_maskers", len(s.codeMaskers))

	return s
}

// Redact scrubs credential-shaped content from step output. Masking in
// this path is fail-closed: a panic recovered mid-pass returns a redaction
// notice rather than the partially-masked (and therefore untrustworthy)
// content, since the caller's only use for this output is showing it to an
// operator or writing it to durable storage.
func (s *Service) Redact(content string) (result string) {
	if content == "" {
		return content
	}

	defer func() {
		if r := recover(); r != nil {
			slog.Error("output redaction panicked, discarding content (fail-closed)", "recover", r)
			result = "[REDACTED: output sanitization failure]"
		}
	}()

	resolved := s.resolveGroups(s.groups)
	if len(resolved.codeMaskerNames) == 0 && len(resolved.regexPatterns) == 0 {
		return content
	}

	return s.applyMasking(content, resolved)
}

// applyMasking applies code-based maskers (structural, more specific) then
// regex patterns (general sweep) to content.
func (s *Service) applyMasking(content string, resolved *resolvedPatterns) string {
	masked := content

	for _, name := range resolved.codeMaskerNames {
		masker, ok := s.codeMaskers[name]
		if !ok {
			continue
		}
		if masker.AppliesTo(masked) {
			masked = masker.Mask(masked)
		}
	}

	for _, pattern := range resolved.regexPatterns {
		masked = pattern.Regex.ReplaceAllString(masked, pattern.Replacement)
	}

	return masked
}

func (s *Service) registerMasker(m Masker) {
	s.codeMaskers[m.Name()] = m
}
