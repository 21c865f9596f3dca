package models

import (
	"regexp"
	"strings"
)

func containsLiteral(output, pattern string) bool {
	return strings.Contains(output, pattern)
}

func matchesRegex(output, pattern string) (bool, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return false, err
	}
	return re.MatchString(output), nil
}
