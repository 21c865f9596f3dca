package connector

import "strings"

// BindTemplate substitutes {name} placeholders in tmpl with inputs. When
// shell is true, each value is single-quote wrapped with embedded single
// quotes escaped before substitution — the runbook step is explicitly
// marked as requiring a shell, so values must survive shell re-parsing
// without letting an attacker-controlled ticket field inject metacharacters
// (§4.4 SSH contract, generalized to every connector that binds templates).
// When shell is false, values are substituted as-is: the caller is
// expected to pass the realized Text to a connector that executes it
// without a shell in between (Local, SSH non-shell exec), so there is no
// shell to escape for.
func BindTemplate(tmpl string, inputs map[string]string, shell bool) string {
	out := tmpl
	for name, value := range inputs {
		placeholder := "{" + name + "}"
		if shell {
			value = shellQuote(value)
		}
		out = strings.ReplaceAll(out, placeholder, value)
	}
	return out
}

// shellQuote wraps s in single quotes, escaping any embedded single quote
// as '\'' (close quote, escaped literal quote, reopen quote).
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
