package masking

// Pattern holds a named regex masking rule: the pattern to match and the
// literal replacement to substitute for it.
type Pattern struct {
	Regex       string
	Replacement string
	Description string
}

// BuiltinPatterns are the credential-shape patterns step output is checked
// against before it is persisted or streamed to operators (§4.2 step 4:
// "sanitize output by redacting patterns matching credential shapes").
func BuiltinPatterns() map[string]Pattern {
	return map[string]Pattern{
		"api_key": {
			Regex:       `(?i)(?:api[_-]?key|apikey|key)["\']?\s*[:=]\s*["\']?([A-Za-z0-9_\-]{20,})["\']?`,
			Replacement: `"api_key": "[MASKED_API_KEY]"`,
			Description: "API keys",
		},
		"password": {
			Regex:       `(?i)(?:password|pwd|pass)["\']?\s*[:=]\s*["\']?([^"\'\s\n]{6,})["\']?`,
			Replacement: `"password": "[MASKED_PASSWORD]"`,
			Description: "Passwords",
		},
		"certificate": {
			Regex:       `(?s)-----BEGIN [A-Z ]+-----.*?-----END [A-Z ]+-----`,
			Replacement: `[MASKED_CERTIFICATE]`,
			Description: "SSL/TLS certificates and private key blocks",
		},
		"certificate_authority_data": {
			Regex:       `(?i)certificate-authority-data:\s*([A-Za-z0-9+/]{20,}={0,2})`,
			Replacement: `certificate-authority-data: [MASKED_CA_CERTIFICATE]`,
			Description: "Kubeconfig CA data",
		},
		"token": {
			Regex:       `(?i)(?:token|bearer|jwt)["\']?\s*[:=]\s*["\']?([A-Za-z0-9_\-\.]{20,})["\']?`,
			Replacement: `"token": "[MASKED_TOKEN]"`,
			Description: "Bearer/JWT/session tokens",
		},
		"ssh_key": {
			Regex:       `ssh-(?:rsa|dss|ed25519|ecdsa)\s+[A-Za-z0-9+/=]+`,
			Replacement: `[MASKED_SSH_KEY]`,
			Description: "SSH public keys",
		},
		"private_key": {
			Regex:       `(?i)(?:private[_-]?key)["\']?\s*[:=]\s*["\']?([A-Za-z0-9_\-\.]{20,})["\']?`,
			Replacement: `"private_key": "[MASKED_PRIVATE_KEY]"`,
			Description: "Private key material",
		},
		"secret_key": {
			Regex:       `(?i)(?:secret[_-]?key)["\']?\s*[:=]\s*["\']?([A-Za-z0-9_\-\.]{20,})["\']?`,
			Replacement: `"secret_key": "[MASKED_SECRET_KEY]"`,
			Description: "Secret keys",
		},
		"aws_access_key": {
			Regex:       `(?i)(?:aws[_-]?access[_-]?key[_-]?id)["\']?\s*[:=]\s*["\']?(AKIA[A-Z0-9]{16})["\']?`,
			Replacement: `"aws_access_key_id": "[MASKED_AWS_KEY]"`,
			Description: "AWS access key IDs",
		},
		"aws_secret_key": {
			Regex:       `(?i)(?:aws[_-]?secret[_-]?access[_-]?key)["\']?\s*[:=]\s*["\']?([A-Za-z0-9/+=]{40})["\']?`,
			Replacement: `"aws_secret_access_key": "[MASKED_AWS_SECRET]"`,
			Description: "AWS secret access keys",
		},
		"connection_string": {
			Regex:       `(?i)(postgres|postgresql|mysql|mongodb|redis|sqlserver)://([^:@\s]+):([^@\s]+)@`,
			Replacement: `${1}://${2}:[MASKED_DSN_PASSWORD]@`,
			Description: "Database connection string embedded passwords",
		},
		"base64_secret": {
			Regex:       `\b([A-Za-z0-9+/]{32,}={0,2})\b`,
			Replacement: `[MASKED_BASE64_VALUE]`,
			Description: "Long base64-encoded values",
		},
	}
}

// PatternGroups names the predefined groups a connector or policy rule can
// select by name instead of enumerating individual pattern names.
func PatternGroups() map[string][]string {
	return map[string][]string{
		"basic":      {"api_key", "password"},
		"secrets":    {"api_key", "password", "token", "private_key", "secret_key"},
		"security":   {"api_key", "password", "token", "certificate", "certificate_authority_data", "ssh_key"},
		"kubernetes": {"kubernetes_secret", "api_key", "password", "certificate_authority_data"},
		"cloud":      {"aws_access_key", "aws_secret_key", "api_key", "token"},
		"database":   {"password", "secret_key", "base64_secret", "connection_string"},
		"all": {
			"base64_secret", "api_key", "password", "certificate",
			"certificate_authority_data", "token", "ssh_key", "private_key",
			"secret_key", "aws_access_key", "aws_secret_key", "connection_string",
		},
	}
}

// CodeMaskers names the code-based (structural) maskers available to a
// pattern group, keyed by the Masker.Name() they implement.
func CodeMaskers() []string {
	return []string{"kubernetes_secret"}
}
