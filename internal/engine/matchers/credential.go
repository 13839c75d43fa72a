package matchers

import "regexp"

// Finding is a credential match: the rule kind and the byte span it covers.
type Finding struct {
	Kind  string
	Start int
	End   int
}

// credentialRules is the audited rule table for inline secrets and
// credential file paths. Order decides which kind is reported first.
var credentialRules = []struct {
	kind string
	re   *regexp.Regexp
}{
	{"stripe_live_key", regexp.MustCompile(`\b[sr]k_live_[0-9A-Za-z]{3,}`)},
	{"stripe_test_key", regexp.MustCompile(`\b[sr]k_test_[0-9A-Za-z]{10,}`)},
	{"aws_access_key_id", regexp.MustCompile(`\b(?:AKIA|ASIA)[0-9A-Z]{16}\b`)},
	{"github_token", regexp.MustCompile(`\b(?:ghp|gho|ghs|ghr|ghu)_[0-9A-Za-z]{20,}`)},
	{"github_token", regexp.MustCompile(`\bgithub_pat_[0-9A-Za-z_]{20,}`)},
	{"api_key", regexp.MustCompile(`\bsk-(?:ant-|proj-)?[0-9A-Za-z_\-]{20,}`)},
	{"slack_token", regexp.MustCompile(`\bxox[abposr]-[0-9A-Za-z\-]{10,}`)},
	{"google_api_key", regexp.MustCompile(`\bAIza[0-9A-Za-z_\-]{35}`)},
	{"bearer_token", regexp.MustCompile(`(?i)\bbearer\s+[0-9A-Za-z._~+/\-]{20,}=*`)},
	{"password_assignment", regexp.MustCompile(`(?i)\b(?:password|passwd|pwd|secret|api[_-]?key|access[_-]?token|auth[_-]?token|client[_-]?secret)["']?\s*[:=]\s*["']?[^\s"'$]{6,}`)},
	{"url_credentials", regexp.MustCompile(`\b[a-zA-Z][a-zA-Z0-9+.\-]*://[^/\s:@]+:[^/\s@$]+@`)},
	{"private_key_file", regexp.MustCompile(`\b(?:id_rsa|id_dsa|id_ecdsa|id_ed25519)(?:$|[\s"';|&)])`)},
	{"private_key_file", regexp.MustCompile(`[^\s"'/]+\.(?:pem|p12|pfx|key)\b`)},
	{"credential_file", regexp.MustCompile(`\.aws/credentials\b|\.docker/config\.json\b|(?:^|[\s/"'=])\.(?:netrc|pgpass)\b`)},
	{"env_file", regexp.MustCompile(`(?:^|[\s/"'=<])\.env(?:\.(?:local|production|prod|development|dev|staging|test))?(?:$|[\s"';|&)])`)},
}

// MatchCredential reports the first credential rule that fires on s.
func MatchCredential(s string) (Finding, bool) {
	for _, rule := range credentialRules {
		if loc := rule.re.FindStringIndex(s); loc != nil {
			return Finding{Kind: rule.kind, Start: loc[0], End: loc[1]}, true
		}
	}
	return Finding{}, false
}

// redactedMarker replaces every credential span in audit output.
const redactedMarker = "[REDACTED]"

// RedactCredentials replaces every span matched by a credential rule with
// a fixed marker. Credential file paths are left as is: the path is not the
// secret.
func RedactCredentials(s string) string {
	for _, rule := range credentialRules {
		switch rule.kind {
		case "private_key_file", "credential_file", "env_file":
			continue
		}
		s = rule.re.ReplaceAllString(s, redactedMarker)
	}
	return s
}
