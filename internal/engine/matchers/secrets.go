package matchers

import (
	"math"
	"regexp"
	"strings"
)

// SecretFinding locates a secret in file content. It never carries the value.
type SecretFinding struct {
	Kind string
	Line int // 1-based
}

var secretRules = []struct {
	kind string
	re   *regexp.Regexp
}{
	{"aws_access_key_id", regexp.MustCompile(`\b(?:AKIA|ASIA)[0-9A-Z]{16}\b`)},
	{"aws_secret_access_key", regexp.MustCompile(`(?i)aws_?secret_?access_?key["']?\s*[:=]\s*["']?[A-Za-z0-9/+=]{40}`)},
	{"private_key", regexp.MustCompile(`-----BEGIN (?:RSA |EC |DSA |OPENSSH |PGP |ENCRYPTED )?PRIVATE KEY(?: BLOCK)?-----`)},
	{"gcp_service_account_key", regexp.MustCompile(`"private_key"\s*:\s*"-----BEGIN`)},
	{"jwt", regexp.MustCompile(`\beyJ[A-Za-z0-9_\-]{10,}\.eyJ[A-Za-z0-9_\-]{10,}\.[A-Za-z0-9_\-]{10,}`)},
	{"github_token", regexp.MustCompile(`\b(?:ghp|gho|ghs|ghr|ghu)_[0-9A-Za-z]{36}\b|\bgithub_pat_[0-9A-Za-z_]{50,}`)},
	{"slack_token", regexp.MustCompile(`\bxox[abposr]-[0-9A-Za-z\-]{10,}`)},
	{"stripe_live_key", regexp.MustCompile(`\b[sr]k_live_[0-9A-Za-z]{20,}`)},
	{"google_api_key", regexp.MustCompile(`\bAIza[0-9A-Za-z_\-]{35}`)},
}

var entropyCandidate = regexp.MustCompile(`[A-Za-z0-9+/=_\-]{24,}`)

const (
	// MinEntropy is the Shannon entropy, in bits per character, above which a
	// token is reported as a likely secret.
	MinEntropy = 4.5
	// MinEntropyTokenLen is the shortest token considered for entropy.
	MinEntropyTokenLen = 24
)

// ScanSecrets reports known secret formats and high-entropy tokens in
// content, at most one finding per kind and line.
func ScanSecrets(content string) []SecretFinding {
	var findings []SecretFinding
	for i, line := range strings.Split(content, "\n") {
		known := false
		for _, rule := range secretRules {
			if rule.re.MatchString(line) {
				findings = append(findings, SecretFinding{Kind: rule.kind, Line: i + 1})
				known = true
			}
		}
		if known {
			continue
		}
		for _, tok := range entropyCandidate.FindAllString(line, -1) {
			if isHighEntropyToken(tok) {
				findings = append(findings, SecretFinding{Kind: "high_entropy_string", Line: i + 1})
				break
			}
		}
	}
	return findings
}

func isHighEntropyToken(tok string) bool {
	if len(tok) < MinEntropyTokenLen {
		return false
	}
	var upper, lower, digit bool
	for _, r := range tok {
		switch {
		case r >= 'A' && r <= 'Z':
			upper = true
		case r >= 'a' && r <= 'z':
			lower = true
		case r >= '0' && r <= '9':
			digit = true
		}
	}
	if !upper || !lower || !digit {
		return false
	}
	return ShannonEntropy(tok) >= MinEntropy
}

// ShannonEntropy returns the entropy of s in bits per character.
func ShannonEntropy(s string) float64 {
	if s == "" {
		return 0
	}
	counts := make(map[rune]int)
	n := 0
	for _, r := range s {
		counts[r]++
		n++
	}
	var h float64
	for _, c := range counts {
		p := float64(c) / float64(n)
		h -= p * math.Log2(p)
	}
	return h
}
