package guardrail

import (
	"fmt"
	"regexp"

	"gopkg.in/yaml.v3"
)

// Policy is the on-disk YAML shape for guardrail configuration,
// grounded on services/policy_engine's yaml.v3-driven classification
// file.
type Policy struct {
	FlaggedPhrases []string `yaml:"flagged_phrases"`
	MaxHTMLBytes   int      `yaml:"max_html_bytes"`
}

// defaultPolicyYAML is used when no GuardrailPolicyPath is configured.
const defaultPolicyYAML = `
flagged_phrases:
  - "guaranteed income"
  - "risk-free"
  - "act now or lose everything"
  - "click here now"
max_html_bytes: 65536
`

type compiledPolicy struct {
	flagged      []*regexp.Regexp
	maxHTMLBytes int
}

func compilePolicy(raw []byte, fallbackMaxBytes int) (compiledPolicy, error) {
	var p Policy
	if err := yaml.Unmarshal(raw, &p); err != nil {
		return compiledPolicy{}, fmt.Errorf("guardrail: parse policy yaml: %w", err)
	}

	compiled := compiledPolicy{maxHTMLBytes: p.MaxHTMLBytes}
	if compiled.maxHTMLBytes <= 0 {
		compiled.maxHTMLBytes = fallbackMaxBytes
	}
	for _, phrase := range p.FlaggedPhrases {
		re, err := regexp.Compile("(?i)" + regexp.QuoteMeta(phrase))
		if err != nil {
			return compiledPolicy{}, fmt.Errorf("guardrail: compile phrase %q: %w", phrase, err)
		}
		compiled.flagged = append(compiled.flagged, re)
	}
	return compiled, nil
}
