package invariant

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v2"

	"github.com/vietddude/invmon/internal/core/domain"
)

// RuleFile is the on-disk form of a protocol's rule set.
type RuleFile struct {
	Protocol  string                 `json:"protocol"  yaml:"protocol"  toml:"protocol"`
	Chain     string                 `json:"chain"     yaml:"chain"     toml:"chain"`
	Contracts map[string]string      `json:"contracts" yaml:"contracts" toml:"contracts"`
	Rules     []domain.InvariantRule `json:"rules"     yaml:"rules"     toml:"rules"`
}

// LoadRuleFile reads a rule file. The format follows the extension: .json,
// .yaml/.yml or .toml. Environment variables in the file are expanded.
func LoadRuleFile(path string) (*RuleFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rule file: %w", err)
	}
	data = []byte(os.ExpandEnv(string(data)))

	rf, err := ParseRuleFile(data, filepath.Ext(path))
	if err != nil {
		return nil, fmt.Errorf("failed to parse rule file %s: %w", path, err)
	}
	return rf, nil
}

// ParseRuleFile decodes rule file content of the given format.
func ParseRuleFile(data []byte, format string) (*RuleFile, error) {
	var rf RuleFile
	switch strings.TrimPrefix(strings.ToLower(format), ".") {
	case "json":
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&rf); err != nil {
			return nil, err
		}
	case "yaml", "yml":
		if err := yaml.UnmarshalStrict(data, &rf); err != nil {
			return nil, err
		}
	case "toml":
		md, err := toml.Decode(string(data), &rf)
		if err != nil {
			return nil, err
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("unknown rule file keys: %v", undecoded)
		}
	default:
		return nil, fmt.Errorf("unsupported rule file format %q", format)
	}

	if err := rf.Validate(); err != nil {
		return nil, err
	}
	return &rf, nil
}

// Validate checks rule ids are present and unique and normalizes severities.
func (rf *RuleFile) Validate() error {
	seen := make(map[string]struct{}, len(rf.Rules))
	for i := range rf.Rules {
		rule := &rf.Rules[i]
		if rule.ID == "" {
			return fmt.Errorf("rule %d: missing id", i)
		}
		if rule.Type == "" {
			return fmt.Errorf("rule %s: missing type", rule.ID)
		}
		if _, dup := seen[rule.ID]; dup {
			return fmt.Errorf("rule %s: duplicate id", rule.ID)
		}
		seen[rule.ID] = struct{}{}
		rule.Severity = domain.ParseSeverity(string(rule.Severity))
	}
	return nil
}
