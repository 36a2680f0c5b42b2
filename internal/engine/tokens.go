package engine

import "strings"

// Tokens are the control words a human may type during a debate.
// Matching ignores case and surrounding space.
type Tokens struct {
	End         []string `yaml:"end,omitempty"`
	Continue    []string `yaml:"continue,omitempty"`
	ChangeHost  []string `yaml:"change_host,omitempty"`
	Affirmative []string `yaml:"affirmative,omitempty"`
	Negative    []string `yaml:"negative,omitempty"`
}

// DefaultTokens returns the Chinese control words with English aliases.
func DefaultTokens() Tokens {
	return Tokens{
		End:         []string{"结束", "end", "quit", "exit"},
		Continue:    []string{"继续", "continue"},
		ChangeHost:  []string{"换主持人", "/host"},
		Affirmative: []string{"是", "yes", "y"},
		Negative:    []string{"否", "no", "n"},
	}
}

// Merge fills every empty list of t from d.
func (t Tokens) Merge(d Tokens) Tokens {
	if len(t.End) == 0 {
		t.End = d.End
	}
	if len(t.Continue) == 0 {
		t.Continue = d.Continue
	}
	if len(t.ChangeHost) == 0 {
		t.ChangeHost = d.ChangeHost
	}
	if len(t.Affirmative) == 0 {
		t.Affirmative = d.Affirmative
	}
	if len(t.Negative) == 0 {
		t.Negative = d.Negative
	}
	return t
}

func (t Tokens) empty() bool {
	return len(t.End) == 0 && len(t.Continue) == 0 && len(t.ChangeHost) == 0 &&
		len(t.Affirmative) == 0 && len(t.Negative) == 0
}

// IsEnd reports whether input ends the debate.
func (t Tokens) IsEnd(input string) bool { return matchAny(input, t.End) }

// IsContinue reports whether input explicitly continues.
func (t Tokens) IsContinue(input string) bool { return matchAny(input, t.Continue) }

// IsAffirmative reports whether input confirms.
func (t Tokens) IsAffirmative(input string) bool { return matchAny(input, t.Affirmative) }

// IsNegative reports whether input rejects.
func (t Tokens) IsNegative(input string) bool { return matchAny(input, t.Negative) }

// HostTarget extracts X from "换主持人 X". The target may be empty.
// A token ending in an ASCII letter or digit must be followed by space or
// the end of input, so "/hostile" is not "/host ile".
func (t Tokens) HostTarget(input string) (string, bool) {
	input = strings.TrimSpace(input)
	for _, prefix := range t.ChangeHost {
		if prefix == "" {
			continue
		}
		if len(input) < len(prefix) || !strings.EqualFold(input[:len(prefix)], prefix) {
			continue
		}
		rest := input[len(prefix):]
		if rest != "" && isWordByte(prefix[len(prefix)-1]) && isWordByte(rest[0]) {
			continue
		}
		return strings.TrimSpace(rest), true
	}
	return "", false
}

func isWordByte(b byte) bool {
	return b == '_' || ('0' <= b && b <= '9') || ('a' <= b && b <= 'z') || ('A' <= b && b <= 'Z')
}

func matchAny(input string, tokens []string) bool {
	input = strings.TrimSpace(input)
	for _, tok := range tokens {
		if tok != "" && strings.EqualFold(input, tok) {
			return true
		}
	}
	return false
}
