// Package prompt holds the prompt templates sent to participants.
package prompt

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"text/template"
)

// Kind names one prompt in a Set.
type Kind string

const (
	KindInitial         Kind = "initial"
	KindInitialCritique Kind = "initial_critique"
	KindHost            Kind = "host"
	KindChallenge       Kind = "challenge"
	KindRevision        Kind = "revision"
	KindConfirm         Kind = "confirm"
	KindIntervention    Kind = "intervention"
)

// Kinds lists every prompt kind in the order a debate uses them.
var Kinds = []Kind{KindInitial, KindInitialCritique, KindHost, KindChallenge, KindRevision, KindConfirm, KindIntervention}

// Set is a named group of prompt templates. Templates use text/template
// syntax over Data.
type Set struct {
	ID              string `json:"id" yaml:"id"`
	Name            string `json:"name" yaml:"name"`
	Initial         string `json:"initial" yaml:"initial,omitempty"`
	InitialCritique string `json:"initial_critique" yaml:"initial_critique,omitempty"`
	Host            string `json:"host" yaml:"host,omitempty"`
	Challenge       string `json:"challenge" yaml:"challenge,omitempty"`
	Revision        string `json:"revision" yaml:"revision,omitempty"`
	Confirm         string `json:"confirm" yaml:"confirm,omitempty"`
	Intervention    string `json:"intervention" yaml:"intervention,omitempty"`
}

// Data is the template input.
type Data struct {
	Question string
	Host     string
	Solution string
	// Others is the JSON listing of the other participants' solutions.
	Others string
	// History is the JSON listing of the most recent transcript lines.
	History string
	// Input is the human's revision request.
	Input string
}

// DefaultSets returns the built-in prompt sets.
func DefaultSets() []Set {
	return []Set{
		{
			ID:              "zh",
			Name:            "中文",
			Initial:         `针对问题 '{{.Question}}'，请提出你的最佳方案，并说明理由。`,
			InitialCritique: "当前问题是: {{.Question}}\n其他模型的方案如下:\n{{.Others}}\n请按以下格式回答:\n同意: [是/否]\n批判: [指出其他方案的严重不足，若无则说明]\n任务: 分析其他模型方案，指出逻辑漏洞或严重不足。",
			Host:            "你是讨论主持人，问题: {{.Question}}\n上一轮讨论如下:\n{{.History}}\n请汇总上一轮讨论，提出当前最佳方案，并说明理由。",
			Challenge:       "当前问题是: {{.Question}}\n主持人 {{.Host}} 的方案是: {{.Solution}}\n请按以下格式回答:\n同意: [是/否]\n批判: [若不同意，指出严重不足并提出替代建议；若同意，说明理由]\n任务:\n1. 分析主持人方案的不足。\n2. 判断是否同意，若不同意，提出改进。",
			Revision:        "用户补充: {{.Input}}\n请根据用户输入调整你的方案: {{.Solution}}",
			Confirm:         "所有挑战模型同意主持人方案。是否同意此方案为最佳方案？(是/否): ",
			Intervention:    "请参与讨论（补充细节/指出错误），或输入 '继续'/'结束'/'换主持人 [模型名]': ",
		},
		{
			ID:              "en",
			Name:            "English",
			Initial:         `For the question '{{.Question}}', propose your best solution and explain your reasoning.`,
			InitialCritique: "The question is: {{.Question}}\nThe other participants proposed:\n{{.Others}}\nAnswer in exactly this format:\n同意: [是/否]\n批判: [name any 严重不足 (severe deficiency) in the other proposals, or say there is none]\nTask: analyze the other proposals and point out logical gaps or severe deficiencies.",
			Host:            "You are the discussion host. Question: {{.Question}}\nThe previous round was:\n{{.History}}\nSummarize the previous round and propose the current best solution with your reasoning.",
			Challenge:       "The question is: {{.Question}}\nHost {{.Host}} proposes: {{.Solution}}\nAnswer in exactly this format:\n同意: [是/否]\n批判: [if you disagree, name the 严重不足 (severe deficiency) and suggest an alternative; if you agree, say why]\nTasks:\n1. Analyze the weaknesses of the host's proposal.\n2. Decide whether you agree; if not, propose improvements.",
			Revision:        "The user adds: {{.Input}}\nRevise your solution accordingly: {{.Solution}}",
			Confirm:         "All challengers agree with the host. Accept this as the best solution? (yes/no): ",
			Intervention:    "Join the discussion (add details / point out errors), or type 'continue' / 'end' / '换主持人 [participant]': ",
		},
	}
}

// Get returns a prompt set by ID.
func Get(id string) *Set {
	for _, s := range DefaultSets() {
		if s.ID == id {
			return &s
		}
	}
	return nil
}

// List returns all built-in set IDs.
func List() []string {
	sets := DefaultSets()
	ids := make([]string, len(sets))
	for i, s := range sets {
		ids[i] = s.ID
	}
	return ids
}

// Valid checks if a set ID is known.
func Valid(id string) bool {
	return Get(id) != nil
}

// Default returns the default prompt set.
func Default() *Set {
	return Get("zh")
}

// Merge returns s with every non-empty template of over applied on top.
func (s Set) Merge(over Set) Set {
	out := s
	for _, k := range Kinds {
		if v := over.template(k); v != "" {
			out.set(k, v)
		}
	}
	return out
}

func (s Set) template(k Kind) string {
	switch k {
	case KindInitial:
		return s.Initial
	case KindInitialCritique:
		return s.InitialCritique
	case KindHost:
		return s.Host
	case KindChallenge:
		return s.Challenge
	case KindRevision:
		return s.Revision
	case KindConfirm:
		return s.Confirm
	case KindIntervention:
		return s.Intervention
	}
	return ""
}

func (s *Set) set(k Kind, v string) {
	switch k {
	case KindInitial:
		s.Initial = v
	case KindInitialCritique:
		s.InitialCritique = v
	case KindHost:
		s.Host = v
	case KindChallenge:
		s.Challenge = v
	case KindRevision:
		s.Revision = v
	case KindConfirm:
		s.Confirm = v
	case KindIntervention:
		s.Intervention = v
	}
}

// Renderer executes a parsed Set.
type Renderer struct {
	tmpls map[Kind]*template.Template
}

// NewRenderer parses every template of s.
func NewRenderer(s Set) (*Renderer, error) {
	r := &Renderer{tmpls: make(map[Kind]*template.Template, len(Kinds))}
	for _, k := range Kinds {
		text := s.template(k)
		if strings.TrimSpace(text) == "" {
			return nil, fmt.Errorf("prompt %q is empty", k)
		}
		tmpl, err := template.New(string(k)).Option("missingkey=error").Parse(text)
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s template: %w", k, err)
		}
		r.tmpls[k] = tmpl
	}
	return r, nil
}

// MustRenderer is NewRenderer for sets known to be valid, such as the built-ins.
func MustRenderer(s Set) *Renderer {
	r, err := NewRenderer(s)
	if err != nil {
		panic(err)
	}
	return r
}

// Render executes the template for k.
func (r *Renderer) Render(k Kind, data Data) (string, error) {
	tmpl, ok := r.tmpls[k]
	if !ok {
		return "", fmt.Errorf("unknown prompt kind: %s", k)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute %s template: %w", k, err)
	}
	return buf.String(), nil
}

// JSON encodes v for embedding in a prompt. Non-ASCII text and HTML
// characters are left unescaped.
func JSON(v any) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return fmt.Sprintf("%v", v)
	}
	return strings.TrimRight(buf.String(), "\n")
}
