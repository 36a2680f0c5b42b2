package core

import (
	"fmt"
	"sort"
	"strings"
)

// Label is the short caption of an entry, e.g. "alpha 第 2 轮方案".
func (e Entry) Label() string {
	switch e.Kind {
	case KindQuestion:
		return "问题"
	case KindProposal:
		switch {
		case e.Revision:
			return fmt.Sprintf("%s 根据用户调整方案", e.Participant)
		case e.Round == 0:
			return fmt.Sprintf("%s 初始方案", e.Participant)
		default:
			return fmt.Sprintf("%s 第 %d 轮方案", e.Participant, e.Round)
		}
	case KindCritique:
		if e.Round == 0 {
			return fmt.Sprintf("%s 第一轮批判", e.Participant)
		}
		return fmt.Sprintf("%s 第 %d 轮响应", e.Participant, e.Round)
	case KindUserNote:
		return "用户输入"
	case KindHostChange:
		return fmt.Sprintf("主持人更换: %s -> %s", e.From, e.Participant)
	case KindFinalSolution:
		return "最佳方案"
	}
	return string(e.Kind)
}

// Line renders the entry as one history line, "label: text".
func (e Entry) Line() string {
	if e.Kind == KindHostChange {
		return e.Label()
	}
	return e.Label() + ": " + e.Text
}

// Solution returns the proposal carried by a proposal or final entry.
func (e Entry) Solution() Solution {
	return Solution{Author: e.Participant, Round: e.Round, Text: e.Text}
}

// FormatLedger renders challenge counts as "a=0 b=1", sorted by participant.
func FormatLedger(ledger map[string]int) string {
	ids := make([]string, 0, len(ledger))
	for id := range ledger {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = fmt.Sprintf("%s=%d", id, ledger[id])
	}
	return strings.Join(parts, " ")
}
