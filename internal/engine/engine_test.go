package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alienxp03/deepdiscussion/internal/core"
	"github.com/alienxp03/deepdiscussion/internal/transcript"
)

type promptKind string

const (
	kindInitial   promptKind = "initial"
	kindCritique  promptKind = "critique"
	kindHost      promptKind = "host"
	kindChallenge promptKind = "challenge"
	kindRevision  promptKind = "revision"
)

func classify(prompt string) promptKind {
	switch {
	case strings.Contains(prompt, "其他模型的方案如下"):
		return kindCritique
	case strings.Contains(prompt, "你是讨论主持人"):
		return kindHost
	case strings.Contains(prompt, "用户补充"):
		return kindRevision
	case strings.Contains(prompt, "的方案是:"):
		return kindChallenge
	default:
		return kindInitial
	}
}

type modelCall struct {
	participant string
	kind        promptKind
	prompt      string
}

// MockClient answers by prompt kind. Unset handlers fall back to neutral answers.
type MockClient struct {
	calls     []modelCall
	critique  func(participant string) string
	challenge func(participant string, round int) string
	fail      map[string]bool
	hook      func(call modelCall)
	hostRound int
}

func (m *MockClient) Call(ctx context.Context, participant, prompt string) (string, error) {
	call := modelCall{participant: participant, kind: classify(prompt), prompt: prompt}
	m.calls = append(m.calls, call)
	if m.hook != nil {
		m.hook(call)
	}
	if m.fail[participant] {
		return "", errors.New("status 503")
	}

	switch call.kind {
	case kindInitial:
		return participant + " 初始", nil
	case kindCritique:
		if m.critique != nil {
			return m.critique(participant), nil
		}
		return "同意: 是\n批判: 无", nil
	case kindHost:
		m.hostRound++
		return fmt.Sprintf("%s 方案 %d", participant, m.hostRound), nil
	case kindChallenge:
		if m.challenge != nil {
			return m.challenge(participant, m.hostRound), nil
		}
		return "同意: 是\n批判: 可以", nil
	case kindRevision:
		return participant + " 修订", nil
	}
	return "", nil
}

func (m *MockClient) callsOf(kind promptKind) []modelCall {
	var out []modelCall
	for _, c := range m.calls {
		if c.kind == kind {
			out = append(out, c)
		}
	}
	return out
}

// MockGate replays scripted answers for the confirm and intervention prompts.
type MockGate struct {
	confirm      []string
	intervene    []string
	confirmAsks  int
	interveneAsk int
	timeouts     []time.Duration
}

func (g *MockGate) Prompt(ctx context.Context, text string, timeout time.Duration) string {
	g.timeouts = append(g.timeouts, timeout)
	if strings.Contains(text, "是否同意此方案") {
		g.confirmAsks++
		return pop(&g.confirm)
	}
	g.interveneAsk++
	return pop(&g.intervene)
}

func pop(q *[]string) string {
	if len(*q) == 0 {
		return ""
	}
	v := (*q)[0]
	*q = (*q)[1:]
	return v
}

func disagree(string, int) string { return "同意: 否\n批判: 不够具体" }

type harness struct {
	client *MockClient
	gate   *MockGate
	sink   *transcript.Memory
	eng    *Engine
	notes  []string
}

func newHarness(t *testing.T, client *MockClient, gate *MockGate, maxRounds int) *harness {
	t.Helper()
	h := &harness{client: client, gate: gate, sink: transcript.NewMemory()}
	eng, err := New(client, h.sink, gate, Options{
		Roster:    []string{"a", "b", "c"},
		MaxRounds: maxRounds,
		DebateID:  "debate-1",
	}, Callbacks{OnNotice: func(msg string) { h.notes = append(h.notes, msg) }})
	require.NoError(t, err)
	h.eng = eng
	return h
}

func (h *harness) run(t *testing.T) *Result {
	t.Helper()
	res, err := h.eng.Run(context.Background(), "如何学习Go?")
	require.NoError(t, err)
	return res
}

func (h *harness) entries(kind core.EntryKind) []core.Entry {
	var out []core.Entry
	for _, e := range h.sink.Entries() {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

func assertSingleFinalLast(t *testing.T, entries []core.Entry) core.Entry {
	t.Helper()
	finals := 0
	for _, e := range entries {
		if e.Kind == core.KindFinalSolution {
			finals++
		}
	}
	require.Equal(t, 1, finals, "exactly one final solution")
	last := entries[len(entries)-1]
	require.Equal(t, core.KindFinalSolution, last.Kind, "final solution is last")
	return last
}

func assertReplayMatches(t *testing.T, entries []core.Entry, res *Result) {
	t.Helper()
	replayed, err := Replay(entries, nil)
	require.NoError(t, err)
	assert.True(t, replayed.Consistent)
	assert.Equal(t, res.Final, replayed.Final)
	assert.Equal(t, res.Ledger, replayed.Ledger)
	assert.Equal(t, res.Reason, replayed.Reason)
}

func TestConsensusOnFirstRound(t *testing.T) {
	client := &MockClient{}
	h := newHarness(t, client, &MockGate{}, 2)

	res := h.run(t)

	assert.Equal(t, core.ReasonConsensus, res.Reason)
	assert.Equal(t, 1, res.Rounds)
	assert.Equal(t, core.Solution{Author: "a", Round: 1, Text: "a 方案 1"}, res.Final)
	assert.Equal(t, map[string]int{"a": 0, "b": 0, "c": 0}, res.Ledger)
	assert.Equal(t, 1, h.gate.confirmAsks)
	assert.Equal(t, 0, h.gate.interveneAsk)

	entries := h.sink.Entries()
	final := assertSingleFinalLast(t, entries)
	assert.Equal(t, "a 方案 1", final.Text)
	assert.Equal(t, res.Entries, len(entries))
	assertReplayMatches(t, entries, res)
}

func TestProtocolOrder(t *testing.T) {
	client := &MockClient{}
	h := newHarness(t, client, &MockGate{}, 2)
	h.run(t)

	var got []string
	for _, c := range client.calls {
		got = append(got, fmt.Sprintf("%s:%s", c.kind, c.participant))
	}
	assert.Equal(t, []string{
		"initial:a", "initial:b", "initial:c",
		"critique:a", "critique:b", "critique:c",
		"host:a",
		"challenge:b", "challenge:c",
	}, got)

	assert.Equal(t, []core.EntryKind{
		core.KindQuestion,
		core.KindProposal, core.KindProposal, core.KindProposal,
		core.KindCritique, core.KindCritique, core.KindCritique,
		core.KindProposal,
		core.KindCritique, core.KindCritique,
		core.KindFinalSolution,
	}, h.sink.Kinds())

	for i, e := range h.sink.Entries() {
		assert.Equal(t, i+1, e.Seq)
		assert.Equal(t, "debate-1", e.DebateID)
		assert.NotEmpty(t, e.ID)
	}
	assert.Equal(t, []string{"a", "b", "c"}, h.sink.Entries()[0].Roster)
}

func TestInitialCritiquePrompt(t *testing.T) {
	client := &MockClient{}
	h := newHarness(t, client, &MockGate{}, 1)
	h.run(t)

	critiques := client.callsOf(kindCritique)
	require.Len(t, critiques, 3)

	// b sees a and c, never itself.
	p := critiques[1].prompt
	assert.Contains(t, p, `"participant":"a"`)
	assert.Contains(t, p, `"participant":"c"`)
	assert.NotContains(t, p, `"participant":"b"`)
	assert.Contains(t, p, "a 初始")
}

func TestHostPromptWindow(t *testing.T) {
	client := &MockClient{}
	h := newHarness(t, client, &MockGate{}, 1)
	h.run(t)

	hosts := client.callsOf(kindHost)
	require.Len(t, hosts, 1)

	// The last roster+1 entries: c's proposal and the three critiques.
	p := hosts[0].prompt
	assert.Contains(t, p, "c 初始方案")
	assert.Contains(t, p, "a 第一轮批判")
	assert.Contains(t, p, "c 第一轮批判")
	assert.NotContains(t, p, "a 初始方案")
	assert.NotContains(t, p, `"问题: `)
}

func TestSevereInitialCritiqueCountsAgainstOthers(t *testing.T) {
	client := &MockClient{
		critique: func(p string) string {
			if p == "a" {
				return "同意: 否\n批判: 严重不足，缺少步骤"
			}
			return "同意: 否\n批判: 有小问题"
		},
	}
	h := newHarness(t, client, &MockGate{}, 1)

	res := h.run(t)

	// a's critique hits b and c; disagreement alone counts for nothing here.
	assert.Equal(t, map[string]int{"a": 0, "b": 1, "c": 1}, res.Ledger)
	assert.Equal(t, "a", res.Host)
	assertReplayMatches(t, h.sink.Entries(), res)
}

func TestInitialHostIsLeastChallenged(t *testing.T) {
	client := &MockClient{
		critique: func(p string) string {
			if p == "b" {
				return "批判: 严重不足"
			}
			return "同意: 是"
		},
	}
	h := newHarness(t, client, &MockGate{}, 1)

	res := h.run(t)

	assert.Equal(t, "b", res.Host)
	assert.Equal(t, "b", client.callsOf(kindHost)[0].participant)
	assert.Contains(t, h.notes[0], "初始主持人: b")
}

func TestChallengeIncrementsHostOncePerCritic(t *testing.T) {
	client := &MockClient{
		challenge: func(p string, _ int) string {
			if p == "b" {
				return "同意: 否\n批判: 严重不足，理由X"
			}
			return "同意: 是\n批判: 严重不足但可接受"
		},
	}
	h := newHarness(t, client, &MockGate{}, 1)

	res := h.run(t)

	// b: NO and severe counts once; c: severe alone counts once.
	assert.Equal(t, 2, res.Ledger["a"])
	assert.Equal(t, 0, res.Ledger["b"])
	assert.Equal(t, core.ReasonMaxRounds, res.Reason)
	assert.Equal(t, 0, h.gate.confirmAsks)

	crit := h.entries(core.KindCritique)
	last := crit[len(crit)-2]
	assert.Equal(t, "b", last.Participant)
	assert.Equal(t, core.AgreementNo, last.Agreement)
	assert.True(t, last.Severe)
	assertReplayMatches(t, h.sink.Entries(), res)
}

func TestMaxRoundsTerminates(t *testing.T) {
	for _, maxRounds := range []int{1, 2, 5} {
		t.Run(fmt.Sprintf("max=%d", maxRounds), func(t *testing.T) {
			client := &MockClient{challenge: disagree}
			h := newHarness(t, client, &MockGate{}, maxRounds)

			res := h.run(t)

			assert.Equal(t, core.ReasonMaxRounds, res.Reason)
			assert.Equal(t, maxRounds, res.Rounds)
			assert.Len(t, client.callsOf(kindHost), maxRounds)
			// No intervention after the last round.
			assert.Equal(t, maxRounds-1, h.gate.interveneAsk)
			assertSingleFinalLast(t, h.sink.Entries())
			assertReplayMatches(t, h.sink.Entries(), res)
		})
	}
}

func TestConsensusRejected(t *testing.T) {
	client := &MockClient{}
	gate := &MockGate{confirm: []string{"否", "再想想", "是"}}
	h := newHarness(t, client, gate, 5)

	res := h.run(t)

	assert.Equal(t, core.ReasonConsensus, res.Reason)
	assert.Equal(t, 3, res.Rounds)
	assert.Equal(t, 3, gate.confirmAsks)
	assert.Equal(t, 2, gate.interveneAsk)
	assert.Contains(t, h.notes, "继续讨论...")
}

func TestConfirmAcceptsEnglish(t *testing.T) {
	h := newHarness(t, &MockClient{}, &MockGate{confirm: []string{"YES"}}, 3)
	res := h.run(t)
	assert.Equal(t, core.ReasonConsensus, res.Reason)
	assert.Equal(t, 1, res.Rounds)
}

func TestUserEnds(t *testing.T) {
	client := &MockClient{challenge: disagree}
	gate := &MockGate{intervene: []string{"继续", "结束"}}
	h := newHarness(t, client, gate, 5)

	res := h.run(t)

	assert.Equal(t, core.ReasonUserEnded, res.Reason)
	assert.Equal(t, 2, res.Rounds)
	assert.Equal(t, "a", res.Final.Author)
	assert.Equal(t, 2, res.Final.Round)

	notes := h.entries(core.KindUserNote)
	require.Len(t, notes, 2)
	assert.Equal(t, "继续", notes[0].Text)
	assert.Equal(t, 1, notes[0].Round)
	assertReplayMatches(t, h.sink.Entries(), res)
}

func TestUserChangesHost(t *testing.T) {
	t.Run("KnownParticipant", func(t *testing.T) {
		client := &MockClient{challenge: disagree}
		gate := &MockGate{intervene: []string{"换主持人 c"}}
		h := newHarness(t, client, gate, 2)

		res := h.run(t)

		hosts := client.callsOf(kindHost)
		require.Len(t, hosts, 2)
		assert.Equal(t, "a", hosts[0].participant)
		assert.Equal(t, "c", hosts[1].participant)

		changes := h.entries(core.KindHostChange)
		require.Len(t, changes, 1)
		assert.Equal(t, "a", changes[0].From)
		assert.Equal(t, "c", changes[0].Participant)
		assert.Equal(t, 1, changes[0].Round)

		// Only the challenges moved the ledger: round 1 against a, round 2 against c.
		assert.Equal(t, map[string]int{"a": 2, "b": 0, "c": 2}, res.Ledger)
		assert.Equal(t, 2, res.Rounds)
		assertReplayMatches(t, h.sink.Entries(), res)
	})

	t.Run("UnknownParticipant", func(t *testing.T) {
		client := &MockClient{challenge: disagree}
		gate := &MockGate{intervene: []string{"换主持人 modelX"}}
		h := newHarness(t, client, gate, 2)

		res := h.run(t)

		hosts := client.callsOf(kindHost)
		assert.Equal(t, "a", hosts[1].participant)
		assert.Empty(t, h.entries(core.KindHostChange))
		assert.Contains(t, h.notes, "无效模型名: modelX")
		assert.Equal(t, map[string]int{"a": 4, "b": 0, "c": 0}, res.Ledger)
	})
}

func TestHostChangeLeavesLedgerUntouched(t *testing.T) {
	client := &MockClient{}
	gate := &MockGate{confirm: []string{"否"}, intervene: []string{"换主持人 b"}}
	h := newHarness(t, client, gate, 3)

	var before map[string]int
	client.hook = func(c modelCall) {
		if c.kind == kindHost && c.participant == "b" {
			before = h.eng.state.ledger.Snapshot()
			assert.Equal(t, 2, h.eng.state.round)
		}
	}

	h.run(t)

	assert.Equal(t, map[string]int{"a": 0, "b": 0, "c": 0}, before)
}

func TestRevision(t *testing.T) {
	client := &MockClient{challenge: disagree}
	gate := &MockGate{intervene: []string{"请考虑预算"}}
	h := newHarness(t, client, gate, 2)

	res := h.run(t)

	revisions := client.callsOf(kindRevision)
	require.Len(t, revisions, 1)
	assert.Equal(t, "a", revisions[0].participant)
	assert.Contains(t, revisions[0].prompt, "用户补充: 请考虑预算")
	assert.Contains(t, revisions[0].prompt, "a 方案 1")

	proposals := h.entries(core.KindProposal)
	rev := proposals[len(proposals)-2]
	assert.True(t, rev.Revision)
	assert.Equal(t, 1, rev.Round)
	assert.Equal(t, "a 修订", rev.Text)

	// The round-1 proposal is superseded, not removed.
	assert.Equal(t, "a 方案 1", proposals[len(proposals)-3].Text)
	assert.Equal(t, "a 方案 2", res.Final.Text)
	assertReplayMatches(t, h.sink.Entries(), res)
}

func TestSlashWordIsRevisionNotHostChange(t *testing.T) {
	client := &MockClient{challenge: disagree}
	gate := &MockGate{intervene: []string{"/hostile tone, please"}}
	h := newHarness(t, client, gate, 2)

	h.run(t)

	require.Len(t, client.callsOf(kindRevision), 1)
	assert.Contains(t, client.callsOf(kindRevision)[0].prompt, "/hostile tone, please")
	assert.Empty(t, h.entries(core.KindHostChange))
	for _, n := range h.notes {
		assert.NotContains(t, n, "无效模型名")
	}
}

func TestRevisionThenEnd(t *testing.T) {
	client := &MockClient{challenge: disagree}
	gate := &MockGate{intervene: []string{"补充一点", "结束"}}
	h := newHarness(t, client, gate, 5)

	res := h.run(t)

	assert.Equal(t, core.ReasonUserEnded, res.Reason)
	assert.Equal(t, "a 方案 2", res.Final.Text)
}

func TestHostRotatesOnEvenRoundsOnly(t *testing.T) {
	client := &MockClient{challenge: disagree}
	h := newHarness(t, client, &MockGate{}, 4)

	res := h.run(t)

	var hosts []string
	for _, c := range client.callsOf(kindHost) {
		hosts = append(hosts, c.participant)
	}
	// a is challenged twice per round; rotation waits for round 2, then b for round 4.
	assert.Equal(t, []string{"a", "a", "b", "b"}, hosts)

	changes := h.entries(core.KindHostChange)
	require.Len(t, changes, 1)
	assert.Equal(t, 2, changes[0].Round)
	assert.Equal(t, "rotation", changes[0].Text)
	assert.Equal(t, map[string]int{"a": 4, "b": 4, "c": 0}, res.Ledger)
	assertReplayMatches(t, h.sink.Entries(), res)
}

func TestUserHostChangeSkipsRotation(t *testing.T) {
	client := &MockClient{challenge: disagree}
	gate := &MockGate{intervene: []string{"", "换主持人 a"}}
	h := newHarness(t, client, gate, 3)

	h.run(t)

	var hosts []string
	for _, c := range client.callsOf(kindHost) {
		hosts = append(hosts, c.participant)
	}
	assert.Equal(t, []string{"a", "a", "a"}, hosts)
	assert.Empty(t, h.entries(core.KindHostChange))
}

func TestFailedCallUsesPlaceholder(t *testing.T) {
	client := &MockClient{fail: map[string]bool{"b": true}}
	h := newHarness(t, client, &MockGate{}, 2)

	res := h.run(t)

	proposals := h.entries(core.KindProposal)
	assert.Equal(t, DefaultFailurePlaceholder, proposals[1].Text)

	// The placeholder parses as agreement, so consensus still holds.
	assert.Equal(t, core.ReasonConsensus, res.Reason)
	for _, c := range h.entries(core.KindCritique) {
		if c.Participant == "b" {
			assert.Equal(t, DefaultFailurePlaceholder, c.Text)
			assert.Equal(t, core.AgreementYes, c.Agreement)
		}
	}
}

func TestAllCallsFail(t *testing.T) {
	client := &MockClient{fail: map[string]bool{"a": true, "b": true, "c": true}}
	h := newHarness(t, client, &MockGate{}, 3)

	res := h.run(t)

	assert.Equal(t, DefaultFailurePlaceholder, res.Final.Text)
	assertSingleFinalLast(t, h.sink.Entries())
}

func TestTimeoutsPassedToGate(t *testing.T) {
	client := &MockClient{challenge: disagree}
	gate := &MockGate{}
	sink := transcript.NewMemory()
	eng, err := New(client, sink, gate, Options{
		Roster:              []string{"a", "b"},
		MaxRounds:           2,
		InterventionTimeout: 7 * time.Second,
	}, Callbacks{})
	require.NoError(t, err)

	_, err = eng.Run(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{7 * time.Second}, gate.timeouts)
}

func TestInterrupted(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := &MockClient{challenge: disagree}
	client.hook = func(c modelCall) {
		if c.kind == kindHost && client.hostRound == 1 {
			cancel()
		}
	}
	sink := transcript.NewMemory()
	eng, err := New(client, sink, &MockGate{}, Options{Roster: []string{"a", "b", "c"}, MaxRounds: 5}, Callbacks{})
	require.NoError(t, err)

	res, err := eng.Run(ctx, "q")

	require.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, res)
	assert.Equal(t, core.ReasonInterrupted, res.Reason)
	final := assertSingleFinalLast(t, sink.Entries())
	assert.Equal(t, core.ReasonInterrupted, final.Reason)
	assertReplayMatches(t, sink.Entries(), res)
}

func TestInterruptedDuringProposals(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	client := &MockClient{}
	client.hook = func(c modelCall) {
		if c.participant == "b" {
			cancel()
		}
	}
	sink := transcript.NewMemory()
	eng, err := New(client, sink, nil, Options{Roster: []string{"a", "b", "c"}}, Callbacks{})
	require.NoError(t, err)

	res, err := eng.Run(ctx, "q")

	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, core.Solution{}, res.Final)
	assert.Equal(t, []core.EntryKind{core.KindQuestion, core.KindProposal, core.KindFinalSolution}, sink.Kinds())
	assertReplayMatches(t, sink.Entries(), res)
}

func TestOnEntryCallback(t *testing.T) {
	var seen []core.EntryKind
	eng, err := New(&MockClient{}, nil, nil, Options{Roster: []string{"a", "b"}}, Callbacks{
		OnEntry: func(e core.Entry) { seen = append(seen, e.Kind) },
	})
	require.NoError(t, err)

	_, err = eng.Run(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, core.KindQuestion, seen[0])
	assert.Equal(t, core.KindFinalSolution, seen[len(seen)-1])
}

func TestNewValidation(t *testing.T) {
	_, err := New(&MockClient{}, nil, nil, Options{Roster: []string{"solo"}}, Callbacks{})
	assert.ErrorIs(t, err, ErrRosterTooSmall)

	_, err = New(&MockClient{}, nil, nil, Options{Roster: []string{"a", "a"}}, Callbacks{})
	assert.Error(t, err)

	_, err = New(nil, nil, nil, Options{Roster: []string{"a", "b"}}, Callbacks{})
	assert.Error(t, err)

	eng, err := New(&MockClient{}, nil, nil, Options{Roster: []string{"a", "b"}}, Callbacks{})
	require.NoError(t, err)
	assert.Len(t, eng.DebateID(), 10)
}

func TestRunOnce(t *testing.T) {
	eng, err := New(&MockClient{}, nil, nil, Options{Roster: []string{"a", "b"}}, Callbacks{})
	require.NoError(t, err)

	_, err = eng.Run(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrEmptyQuestion)

	_, err = eng.Run(context.Background(), "q")
	require.NoError(t, err)

	_, err = eng.Run(context.Background(), "q")
	assert.ErrorIs(t, err, ErrAlreadyRun)
}

func TestTerminatesForAllRosterSizes(t *testing.T) {
	for n := 2; n <= 5; n++ {
		for maxRounds := 1; maxRounds <= 4; maxRounds++ {
			roster := make([]string, n)
			for i := range roster {
				roster[i] = fmt.Sprintf("p%d", i)
			}
			client := &MockClient{challenge: disagree}
			sink := transcript.NewMemory()
			eng, err := New(client, sink, nil, Options{Roster: roster, MaxRounds: maxRounds}, Callbacks{})
			require.NoError(t, err)

			res, err := eng.Run(context.Background(), "q")
			require.NoError(t, err)
			assert.LessOrEqual(t, res.Rounds, maxRounds)
			assert.Contains(t, roster, res.Host)
			for _, c := range res.Ledger {
				assert.GreaterOrEqual(t, c, 0)
			}
			assertSingleFinalLast(t, sink.Entries())
			assertReplayMatches(t, sink.Entries(), res)
		}
	}
}
