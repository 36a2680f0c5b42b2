// Package engine runs the multi-round debate protocol.
//
// A debate opens with one proposal per participant and a critique round over
// those proposals. The least challenged participant then hosts: each round
// the host consolidates the recent history into a new proposal, the others
// agree or critique it, and a human may confirm consensus, redirect the host
// or end the debate. Every state change is recorded to a TranscriptSink
// before the engine moves on.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/alienxp03/deepdiscussion/internal/core"
	"github.com/alienxp03/deepdiscussion/internal/critique"
	"github.com/alienxp03/deepdiscussion/internal/ledger"
	"github.com/alienxp03/deepdiscussion/internal/prompt"
)

const (
	DefaultMaxRounds           = 10
	DefaultConfirmTimeout      = 30 * time.Second
	DefaultInterventionTimeout = 120 * time.Second
	DefaultFailurePlaceholder  = "模型响应失败"
)

var (
	ErrRosterTooSmall = errors.New("roster needs at least 2 participants")
	ErrEmptyQuestion  = errors.New("question is empty")
	ErrAlreadyRun     = errors.New("engine already ran a debate")
)

// ModelClient answers a prompt on behalf of one participant.
type ModelClient interface {
	Call(ctx context.Context, participant, prompt string) (string, error)
}

// TranscriptSink receives every entry in order. It must not reorder calls.
type TranscriptSink interface {
	Record(entry core.Entry)
}

// InputGate asks the human a question and returns "" when nobody answers in time.
type InputGate interface {
	Prompt(ctx context.Context, text string, timeout time.Duration) string
}

// NoInput is an InputGate for unattended debates: every prompt times out at once.
type NoInput struct{}

// Prompt always returns "".
func (NoInput) Prompt(context.Context, string, time.Duration) string { return "" }

type discardSink struct{}

func (discardSink) Record(core.Entry) {}

// Options configures one debate.
type Options struct {
	// Roster is the ordered participant list. Order breaks ledger ties.
	Roster []string

	// MaxRounds bounds the hosted rounds. Default: 10.
	MaxRounds int

	// ConfirmTimeout bounds the consensus confirmation prompt. Default: 30s.
	ConfirmTimeout time.Duration

	// InterventionTimeout bounds the free-form human prompt. Default: 120s.
	InterventionTimeout time.Duration

	// FailurePlaceholder replaces the answer of a failed model call.
	FailurePlaceholder string

	// DebateID is stamped on every entry. Generated when empty.
	DebateID string

	Parser  *critique.Parser
	Prompts *prompt.Renderer
	Tokens  Tokens

	// Now stamps entries. Default: time.Now.
	Now func() time.Time
}

// Callbacks observe a running debate. Both are optional.
type Callbacks struct {
	// OnEntry is called after an entry has been recorded.
	OnEntry func(core.Entry)

	// OnNotice receives console-only messages such as an invalid host name.
	OnNotice func(string)
}

// Result is the outcome of a debate.
type Result struct {
	DebateID string                 `json:"debate_id"`
	Final    core.Solution          `json:"final"`
	Reason   core.TerminationReason `json:"reason"`
	Rounds   int                    `json:"rounds"`
	Host     string                 `json:"host"`
	Ledger   map[string]int         `json:"ledger"`
	Entries  int                    `json:"entries"`
}

// state is owned by the engine loop.
type state struct {
	question   string
	round      int
	host       string
	current    core.Solution
	initial    map[string]core.Solution
	ledger     *ledger.Ledger
	history    []core.Entry
	terminated bool
	reason     core.TerminationReason
}

// Engine runs a single debate. Create a new Engine for every debate.
type Engine struct {
	client ModelClient
	sink   TranscriptSink
	gate   InputGate
	opts   Options
	cb     Callbacks

	roster []string
	state  state
	ran    bool
}

// New validates opts and creates an engine. A nil sink discards entries and
// a nil gate behaves like NoInput.
func New(client ModelClient, sink TranscriptSink, gate InputGate, opts Options, cb Callbacks) (*Engine, error) {
	if client == nil {
		return nil, fmt.Errorf("model client is required")
	}
	if len(opts.Roster) < 2 {
		return nil, ErrRosterTooSmall
	}
	if err := core.ValidateRoster(opts.Roster); err != nil {
		return nil, fmt.Errorf("invalid roster: %w", err)
	}
	if sink == nil {
		sink = discardSink{}
	}
	if gate == nil {
		gate = NoInput{}
	}

	if opts.MaxRounds <= 0 {
		opts.MaxRounds = DefaultMaxRounds
	}
	if opts.ConfirmTimeout == 0 {
		opts.ConfirmTimeout = DefaultConfirmTimeout
	}
	if opts.InterventionTimeout == 0 {
		opts.InterventionTimeout = DefaultInterventionTimeout
	}
	if opts.FailurePlaceholder == "" {
		opts.FailurePlaceholder = DefaultFailurePlaceholder
	}
	if opts.DebateID == "" {
		opts.DebateID = core.NewDebateID()
	}
	if opts.Parser == nil {
		opts.Parser = critique.Default()
	}
	if opts.Prompts == nil {
		opts.Prompts = prompt.MustRenderer(*prompt.Default())
	}
	if opts.Tokens.empty() {
		opts.Tokens = DefaultTokens()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	for _, k := range prompt.Kinds {
		if _, err := opts.Prompts.Render(k, prompt.Data{}); err != nil {
			return nil, fmt.Errorf("invalid prompt set: %w", err)
		}
	}

	roster := append([]string(nil), opts.Roster...)
	return &Engine{
		client: client,
		sink:   sink,
		gate:   gate,
		opts:   opts,
		cb:     cb,
		roster: roster,
		state: state{
			initial: make(map[string]core.Solution, len(roster)),
			ledger:  ledger.New(roster),
		},
	}, nil
}

// DebateID returns the id stamped on every entry of this debate.
func (e *Engine) DebateID() string {
	return e.opts.DebateID
}

// Run executes the debate and returns its final solution. Exactly one
// final_solution entry is recorded, and it is the last entry. Run returns an
// error only for an empty question, a second call, or context cancellation;
// in the last case the final entry carries reason "interrupted".
func (e *Engine) Run(ctx context.Context, question string) (*Result, error) {
	if e.ran {
		return nil, ErrAlreadyRun
	}
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, ErrEmptyQuestion
	}
	e.ran = true

	s := &e.state
	s.question = question
	slog.Info("Starting debate", "debate_id", e.opts.DebateID, "participants", len(e.roster), "max_rounds", e.opts.MaxRounds)

	e.record(core.Entry{Kind: core.KindQuestion, Text: question, Roster: e.Roster()})

	if err := e.run(ctx); err != nil {
		slog.Warn("Debate interrupted", "debate_id", e.opts.DebateID, "round", s.round, "error", err)
		return e.finish(core.ReasonInterrupted), err
	}
	return e.finish(s.reason), nil
}

// Roster returns the participants in roster order.
func (e *Engine) Roster() []string {
	return append([]string(nil), e.roster...)
}

func (e *Engine) run(ctx context.Context) error {
	s := &e.state

	if err := e.proposeInitial(ctx); err != nil {
		return err
	}
	if err := e.critiqueInitial(ctx); err != nil {
		return err
	}
	e.selectHost()

	for round := 1; round <= e.opts.MaxRounds; round++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		s.round = round
		slog.Debug("Round started", "round", round, "host", s.host)

		if err := e.hostPropose(ctx); err != nil {
			return err
		}

		allAgree, err := e.challenge(ctx)
		if err != nil {
			return err
		}

		if allAgree {
			confirmed, err := e.confirm(ctx)
			if err != nil {
				return err
			}
			if confirmed {
				e.terminate(core.ReasonConsensus)
				return nil
			}
		}

		if round == e.opts.MaxRounds {
			e.terminate(core.ReasonMaxRounds)
			return nil
		}

		reassigned, err := e.intervene(ctx)
		if err != nil {
			return err
		}
		if s.terminated {
			return nil
		}

		if round%2 == 0 && !reassigned {
			e.rotateHost("rotation")
		}
	}

	e.terminate(core.ReasonMaxRounds)
	return nil
}

// proposeInitial asks every participant, in roster order, for a proposal.
func (e *Engine) proposeInitial(ctx context.Context) error {
	s := &e.state
	text, err := e.render(prompt.KindInitial, prompt.Data{Question: s.question})
	if err != nil {
		return err
	}

	for _, p := range e.roster {
		resp, err := e.call(ctx, p, text)
		if err != nil {
			return err
		}
		sol := core.Solution{Author: p, Round: 0, Text: resp}
		s.initial[p] = sol
		e.record(core.Entry{Kind: core.KindProposal, Participant: p, Round: 0, Text: resp})
	}
	return nil
}

type listedSolution struct {
	Participant string `json:"participant"`
	Solution    string `json:"solution"`
}

// critiqueInitial has every participant review the others' proposals. A
// severe critique counts against every participant it reviewed.
func (e *Engine) critiqueInitial(ctx context.Context) error {
	s := &e.state

	for _, critic := range e.roster {
		others := make([]string, 0, len(e.roster)-1)
		listing := make([]listedSolution, 0, len(e.roster)-1)
		for _, p := range e.roster {
			if p == critic {
				continue
			}
			others = append(others, p)
			listing = append(listing, listedSolution{Participant: p, Solution: s.initial[p].Text})
		}

		text, err := e.render(prompt.KindInitialCritique, prompt.Data{
			Question: s.question,
			Others:   prompt.JSON(listing),
		})
		if err != nil {
			return err
		}

		resp, err := e.call(ctx, critic, text)
		if err != nil {
			return err
		}

		result := e.opts.Parser.Parse(resp)
		if result.Severe {
			for _, p := range others {
				s.ledger.Increment(p)
			}
		}
		e.recordCritique(critic, 0, resp, result)
	}
	return nil
}

func (e *Engine) selectHost() {
	s := &e.state
	s.host = s.ledger.SelectMin()
	s.current = s.initial[s.host]
	e.notice(fmt.Sprintf("初始主持人: %s (挑战次数: %d)", s.host, s.ledger.Count(s.host)))
}

// hostPropose asks the host to consolidate the last len(roster)+1 history entries.
func (e *Engine) hostPropose(ctx context.Context) error {
	s := &e.state

	window := len(e.roster) + 1
	start := len(s.history) - window
	if start < 0 {
		start = 0
	}
	lines := make([]string, 0, window)
	for _, entry := range s.history[start:] {
		lines = append(lines, entry.Line())
	}

	text, err := e.render(prompt.KindHost, prompt.Data{
		Question: s.question,
		Host:     s.host,
		History:  prompt.JSON(lines),
	})
	if err != nil {
		return err
	}

	resp, err := e.call(ctx, s.host, text)
	if err != nil {
		return err
	}
	s.current = core.Solution{Author: s.host, Round: s.round, Text: resp}
	e.record(core.Entry{Kind: core.KindProposal, Participant: s.host, Round: s.round, Text: resp})
	return nil
}

// challenge collects every non-host verdict on the current proposal. Each
// disagreement or severe critique counts once against the host.
func (e *Engine) challenge(ctx context.Context) (bool, error) {
	s := &e.state

	text, err := e.render(prompt.KindChallenge, prompt.Data{
		Question: s.question,
		Host:     s.host,
		Solution: s.current.Text,
	})
	if err != nil {
		return false, err
	}

	allAgree := true
	for _, p := range e.roster {
		if p == s.host {
			continue
		}
		resp, err := e.call(ctx, p, text)
		if err != nil {
			return false, err
		}

		result := e.opts.Parser.Parse(resp)
		if result.Agreement == core.AgreementNo || result.Severe {
			s.ledger.Increment(s.host)
		}
		if result.Agreement != core.AgreementYes {
			allAgree = false
		}
		e.recordCritique(p, s.round, resp, result)
	}
	return allAgree, nil
}

// confirm asks the human to accept a unanimous proposal. Silence accepts.
func (e *Engine) confirm(ctx context.Context) (bool, error) {
	text, err := e.render(prompt.KindConfirm, prompt.Data{Host: e.state.host, Solution: e.state.current.Text})
	if err != nil {
		return false, err
	}

	answer := e.gate.Prompt(ctx, text, e.opts.ConfirmTimeout)
	if err := ctx.Err(); err != nil {
		return false, err
	}

	switch {
	case answer == "" || e.opts.Tokens.IsAffirmative(answer):
		return true, nil
	case e.opts.Tokens.IsNegative(answer):
		e.notice("继续讨论...")
	default:
		e.notice(fmt.Sprintf("未确认: %s，继续讨论...", answer))
	}
	return false, nil
}

// intervene reads one line of human input and applies it. It reports
// whether the human reassigned the host.
func (e *Engine) intervene(ctx context.Context) (bool, error) {
	s := &e.state

	text, err := e.render(prompt.KindIntervention, prompt.Data{Host: s.host})
	if err != nil {
		return false, err
	}

	input := e.gate.Prompt(ctx, text, e.opts.InterventionTimeout)
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if input == "" {
		return false, nil
	}

	e.record(core.Entry{Kind: core.KindUserNote, Round: s.round, Text: input})

	tokens := e.opts.Tokens
	if tokens.IsEnd(input) {
		e.terminate(core.ReasonUserEnded)
		return false, nil
	}
	if tokens.IsContinue(input) {
		return false, nil
	}
	if target, ok := tokens.HostTarget(input); ok {
		if !s.ledger.Has(target) {
			e.notice(fmt.Sprintf("无效模型名: %s", target))
			return false, nil
		}
		if target != s.host {
			e.changeHost(target, "user")
		}
		e.notice(fmt.Sprintf("用户指定新主持人: %s", s.host))
		return true, nil
	}

	return false, e.revise(ctx, input)
}

// revise forwards a human request to the host. The answer supersedes the
// current proposal within the same round.
func (e *Engine) revise(ctx context.Context, input string) error {
	s := &e.state

	text, err := e.render(prompt.KindRevision, prompt.Data{
		Question: s.question,
		Host:     s.host,
		Solution: s.current.Text,
		Input:    input,
	})
	if err != nil {
		return err
	}

	resp, err := e.call(ctx, s.host, text)
	if err != nil {
		return err
	}
	s.current = core.Solution{Author: s.host, Round: s.round, Text: resp}
	e.record(core.Entry{Kind: core.KindProposal, Participant: s.host, Round: s.round, Text: resp, Revision: true})
	return nil
}

func (e *Engine) rotateHost(reason string) {
	next := e.state.ledger.SelectMin()
	if next != e.state.host {
		e.changeHost(next, reason)
	}
}

func (e *Engine) changeHost(next, reason string) {
	s := &e.state
	prev := s.host
	e.notice(fmt.Sprintf("主持人更换: %s (挑战次数: %d) -> %s (挑战次数: %d)",
		prev, s.ledger.Count(prev), next, s.ledger.Count(next)))
	s.host = next
	e.record(core.Entry{Kind: core.KindHostChange, From: prev, Participant: next, Round: s.round, Text: reason})
}

func (e *Engine) terminate(reason core.TerminationReason) {
	e.state.terminated = true
	e.state.reason = reason
}

// finish records the single final_solution entry.
func (e *Engine) finish(reason core.TerminationReason) *Result {
	s := &e.state
	s.terminated = true
	s.reason = reason

	counts := s.ledger.Snapshot()
	e.record(core.Entry{
		Kind:        core.KindFinalSolution,
		Participant: s.current.Author,
		Round:       s.current.Round,
		Text:        s.current.Text,
		Reason:      reason,
		Ledger:      counts,
		Rounds:      s.round,
		Host:        s.host,
	})
	slog.Info("Debate finished",
		"debate_id", e.opts.DebateID,
		"reason", reason,
		"rounds", s.round,
		"host", s.host,
		"ledger", s.ledger.String(),
	)

	return &Result{
		DebateID: e.opts.DebateID,
		Final:    s.current,
		Reason:   reason,
		Rounds:   s.round,
		Host:     s.host,
		Ledger:   counts,
		Entries:  len(s.history),
	}
}

// call asks one participant. A failed or empty answer becomes the failure
// placeholder; only context cancellation is returned as an error.
func (e *Engine) call(ctx context.Context, participant, text string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	resp, err := e.client.Call(ctx, participant, text)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return "", ctxErr
	}
	if err != nil {
		slog.Warn("Model call failed, using placeholder",
			"participant", participant,
			"round", e.state.round,
			"error", err,
		)
		return e.opts.FailurePlaceholder, nil
	}

	resp = strings.TrimSpace(resp)
	if resp == "" {
		slog.Warn("Model returned empty response, using placeholder", "participant", participant, "round", e.state.round)
		return e.opts.FailurePlaceholder, nil
	}
	return resp, nil
}

func (e *Engine) render(k prompt.Kind, data prompt.Data) (string, error) {
	text, err := e.opts.Prompts.Render(k, data)
	if err != nil {
		return "", fmt.Errorf("failed to build %s prompt: %w", k, err)
	}
	return text, nil
}

func (e *Engine) recordCritique(participant string, round int, raw string, result core.CritiqueResult) {
	e.record(core.Entry{
		Kind:        core.KindCritique,
		Participant: participant,
		Round:       round,
		Text:        raw,
		Agreement:   result.Agreement,
		Critique:    result.Critique,
		Severe:      result.Severe,
	})
}

func (e *Engine) record(entry core.Entry) {
	s := &e.state
	entry.ID = uuid.NewString()
	entry.DebateID = e.opts.DebateID
	entry.Seq = len(s.history) + 1
	entry.CreatedAt = e.opts.Now()

	s.history = append(s.history, entry)
	e.sink.Record(entry)
	if e.cb.OnEntry != nil {
		e.cb.OnEntry(entry)
	}
}

func (e *Engine) notice(msg string) {
	slog.Debug("Debate notice", "message", msg)
	if e.cb.OnNotice != nil {
		e.cb.OnNotice(msg)
	}
}
