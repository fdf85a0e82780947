// Package orchestrator drives one evaluation through scoring, discussion
// and convergence rounds, publishing every step to the ordered log.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/hugo-lorenzo-mato/quorum-judge/internal/codec"
	"github.com/hugo-lorenzo-mato/quorum-judge/internal/consensus"
	"github.com/hugo-lorenzo-mato/quorum-judge/internal/core"
	"github.com/hugo-lorenzo-mato/quorum-judge/internal/events"
	"github.com/hugo-lorenzo-mato/quorum-judge/internal/logging"
	"github.com/hugo-lorenzo-mato/quorum-judge/internal/message"
)

// Orchestrator runs evaluations against one log and judge registry.
// It keeps no per-evaluation state, so one value may serve concurrent runs.
type Orchestrator struct {
	log     core.OrderedLog
	judges  core.JudgeRegistry
	cfg     Config
	store   core.EvaluationStore
	bus     *events.EventBus
	logger  *logging.Logger
	clock   core.Clock
	retry   *RetryPolicy
	weights map[string]float64
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithConfig replaces the default configuration.
func WithConfig(cfg Config) Option {
	return func(o *Orchestrator) {
		o.cfg = cfg
	}
}

// WithStore sets the persistence collaborator. Optional.
func WithStore(s core.EvaluationStore) Option {
	return func(o *Orchestrator) {
		o.store = s
	}
}

// WithEventBus sets the local progress event bus. Optional.
func WithEventBus(b *events.EventBus) Option {
	return func(o *Orchestrator) {
		o.bus = b
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = l
	}
}

// WithClock overrides the time source.
func WithClock(c core.Clock) Option {
	return func(o *Orchestrator) {
		o.clock = c
	}
}

// WithRetryPolicy sets the publish retry policy.
func WithRetryPolicy(p *RetryPolicy) Option {
	return func(o *Orchestrator) {
		o.retry = p
	}
}

// WithWeights sets default per-agent reputation weights. Request weights
// take precedence.
func WithWeights(w map[string]float64) Option {
	return func(o *Orchestrator) {
		o.weights = w
	}
}

// New creates an orchestrator.
func New(log core.OrderedLog, judges core.JudgeRegistry, opts ...Option) (*Orchestrator, error) {
	if log == nil {
		return nil, invalidConfig("ordered log is required")
	}
	if judges == nil {
		return nil, invalidConfig("judge registry is required")
	}

	o := &Orchestrator{
		log:    log,
		judges: judges,
		cfg:    DefaultConfig(),
		logger: logging.NewNop(),
		clock:  core.SystemClock{},
		retry:  DefaultRetryPolicy(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if err := o.cfg.Validate(); err != nil {
		return nil, err
	}
	return o, nil
}

// Config returns the effective configuration.
func (o *Orchestrator) Config() Config {
	return o.cfg
}

// Run executes one evaluation to completion. It never panics on judge or
// log failures and always returns an Outcome; check Outcome.Err.
func (o *Orchestrator) Run(ctx context.Context, req *core.EvaluationRequest) *Outcome {
	r := &run{
		o:       o,
		cfg:     o.cfg,
		req:     req,
		logger:  o.logger,
		machine: core.NewPhaseMachine(),
		current: make(map[string]core.AgentScore),
		out:     &Outcome{Status: core.EvaluationStatusPending},
	}
	r.execute(ctx)
	return r.out
}

// run is the single-owner state of one evaluation.
type run struct {
	o       *Orchestrator
	cfg     Config
	req     *core.EvaluationRequest
	logger  *logging.Logger
	machine *core.PhaseMachine
	agg     *consensus.Aggregator
	pub     *Publisher
	out     *Outcome

	preamble  []core.PublishedMessage
	active    *core.Round
	persisted bool

	// current holds each agent's best score so far.
	current map[string]core.AgentScore
	// history holds the score map of every converged round, oldest first.
	history   []map[string]float64
	last      consensus.Result
	lastRound int // round the last result was computed for; -1 if none
}

func (r *run) execute(parent context.Context) {
	r.out.StartedAt = r.o.clock.Now()
	r.lastRound = -1
	defer func() {
		r.out.Phase = r.machine.Current()
		r.out.FinishedAt = r.o.clock.Now()
	}()

	if r.req == nil {
		r.fail(parent, core.ErrValidation(core.CodeInvalidConfig, "evaluation request is required"))
		return
	}
	r.out.EvaluationID = r.req.ID
	r.logger = r.logger.WithEvaluation(r.req.ID)

	if err := r.req.Validate(); err != nil {
		r.fail(parent, err)
		return
	}
	alg := r.cfg.Algorithm
	if r.req.Algorithm != "" {
		parsed, err := consensus.ParseAlgorithm(r.req.Algorithm)
		if err != nil {
			r.fail(parent, err)
			return
		}
		alg = parsed
	}
	agg, err := consensus.New(r.cfg.aggregatorConfig(alg))
	if err != nil {
		r.fail(parent, err)
		return
	}
	r.agg = agg

	r.req.Status = core.EvaluationStatusProcessing
	r.out.Status = core.EvaluationStatusProcessing
	r.persistStart(parent)

	ctx := parent
	if r.cfg.EvaluationTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(parent, r.cfg.EvaluationTimeout)
		defer cancel()
	}

	if err := r.initialize(ctx); err != nil {
		r.fail(parent, err)
		return
	}
	if err := r.transition(core.PhaseScoring); err != nil {
		r.fail(parent, err)
		return
	}
	if err := r.scoreRound(ctx); err != nil {
		r.fail(parent, err)
		return
	}
	if len(r.current) == 0 {
		r.fail(parent, core.ErrNoUsableScores(len(r.req.Agents)))
		return
	}

	for {
		if ctx.Err() != nil {
			r.out.DeadlineReached = true
			break
		}
		if err := r.transition(core.PhaseConverging); err != nil {
			r.fail(parent, err)
			return
		}
		if err := r.converge(); err != nil {
			r.fail(parent, err)
			return
		}
		if r.shouldStop(ctx) {
			break
		}
		if err := r.transition(core.PhaseDiscussing); err != nil {
			r.fail(parent, err)
			return
		}
		if err := r.discussRound(ctx, len(r.out.Rounds)); err != nil {
			r.fail(parent, err)
			return
		}
	}

	r.complete(parent)
}

// initialize creates or reuses the topic and publishes the start marker.
func (r *run) initialize(ctx context.Context) error {
	topic := r.req.TopicID
	if topic == "" {
		memo := fmt.Sprintf("quorum-judge evaluation %s", r.req.ID)
		created, err := retryValue(ctx, r.o.retry, func(ctx context.Context) (string, error) {
			return r.o.log.CreateTopic(ctx, memo)
		}, nil)
		if err != nil {
			return publishFailed("", "creating topic", err)
		}
		topic = created
	}
	r.req.TopicID = topic
	r.out.TopicID = topic
	r.logger = r.logger.WithTopic(topic)
	r.pub = NewPublisher(r.o.log, topic, codec.NewEncoder(r.cfg.ChunkThreshold, codec.WithMaxChunks(r.cfg.MaxChunks)), r.o.retry, r.o.clock, r.logger)

	env, err := message.New("", 0, message.InitialPayload{
		EvaluationID:         r.req.ID,
		Content:              r.req.Content,
		Criteria:             r.req.Criteria,
		Agents:               r.req.Agents,
		Algorithm:            string(r.agg.Config().Algorithm),
		MaxDiscussionRounds:  r.cfg.MaxDiscussionRounds,
		ConvergenceThreshold: r.cfg.ConvergenceThreshold,
		OutlierDetection:     r.cfg.OutlierDetection,
	})
	if err != nil {
		return err
	}
	pm, err := r.publish(ctx, env)
	if err != nil {
		return err
	}
	r.preamble = append(r.preamble, pm)
	r.logger.Info("evaluation started", "agents", len(r.req.Agents), "algorithm", r.agg.Config().Algorithm)
	return nil
}

// scoreRound runs round 0: independent scoring by every requested agent.
func (r *run) scoreRound(ctx context.Context) error {
	r.openRound(0, r.req.Agents)
	defer r.closeRound()

	build := func(agent string) core.JudgeRequest {
		return r.baseRequest(0)
	}
	return r.fanOut(ctx, 0, r.req.Agents, build, func(res judgeResult) error {
		if res.err != nil {
			r.abstain(0, res.agent, res.err)
			return nil
		}
		score, confidence, err := r.normalize(res.agent, 0, res.resp)
		if err != nil {
			r.abstain(0, res.agent, err)
			return nil
		}
		env, err := message.New(res.agent, 0, message.ScorePayload{
			Score:      score,
			Confidence: confidence,
			Reasoning:  res.resp.Reasoning,
			Aspects:    res.resp.Aspects,
		})
		if err != nil {
			return err
		}
		if _, err := r.publish(ctx, env); err != nil {
			return err
		}
		r.current[res.agent] = core.AgentScore{
			AgentID:    res.agent,
			Score:      score,
			Confidence: confidence,
			Reasoning:  res.resp.Reasoning,
			Aspects:    res.resp.Aspects,
			Round:      0,
		}
		r.active.Participants++
		r.logger.WithAgent(res.agent).Debug("score recorded", "score", score, "confidence", confidence, "elapsed", res.elapsed)
		return nil
	})
}

// discussRound shows each scored agent the previous round and records
// adjustments or comments.
func (r *run) discussRound(ctx context.Context, round int) error {
	prev := make(map[string]core.AgentScore, len(r.current))
	for k, v := range r.current {
		prev[k] = v
	}
	participants := sortedKeys(prev)
	values := make([]float64, 0, len(participants))
	for _, a := range participants {
		values = append(values, prev[a].Score)
	}
	dist := consensus.Describe(values)
	anonymous := r.agg.Config().Algorithm.Anonymous()

	r.openRound(round, participants)
	defer r.closeRound()

	build := func(agent string) core.JudgeRequest {
		req := r.baseRequest(round)
		peer := &core.PeerContext{
			PreviousRound: round - 1,
			OwnScore:      prev[agent].Score,
			Distribution: core.ScoreDistribution{
				Count:  dist.Count,
				Mean:   dist.Mean,
				Median: dist.Median,
				Min:    dist.Min,
				Max:    dist.Max,
				StdDev: dist.StdDev,
			},
		}
		if !anonymous {
			for _, other := range participants {
				if other == agent {
					continue
				}
				s := prev[other]
				peer.Peers = append(peer.Peers, core.PeerOpinion{
					AgentID:    other,
					Score:      s.Score,
					Confidence: s.Confidence,
					Reasoning:  s.Reasoning,
				})
			}
		}
		req.Peer = peer
		return req
	}

	return r.fanOut(ctx, round, participants, build, func(res judgeResult) error {
		if res.err != nil {
			r.abstain(round, res.agent, res.err)
			return nil
		}
		score, confidence, err := r.normalize(res.agent, round, res.resp)
		if err != nil {
			r.abstain(round, res.agent, err)
			return nil
		}

		own := prev[res.agent]
		var payload message.Payload
		adjusted := math.Abs(score-own.Score) > r.cfg.AdjustmentEpsilon
		if adjusted {
			payload = message.AdjustmentPayload{
				OriginalScore: own.Score,
				AdjustedScore: score,
				Confidence:    confidence,
				Reasoning:     res.resp.Reasoning,
				Aspects:       res.resp.Aspects,
			}
		} else {
			comment := res.resp.Comment
			if comment == "" {
				comment = res.resp.Reasoning
			}
			payload = message.DiscussionPayload{Comment: comment, CurrentScore: own.Score}
		}

		env, err := message.New(res.agent, round, payload)
		if err != nil {
			return err
		}
		if _, err := r.publish(ctx, env); err != nil {
			return err
		}
		if adjusted {
			r.current[res.agent] = core.AgentScore{
				AgentID:    res.agent,
				Score:      score,
				Confidence: confidence,
				Reasoning:  res.resp.Reasoning,
				Aspects:    res.resp.Aspects,
				Round:      round,
			}
			r.logger.WithAgent(res.agent).Info("score adjusted", "round", round, "from", own.Score, "to", score)
		}
		r.active.Participants++
		return nil
	})
}

// converge aggregates the current best scores and records the round variance.
func (r *run) converge() error {
	res, err := r.aggregate()
	if err != nil {
		return err
	}
	r.last = res
	r.lastRound = len(r.out.Rounds) - 1
	r.out.Rounds[r.lastRound].Variance = res.Variance
	r.history = append(r.history, scoreMap(r.current))

	r.logger.Info("round converged",
		"round", r.lastRound,
		"score", res.FinalScore,
		"variance", res.Variance,
		"outliers", len(res.Outliers))
	return nil
}

func (r *run) aggregate() (consensus.Result, error) {
	scores := make([]core.AgentScore, 0, len(r.current))
	for _, a := range sortedKeys(r.current) {
		scores = append(scores, r.current[a])
	}
	weights := r.o.weights
	if len(r.req.Weights) > 0 {
		weights = r.req.Weights
	}
	return r.agg.Aggregate(consensus.Input{Scores: scores, Weights: weights, History: r.history})
}

// shouldStop decides whether the last converged round is final.
func (r *run) shouldStop(ctx context.Context) bool {
	executed := len(r.out.Rounds)
	switch {
	case !r.cfg.EnableDiscussion || len(r.current) < 2:
		return true
	case executed >= r.cfg.MaxDiscussionRounds:
		r.logger.Info("round limit reached", "rounds", executed, "variance", r.last.Variance)
		return true
	case r.last.Variance <= r.cfg.ConvergenceThreshold && executed-1 >= r.cfg.MinDiscussionRounds:
		return true
	case ctx.Err() != nil:
		r.out.DeadlineReached = true
		return true
	}
	return false
}

// complete publishes the final event and records the result. The final
// publish runs detached from the caller so a passed deadline still yields
// a final entry.
func (r *run) complete(parent context.Context) {
	ctx, cancel := r.detached(parent)
	defer cancel()

	res := r.last
	if r.lastRound != len(r.out.Rounds)-1 {
		var err error
		res, err = r.aggregate()
		if err != nil {
			r.fail(parent, err)
			return
		}
	}
	if r.out.DeadlineReached {
		r.warn("evaluation deadline reached; completed with the scores gathered so far")
	}

	result := &core.ConsensusResult{
		FinalScore:        res.FinalScore,
		Confidence:        res.Confidence,
		Variance:          res.Variance,
		Algorithm:         string(res.Algorithm),
		ConvergenceRounds: len(r.out.Rounds),
		IndividualScores:  res.IndividualScores,
		Outliers:          res.Outliers,
	}
	env, err := message.New("", len(r.out.Rounds)-1, message.FinalPayload{
		FinalScore:        result.FinalScore,
		Confidence:        result.Confidence,
		Variance:          result.Variance,
		Algorithm:         result.Algorithm,
		ConvergenceRounds: result.ConvergenceRounds,
		Reasoning:         message.EncodeIndividualScores(result.IndividualScores),
		Outliers:          result.Outliers,
	})
	if err != nil {
		r.fail(parent, err)
		return
	}
	pm, err := r.publish(ctx, env)
	if err != nil {
		r.fail(parent, err)
		return
	}
	last := &r.out.Rounds[len(r.out.Rounds)-1]
	last.Messages = append(last.Messages, pm)

	if err := r.transition(core.PhaseCompleted); err != nil {
		r.fail(parent, err)
		return
	}
	if res.Algorithm == consensus.DelphiMethod {
		r.out.VarianceTrend = res.VarianceTrend
		if !res.Converging() {
			r.warn(fmt.Sprintf("delphi variance did not shrink across rounds: %v", res.VarianceTrend))
			r.logger.Warn("delphi rounds not converging", "trend", res.VarianceTrend)
		}
	}
	r.out.Consensus = result
	r.out.Status = core.EvaluationStatusCompleted
	r.req.Status = core.EvaluationStatusCompleted

	r.persistFinish(ctx, core.EvaluationSummary{
		ConsensusScore:    result.FinalScore,
		Confidence:        result.Confidence,
		Variance:          result.Variance,
		ConvergenceRounds: result.ConvergenceRounds,
		Algorithm:         result.Algorithm,
		Status:            core.EvaluationStatusCompleted,
		TopicID:           r.out.TopicID,
	})
	r.emitCompleted("")
	r.logger.Info("evaluation completed",
		"score", result.FinalScore,
		"confidence", result.Confidence,
		"rounds", result.ConvergenceRounds)
}

// fail moves the evaluation to Failed. It publishes a best-effort error
// event when a topic exists.
func (r *run) fail(parent context.Context, err error) {
	if r.active != nil {
		r.closeRound()
	}
	de := asDomainError(err)
	r.out.Failure = de
	r.out.Status = core.EvaluationStatusFailed
	if r.req != nil {
		r.req.Status = core.EvaluationStatusFailed
	}
	if !r.machine.Current().IsTerminal() {
		if terr := r.transition(core.PhaseFailed); terr != nil {
			r.logger.Error("phase transition failed", "error", terr)
		}
	}

	ctx, cancel := r.detached(parent)
	defer cancel()

	if r.pub != nil && de.Code != core.CodeLogPublishFailed {
		env, merr := message.New("", len(r.out.Rounds), message.ErrorPayload{Code: de.Code, Message: de.Message})
		if merr == nil {
			if _, perr := r.pub.Publish(ctx, env); perr != nil {
				r.logger.Warn("could not publish failure event", "error", perr)
			}
		}
	}

	if r.req != nil {
		r.persistFinish(ctx, core.EvaluationSummary{
			Status:            core.EvaluationStatusFailed,
			TopicID:           r.out.TopicID,
			ConvergenceRounds: len(r.out.Rounds),
			Error:             de.Error(),
		})
	}
	r.emitCompleted(de.Error())
	r.logger.Error("evaluation failed", "code", de.Code, "error", de)
}

func (r *run) detached(parent context.Context) (context.Context, context.CancelFunc) {
	base := context.WithoutCancel(parent)
	if r.cfg.FinalizeTimeout > 0 {
		return context.WithTimeout(base, r.cfg.FinalizeTimeout)
	}
	return context.WithCancel(base)
}

// publish writes env and records it on the active round (or the preamble).
// Publishing ignores the evaluation deadline so a chunk group is never cut
// in half; each write is bounded by FinalizeTimeout instead.
func (r *run) publish(ctx context.Context, env message.Envelope) (core.PublishedMessage, error) {
	pctx, cancel := r.detached(ctx)
	defer cancel()

	pm, err := r.pub.Publish(pctx, env)
	if err != nil {
		return pm, err
	}
	if r.active != nil {
		r.active.Messages = append(r.active.Messages, pm)
	}
	if r.o.bus != nil {
		r.o.bus.Publish(events.NewMessagePublishedEvent(r.out.EvaluationID, pm.Type, pm.AgentName, pm.RoundNumber,
			pm.FirstSequence, pm.LastSequence, pm.Chunks))
	}
	return pm, nil
}

func (r *run) transition(next core.EvaluationPhase) error {
	from := r.machine.Current()
	if err := r.machine.Transition(next); err != nil {
		return err
	}
	r.out.Phase = next
	r.logger.Debug("phase changed", "from", from, "to", next)
	if r.o.bus != nil {
		r.o.bus.Publish(events.NewPhaseChangedEvent(r.out.EvaluationID, string(from), string(next)))
	}
	return nil
}

func (r *run) openRound(n int, agents []string) {
	r.active = &core.Round{Number: n, StartedAt: r.o.clock.Now()}
	if n == 0 && len(r.preamble) > 0 {
		r.active.Messages = append(r.active.Messages, r.preamble...)
		r.preamble = nil
	}
	if r.o.bus != nil {
		r.o.bus.Publish(events.NewRoundStartedEvent(r.out.EvaluationID, n, agents))
	}
	r.logger.Debug("round started", "round", n, "agents", len(agents))
}

func (r *run) closeRound() {
	round := r.active
	r.active = nil
	round.EndedAt = r.o.clock.Now()
	r.out.Rounds = append(r.out.Rounds, *round)

	if r.o.bus != nil {
		values := make([]float64, 0, len(r.current))
		for _, s := range r.current {
			values = append(values, s.Score)
		}
		variance := math.Pow(consensus.Describe(values).StdDev, 2)
		r.o.bus.Publish(events.NewRoundClosedEvent(r.out.EvaluationID, round.Number, round.Participants,
			round.Abstained, variance, round.Duration()))
	}
}

func (r *run) abstain(round int, agent string, err error) {
	code := core.GetCode(err)
	if r.active != nil {
		r.active.Abstained = append(r.active.Abstained, agent)
	}
	r.warn(fmt.Sprintf("agent %s abstained in round %d: %s", agent, round, code))
	r.logger.WithAgent(agent).Warn("agent abstained", "round", round, "code", code, "error", err)
	if r.o.bus != nil {
		r.o.bus.Publish(events.NewAgentAbstainedEvent(r.out.EvaluationID, agent, round, code, err.Error()))
	}
}

// normalize validates a response score and clamps it to the configured range.
func (r *run) normalize(agent string, round int, resp core.JudgeResponse) (float64, float64, error) {
	if math.IsNaN(resp.Score) || math.IsInf(resp.Score, 0) {
		return 0, 0, core.ErrValidation(core.CodeInvalidScore, fmt.Sprintf("agent %s returned a non-finite score", agent))
	}
	score := resp.Score
	if score < r.cfg.ScoreMin || score > r.cfg.ScoreMax {
		score = math.Max(r.cfg.ScoreMin, math.Min(r.cfg.ScoreMax, score))
		r.warn(fmt.Sprintf("agent %s score %g in round %d clamped to %g", agent, resp.Score, round, score))
	}
	confidence := resp.Confidence
	if math.IsNaN(confidence) {
		confidence = 0
	}
	confidence = math.Max(0, math.Min(1, confidence))
	return score, confidence, nil
}

func (r *run) baseRequest(round int) core.JudgeRequest {
	return core.JudgeRequest{
		EvaluationID: r.req.ID,
		Content:      r.req.Content,
		Criteria:     r.req.Criteria,
		Round:        round,
	}
}

func (r *run) warn(msg string) {
	r.out.Warnings = append(r.out.Warnings, msg)
}

func (r *run) persistStart(ctx context.Context) {
	store := r.o.store
	if store == nil {
		return
	}
	if err := store.CreateEvaluation(ctx, r.req); err != nil {
		r.persistWarning(err)
		return
	}
	r.persisted = true
	if err := store.UpdateEvaluation(ctx, r.req.ID, core.EvaluationSummary{Status: core.EvaluationStatusProcessing}); err != nil {
		r.persistWarning(err)
	}
}

func (r *run) persistFinish(ctx context.Context, summary core.EvaluationSummary) {
	if r.o.store == nil || !r.persisted {
		return
	}
	if err := r.o.store.UpdateEvaluation(ctx, r.req.ID, summary); err != nil {
		r.persistWarning(err)
	}
}

func (r *run) persistWarning(err error) {
	r.warn("persistence failed: " + err.Error())
	r.logger.Warn("persistence failed", "error", err)
}

func (r *run) emitCompleted(errMsg string) {
	if r.o.bus == nil || r.req == nil {
		return
	}
	var score, confidence float64
	if r.out.Consensus != nil {
		score, confidence = r.out.Consensus.FinalScore, r.out.Consensus.Confidence
	}
	r.o.bus.PublishPriority(events.NewEvaluationCompletedEvent(r.out.EvaluationID, string(r.out.Status), r.out.TopicID,
		score, confidence, len(r.out.Rounds), errMsg))
}

func scoreMap(scores map[string]core.AgentScore) map[string]float64 {
	out := make(map[string]float64, len(scores))
	for k, v := range scores {
		out[k] = v.Score
	}
	return out
}

func asDomainError(err error) *core.DomainError {
	var de *core.DomainError
	if errors.As(err, &de) {
		return de
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return core.ErrTimeout("evaluation cancelled").WithCause(err)
	}
	return &core.DomainError{
		Category: core.ErrCatInternal,
		Code:     "INTERNAL",
		Message:  "unexpected error",
		Cause:    err,
	}
}
