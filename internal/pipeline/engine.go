package pipeline

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/mhalvorsen/lookout/internal/events"
	"github.com/mhalvorsen/lookout/internal/modules/runs"
	"github.com/mhalvorsen/lookout/internal/modules/schedules"
	"github.com/mhalvorsen/lookout/internal/modules/settings"
	"github.com/mhalvorsen/lookout/internal/modules/status"
	"github.com/mhalvorsen/lookout/internal/modules/watchlist"
	"github.com/mhalvorsen/lookout/internal/reasoning"
	"github.com/mhalvorsen/lookout/internal/retrieval"
)

// PortfolioTicker is the synthetic ticker for portfolio-wide analyses;
// it bypasses the watchlist gate.
const PortfolioTicker = "PORTFOLIO"

// Invoker runs one reasoning call. The production binding spawns the
// engine subprocess; tests bind stubs.
type Invoker interface {
	Invoke(ctx context.Context, prompt string, capabilities []string, label string, timeout time.Duration) (string, error)
}

// ContextBuilder assembles the hybrid retrieval context.
type ContextBuilder interface {
	Build(ctx context.Context, ticker, query, kind, excludeDocID string) (*retrieval.HybridContext, error)
}

// Clock abstracts time for artifact stamps.
type Clock interface {
	Now() time.Time
}

// Request identifies one pipeline invocation. The Run row must already
// exist (created by the scheduler's idempotent start or as an ad-hoc
// run); the engine drives it to a terminal state.
type Request struct {
	RunID      int64
	Ticker     string
	Kind       string
	ScheduleID *int64
}

// Engine orchestrates run_analysis for both pipeline variants.
type Engine struct {
	runs      *runs.Repository
	schedules *schedules.Repository
	watchlist *watchlist.Repository
	status    *status.Repository
	settings  settings.Reader
	invoker   Invoker
	builder   ContextBuilder
	ingester  *Ingester
	bus       *events.Bus
	clock     Clock

	analysesDir  string
	capabilities []string
	log          zerolog.Logger
}

// Deps bundles the engine's collaborators.
type Deps struct {
	Runs         *runs.Repository
	Schedules    *schedules.Repository
	Watchlist    *watchlist.Repository
	Status       *status.Repository
	Settings     settings.Reader
	Invoker      Invoker
	Builder      ContextBuilder
	Ingester     *Ingester
	Bus          *events.Bus
	Clock        Clock
	AnalysesDir  string
	Capabilities []string
}

func NewEngine(d Deps, log zerolog.Logger) *Engine {
	return &Engine{
		runs:         d.Runs,
		schedules:    d.Schedules,
		watchlist:    d.Watchlist,
		status:       d.Status,
		settings:     d.Settings,
		invoker:      d.Invoker,
		builder:      d.Builder,
		ingester:     d.Ingester,
		bus:          d.Bus,
		clock:        d.Clock,
		analysesDir:  d.AnalysesDir,
		capabilities: d.Capabilities,
		log:          log.With().Str("component", "pipeline").Logger(),
	}
}

// RunAnalysis drives one run to a terminal state. A skipped guard rail
// returns (nil, nil); a phase 1 failure finishes the run failed and
// returns the error; otherwise the run completes, degraded or not, and
// the persisted result is returned.
func (e *Engine) RunAnalysis(ctx context.Context, req Request) (*runs.AnalysisResult, error) {
	log := e.log.With().Int64("run_id", req.RunID).Str("ticker", req.Ticker).Str("kind", req.Kind).Logger()

	if !ValidKind(req.Kind) {
		return nil, e.fail(req, fmt.Sprintf("unknown analysis kind %q", req.Kind), "", false)
	}
	if skip, reason := e.guardRails(req); skip {
		log.Info().Str("reason", reason).Msg("run skipped")
		e.finish(req.RunID, runs.Outcome{Status: runs.StatusSkipped, Error: reason})
		e.bus.Publish(events.TypeRunSkipped, map[string]any{"run_id": req.RunID, "ticker": req.Ticker, "reason": reason})
		return nil, nil
	}

	e.bus.Publish(events.TypeRunStarted, map[string]any{"run_id": req.RunID, "ticker": req.Ticker, "kind": req.Kind})

	fourPhase, _ := e.settings.GetBool(settings.KeyFourPhaseEnabled, settings.DefaultFourPhaseEnabled)
	if fourPhase {
		return e.runFourPhase(ctx, req, log)
	}
	return e.runLegacy(ctx, req, log)
}

// guardRails checks the skip conditions in order: unknown or disabled
// ticker, daily cap, tripped schedule.
func (e *Engine) guardRails(req Request) (bool, string) {
	if req.Ticker != PortfolioTicker {
		stock, err := e.watchlist.Get(req.Ticker)
		if err != nil || stock == nil {
			return true, fmt.Sprintf("ticker %s not on watchlist", req.Ticker)
		}
		if !stock.Enabled {
			return true, fmt.Sprintf("ticker %s is disabled", req.Ticker)
		}
	}

	maxDaily, _ := e.settings.GetInt(settings.KeyMaxDailyAnalyses, settings.DefaultMaxDailyAnalyses)
	today, err := e.status.TodayAnalyses()
	if err == nil && today >= maxDaily {
		return true, fmt.Sprintf("daily analysis cap reached (%d)", maxDaily)
	}

	if req.ScheduleID != nil {
		sched, err := e.schedules.Get(*req.ScheduleID)
		if err == nil && sched != nil && sched.Tripped() {
			return true, fmt.Sprintf("schedule %d circuit breaker tripped", sched.ID)
		}
	}
	return false, ""
}

func (e *Engine) runFourPhase(ctx context.Context, req Request, log zerolog.Logger) (*runs.AnalysisResult, error) {
	// Phase 1: unbiased generation. No retrieval context in the prompt.
	raw, artifact, parsed, err := e.phase1(ctx, req, "")
	if err != nil {
		return nil, e.fail(req, err.Error(), raw, true)
	}

	// Phase 2: dual ingest. Failures degrade; the run continues.
	_ = e.runs.SetStage(req.RunID, "phase2")
	phase2Secs, _ := e.settings.GetInt(settings.KeyPhase2TimeoutSeconds, settings.DefaultPhase2TimeoutSecs)
	ingestCtx, cancel2 := context.WithTimeout(ctx, time.Duration(phase2Secs)*time.Second)
	ingest := e.ingester.Ingest(ingestCtx, artifact)
	cancel2()
	if len(ingest.Errors) > 0 {
		log.Warn().Strs("errors", ingest.Errors).Msg("ingest degraded")
	}

	// Phase 3: retrieve, excluding the document we just ingested.
	_ = e.runs.SetStage(req.RunID, "phase3")
	phase3Secs, _ := e.settings.GetInt(settings.KeyPhase3TimeoutSeconds, settings.DefaultPhase3TimeoutSecs)
	retrieveCtx, cancel3 := context.WithTimeout(ctx, time.Duration(phase3Secs)*time.Second)
	query := fmt.Sprintf("%s analysis historical patterns", req.Kind)
	hc, herr := e.builder.Build(retrieveCtx, req.Ticker, query, req.Kind, ingest.DocID)
	cancel3()
	if herr != nil || hc == nil {
		log.Warn().Err(herr).Msg("retrieval failed, synthesizing without context")
		hc = &retrieval.HybridContext{Ticker: req.Ticker, IsFirstAnalysis: true}
	}

	// Phase 4: synthesize and adjust confidence.
	_ = e.runs.SetStage(req.RunID, "phase4")
	past, perr := e.runs.RecentResults(req.Ticker, maxHistoryRows)
	if perr != nil {
		log.Warn().Err(perr).Msg("history lookup failed")
		past = nil
	}
	pastRecs := make([]string, 0, len(past))
	for _, p := range past {
		pastRecs = append(pastRecs, p.Recommendation)
	}
	adj := adjustConfidence(parsed.Confidence, hc, parsed.Recommendation, pastRecs)

	// Synthesis is local work; the timeout only bounds pathological
	// filesystem stalls.
	phase4Secs, _ := e.settings.GetInt(settings.KeyPhase4TimeoutSeconds, settings.DefaultPhase4TimeoutSecs)
	block := renderSynthesis(hc, past, adj)
	appendDone := make(chan error, 1)
	go func() { appendDone <- appendSynthesis(artifact, block) }()
	select {
	case aerr := <-appendDone:
		if aerr != nil {
			log.Warn().Err(aerr).Msg("synthesis append failed")
		}
	case <-time.After(time.Duration(phase4Secs) * time.Second):
		log.Warn().Msg("synthesis append timed out")
	}

	result := resultFromParsed(req, parsed, ingest.DocID)
	if err := e.runs.SaveResult(result); err != nil {
		log.Error().Err(err).Msg("failed to persist result")
		return nil, e.fail(req, fmt.Sprintf("persist result: %v", err), raw, true)
	}
	if err := e.runs.UpdateConfidence(req.RunID, adj.Adjusted, adj.Modifiers); err != nil {
		log.Error().Err(err).Msg("failed to persist adjusted confidence")
	} else {
		result.AdjustedConfidence = &adj.Adjusted
		result.ConfidenceModifiers = adj.Modifiers
	}

	e.complete(req, parsed, artifact, raw)
	log.Info().Int("confidence", adj.Original).Int("adjusted", adj.Adjusted).Str("recommendation", parsed.Recommendation).Msg("analysis completed")
	return result, nil
}

// runLegacy is the single-shot variant: retrieval context injected into
// the generation prompt, vector-only ingest afterwards, no synthesis
// and no confidence adjustment.
func (e *Engine) runLegacy(ctx context.Context, req Request, log zerolog.Logger) (*runs.AnalysisResult, error) {
	historical := ""
	query := fmt.Sprintf("%s analysis historical patterns", req.Kind)
	if hc, err := e.builder.Build(ctx, req.Ticker, query, req.Kind, ""); err == nil && hc != nil {
		historical = retrieval.FormatMarkdown(hc)
	} else {
		log.Warn().Err(err).Msg("retrieval failed, generating without context")
	}

	raw, artifact, parsed, err := e.phase1(ctx, req, historical)
	if err != nil {
		return nil, e.fail(req, err.Error(), raw, true)
	}

	ingest := e.ingester.IngestVectorOnly(ctx, artifact)
	if len(ingest.Errors) > 0 {
		log.Warn().Strs("errors", ingest.Errors).Msg("ingest degraded")
	}

	result := resultFromParsed(req, parsed, ingest.DocID)
	if err := e.runs.SaveResult(result); err != nil {
		log.Error().Err(err).Msg("failed to persist result")
		return nil, e.fail(req, fmt.Sprintf("persist result: %v", err), raw, true)
	}

	e.complete(req, parsed, artifact, raw)
	log.Info().Int("confidence", parsed.Confidence).Str("recommendation", parsed.Recommendation).Msg("legacy analysis completed")
	return result, nil
}

// phase1 invokes the reasoning engine, writes the artifact, and parses
// the verdict. Any error it returns happened after the call was
// attempted, so the caller finishes the run with CountAnalysis set; a
// timed-out call still consumed a daily slot.
func (e *Engine) phase1(ctx context.Context, req Request, historicalContext string) (raw, artifact string, parsed *reasoning.Parsed, err error) {
	_ = e.runs.SetStage(req.RunID, "phase1")

	timeoutSecs, _ := e.settings.GetInt(settings.KeyReasoningTimeoutSeconds, settings.DefaultReasoningTimeoutSecs)
	prompt := buildPrompt(req.Ticker, req.Kind, historicalContext)
	label := fmt.Sprintf("%s-%s-%d", req.Ticker, req.Kind, req.RunID)

	raw, invokeErr := e.invoker.Invoke(ctx, prompt, e.capabilities, label, time.Duration(timeoutSecs)*time.Second)
	if invokeErr != nil {
		if ctx.Err() == context.Canceled {
			return "", "", nil, fmt.Errorf("canceled")
		}
		return "", "", nil, invokeErr
	}

	stamp := e.clock.Now().Format("20060102T1504")
	artifact = artifactPath(e.analysesDir, req.Ticker, req.Kind, stamp)
	if err := os.WriteFile(artifact, []byte(raw), 0o644); err != nil {
		return raw, "", nil, fmt.Errorf("failed to write artifact: %w", err)
	}

	return raw, artifact, reasoning.Parse(raw), nil
}

// fail finishes the run failed. counted marks failures after the
// reasoning call was attempted; those still consume a daily slot.
func (e *Engine) fail(req Request, reason, raw string, counted bool) error {
	e.finish(req.RunID, runs.Outcome{Status: runs.StatusFailed, Error: reason, RawOutput: raw, CountAnalysis: counted})
	e.bus.Publish(events.TypeRunFailed, map[string]any{"run_id": req.RunID, "ticker": req.Ticker, "error": reason})
	return fmt.Errorf("run %d failed: %s", req.RunID, reason)
}

func (e *Engine) complete(req Request, parsed *reasoning.Parsed, artifact, raw string) {
	e.finish(req.RunID, runs.Outcome{
		Status:           runs.StatusCompleted,
		CountAnalysis:    true,
		GatePassed:       parsed.GatePassed,
		Recommendation:   parsed.Recommendation,
		Confidence:       parsed.Confidence,
		ExpectedValuePct: parsed.ExpectedValuePct,
		ArtifactPath:     artifact,
		RawOutput:        raw,
	})
	e.bus.Publish(events.TypeRunCompleted, map[string]any{
		"run_id": req.RunID, "ticker": req.Ticker,
		"recommendation": parsed.Recommendation, "confidence": parsed.Confidence,
	})
}

func (e *Engine) finish(runID int64, outcome runs.Outcome) {
	if err := e.runs.Finish(runID, outcome); err != nil {
		e.log.Error().Err(err).Int64("run_id", runID).Msg("failed to finish run")
	}
}

func resultFromParsed(req Request, p *reasoning.Parsed, docID string) *runs.AnalysisResult {
	return &runs.AnalysisResult{
		RunID:            req.RunID,
		Ticker:           req.Ticker,
		AnalysisKind:     req.Kind,
		GatePassed:       p.GatePassed,
		Recommendation:   p.Recommendation,
		Confidence:       p.Confidence,
		ExpectedValuePct: p.ExpectedValuePct,
		EntryPrice:       p.EntryPrice,
		StopPrice:        p.StopPrice,
		TargetPrice:      p.TargetPrice,
		PositionSizePct:  p.PositionSizePct,
		TradeStructure:   p.TradeStructure,
		Expiry:           p.Expiry,
		Strikes:          p.Strikes,
		Rationale:        p.Rationale,
		DocID:            docID,
	}
}
