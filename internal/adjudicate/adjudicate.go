// Package adjudicate runs the scorer panel for one criterion: three biased
// personas score concurrently, malformed output is retried with the
// validation errors fed back, unavailable scorers are marked absent, and a
// collapsed panel is re-run with strengthened framing. The quorum rule is
// strict: synthesis starts only once every scorer is present or absent.
package adjudicate

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"tribunal/internal/llm"
	"tribunal/internal/persona"
	"tribunal/internal/rubric"
	"tribunal/internal/schema"
	"tribunal/internal/state"
)

// maxParseRetries bounds repair attempts after a malformed response. The
// initial call does not count against the budget.
const maxParseRetries = 3

// Decision is the panel's complete output for one criterion.
type Decision struct {
	CriterionID string
	// Opinions holds every accepted opinion, frozen.
	Opinions *state.OpinionSet
	// Absent records scorers that produced no usable opinion and why.
	Absent map[schema.ScorerIdentity]schema.FailureKind
	// PersonaCollapse is set when two scorers returned indistinguishable
	// opinions, whether or not the strengthened retry fixed it.
	PersonaCollapse bool
	// FallbackUsed is set when the whole panel was absent and the solo
	// pragmatic re-run produced the only opinion.
	FallbackUsed bool
	// Unscored is set when even the fallback failed.
	Unscored bool
}

// Panel scores criteria against evidence using one provider.
type Panel struct {
	provider  llm.Provider
	maxTokens int
	log       *zap.Logger
}

// New builds a panel. A nil logger disables logging.
func New(provider llm.Provider, maxTokens int, log *zap.Logger) *Panel {
	if log == nil {
		log = zap.NewNop()
	}
	return &Panel{provider: provider, maxTokens: maxTokens, log: log.Named("adjudicate")}
}

// Adjudicate runs the full panel for one criterion. The returned Decision
// always satisfies quorum: every identity is either in Opinions or in Absent.
func (p *Panel) Adjudicate(ctx context.Context, c rubric.Criterion, evidence []schema.EvidenceItem) (*Decision, error) {
	shown := make(map[string]bool, len(evidence))
	for _, item := range evidence {
		shown[item.ID] = true
	}
	userPrompt := llm.BuildUserPrompt(c, evidence)

	d := &Decision{
		CriterionID: c.ID,
		Opinions:    state.NewOpinionSet(c.ID),
		Absent:      map[schema.ScorerIdentity]schema.FailureKind{},
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for _, cfg := range persona.All() {
		cfg := cfg
		g.Go(func() error {
			op, kind := p.runScorer(gctx, cfg, c.ID, userPrompt, shown, false)
			mu.Lock()
			defer mu.Unlock()
			if op == nil {
				d.Absent[cfg.Identity] = kind
				return nil
			}
			return d.Opinions.Put(*op)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("adjudicate: panel for %s: %w", c.ID, err)
	}

	p.resolveCollapse(ctx, c.ID, userPrompt, shown, d)

	if d.Opinions.Len() == 0 {
		p.log.Warn("entire panel absent, running solo fallback",
			zap.String("criterion", c.ID))
		cfg, err := persona.Get(persona.Fallback)
		if err != nil {
			return nil, fmt.Errorf("adjudicate: fallback persona: %w", err)
		}
		op, _ := p.runScorer(ctx, cfg, c.ID, userPrompt, shown, false)
		if op == nil {
			d.Unscored = true
		} else {
			d.FallbackUsed = true
			delete(d.Absent, cfg.Identity)
			if err := d.Opinions.Put(*op); err != nil {
				return nil, fmt.Errorf("adjudicate: fallback opinion: %w", err)
			}
		}
	}

	d.Opinions.Freeze()
	return d, nil
}

// runScorer produces one opinion for one persona, retrying malformed output
// with the validation errors fed back. Provider faults are not retried: the
// scorer is absent with the classified failure kind.
func (p *Panel) runScorer(
	ctx context.Context,
	cfg persona.Config,
	criterionID, userPrompt string,
	shown map[string]bool,
	strengthened bool,
) (*schema.Opinion, schema.FailureKind) {
	systemPrompt := llm.BuildSystemPrompt(cfg, strengthened)
	prompt := userPrompt

	for attempt := 0; ; attempt++ {
		raw, err := p.provider.Complete(ctx, systemPrompt, prompt, p.maxTokens, cfg.Temperature)
		if err != nil {
			kind := llm.Classify(err)
			p.log.Warn("scorer unavailable",
				zap.String("criterion", criterionID),
				zap.String("scorer", string(cfg.Identity)),
				zap.String("kind", string(kind)),
				zap.Error(err))
			return nil, kind
		}

		op, verrs := llm.ParseOpinion(raw, criterionID, cfg.Identity, shown)
		if op != nil {
			for _, ve := range verrs {
				p.log.Debug("opinion adjusted",
					zap.String("criterion", criterionID),
					zap.String("scorer", string(cfg.Identity)),
					zap.String("issue", ve.Error()))
			}
			return op, ""
		}

		if attempt >= maxParseRetries || ctx.Err() != nil {
			p.log.Warn("scorer output unusable after retries",
				zap.String("criterion", criterionID),
				zap.String("scorer", string(cfg.Identity)),
				zap.Int("attempts", attempt+1))
			return nil, schema.FailParse
		}
		prompt = llm.BuildRepairPrompt(userPrompt, raw, verrs)
	}
}

// resolveCollapse scans present opinions for collapsed pairs and re-runs the
// later scorer once with strengthened framing. The original opinion stands
// when the retry fails; the collapse flag is recorded either way.
func (p *Panel) resolveCollapse(ctx context.Context, criterionID, userPrompt string, shown map[string]bool, d *Decision) {
	first := map[schema.ScorerIdentity]bool{}
	retried := map[schema.ScorerIdentity]bool{}

	for _, id := range schema.AllScorerIdentities {
		a, ok := d.Opinions.Get(id)
		if !ok {
			continue
		}
		for _, other := range schema.AllScorerIdentities {
			if other == id {
				break // only compare against earlier identities
			}
			b, ok := d.Opinions.Get(other)
			if !ok || !collapsed(a, b) {
				continue
			}
			d.PersonaCollapse = true
			first[other] = true
			if retried[id] || first[id] {
				continue
			}
			retried[id] = true

			p.log.Warn("persona collapse detected, strengthening retry",
				zap.String("criterion", criterionID),
				zap.String("scorer", string(id)),
				zap.String("matched", string(other)))
			cfg, err := persona.Get(id)
			if err != nil {
				continue
			}
			if op, _ := p.runScorer(ctx, cfg, criterionID, userPrompt, shown, true); op != nil {
				if err := d.Opinions.Put(*op); err != nil {
					p.log.Warn("collapse retry rejected", zap.Error(err))
				}
			}
		}
	}
}
