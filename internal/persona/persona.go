// Package persona defines the configuration records behind each scorer
// identity. Identities are a closed enumeration; behavior differences are
// data (weight, temperature, prompt stance), not subtypes.
package persona

import (
	"fmt"

	"tribunal/internal/schema"
)

// Config describes how one scorer identity is run and weighed.
type Config struct {
	Identity schema.ScorerIdentity
	// Weight is this identity's coefficient in the synthesis weighted mean.
	Weight float64
	// Temperature passed to the model provider for this identity.
	Temperature float64
	// Stance is appended to the system prompt and fixes the viewpoint.
	Stance string
	// CollapseAddendum is appended instead of Stance alone when the scorer
	// is re-run after a persona-collapse detection; it strengthens the
	// adversarial framing so the retry cannot echo its sibling.
	CollapseAddendum string
}

// Fallback is the identity used for the solo re-run when every panel scorer
// for a criterion is absent.
const Fallback = schema.ScorerPragmatic

// builtins maps each identity to its fixed configuration. Weights: the
// adversarial viewpoint deliberately outweighs the sympathetic one, and
// pragmatic stays neutral because it doubles as the solo fallback.
var builtins = map[schema.ScorerIdentity]Config{
	schema.ScorerAdversarial: {
		Identity:    schema.ScorerAdversarial,
		Weight:      1.2,
		Temperature: 0.3,
		Stance: "You are the adversarial reviewer. Assume the repository was assembled without " +
			"understanding. Demand verifiable evidence for every claim; a finding you cannot tie to " +
			"a cited evidence item does not exist. When evidence is missing or ambiguous, score low.",
		CollapseAddendum: "Your previous opinion was indistinguishable from another reviewer's. That is a " +
			"failure of your role. Re-examine the evidence for weaknesses the other reviewers excused, " +
			"cite different evidence items where possible, and argue the strongest case AGAINST a high score.",
	},
	schema.ScorerSympathetic: {
		Identity:    schema.ScorerSympathetic,
		Weight:      0.8,
		Temperature: 0.5,
		Stance: "You are the sympathetic reviewer. Look for evidence of genuine effort and iteration: " +
			"progressive commits, documented intent, reasonable structure. Give the benefit of the doubt " +
			"where the evidence is consistent with competence, but cite the evidence that earned it.",
		CollapseAddendum: "Your previous opinion was indistinguishable from another reviewer's. Re-read the " +
			"evidence for redeeming qualities the other reviewers overlooked and make the strongest " +
			"reasonable case FOR the work, citing the specific items that support it.",
	},
	schema.ScorerPragmatic: {
		Identity:    schema.ScorerPragmatic,
		Weight:      1.0,
		Temperature: 0.2,
		Stance: "You are the pragmatic reviewer, a tech lead deciding whether this ships. Weigh the " +
			"evidence on engineering merit alone: does it work, is it maintainable, would a competent " +
			"engineer sign off. No charity, no prosecution.",
		CollapseAddendum: "Your previous opinion was indistinguishable from another reviewer's. Re-evaluate " +
			"strictly on shipping criteria and state the concrete engineering facts that drive your score.",
	},
}

// Get returns the configuration for a scorer identity.
func Get(id schema.ScorerIdentity) (Config, error) {
	cfg, ok := builtins[id]
	if !ok {
		return Config{}, fmt.Errorf("persona: unknown scorer identity %q", id)
	}
	return cfg, nil
}

// All returns configurations for every identity in dispatch order.
func All() []Config {
	out := make([]Config, 0, len(builtins))
	for _, id := range schema.AllScorerIdentities {
		out = append(out, builtins[id])
	}
	return out
}

// Weights returns the identity→weight map used by the synthesis engine.
func Weights() map[schema.ScorerIdentity]float64 {
	w := make(map[schema.ScorerIdentity]float64, len(builtins))
	for id, cfg := range builtins {
		w[id] = cfg.Weight
	}
	return w
}
