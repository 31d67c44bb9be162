package cli

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/clustercoder/bubbleOne/internal/core"
	"github.com/clustercoder/bubbleOne/internal/engine"
	"github.com/clustercoder/bubbleOne/internal/normalize"
	"github.com/clustercoder/bubbleOne/internal/planner"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// scoreFixture is an offline scoring scenario.
type scoreFixture struct {
	Alias         string               `yaml:"alias"`
	ContactHash   string               `yaml:"contact_hash"`
	PreviousScore *float64             `yaml:"previous_score"`
	PreviousAt    string               `yaml:"previous_at"`
	AsOf          string               `yaml:"as_of"`
	Multiplier    float64              `yaml:"interaction_multiplier"`
	LambdaDecay   float64              `yaml:"lambda_decay"`
	Recent7d      int                  `yaml:"recent_event_count_7d"`
	Prior7d       int                  `yaml:"prior_event_count_7d"`
	Retrain       bool                 `yaml:"temporal_training_enabled"`
	Events        []normalize.RawEvent `yaml:"events"`
}

var scoreCmd = &cobra.Command{
	Use:   "score <fixture.yaml>",
	Short: "Score a YAML fixture offline with the rule-based planner",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		req, err := parseFixture(data, time.Now().UTC())
		if err != nil {
			return err
		}

		_, log, err := setup()
		if err != nil {
			return err
		}
		out := planner.NewLocal(nil, nil, log).ProcessContact(cmd.Context(), req)
		if err := out.Err(); err != nil {
			return err
		}
		return printJSON(cmd, out.Result)
	},
}

// parseFixture turns fixture YAML into a planner request. Missing times
// default to now.
func parseFixture(data []byte, now time.Time) (planner.Request, error) {
	var f scoreFixture
	if err := yaml.Unmarshal(data, &f); err != nil {
		return planner.Request{}, fmt.Errorf("parse fixture: %w", err)
	}

	hash := strings.TrimSpace(f.ContactHash)
	if hash == "" {
		if strings.TrimSpace(f.Alias) == "" {
			return planner.Request{}, fmt.Errorf("fixture needs alias or contact_hash: %w", core.ErrInvalidInput)
		}
		hash = engine.ContactHash(f.Alias)
	}

	asOf, err := fixtureTime(f.AsOf, now)
	if err != nil {
		return planner.Request{}, err
	}
	events, err := normalize.New().NormalizeBatch(f.Events, hash, asOf)
	if err != nil {
		return planner.Request{}, err
	}

	req := planner.Request{
		ContactHash:   hash,
		Alias:         f.Alias,
		Events:        events,
		PreviousScore: core.DefaultScore,
		Tuning:        core.TuningState{InteractionMultiplier: f.Multiplier, LambdaDecay: f.LambdaDecay},
		Recent7d:      f.Recent7d,
		Prior7d:       f.Prior7d,
		RetrainLambda: f.Retrain,
		AsOf:          asOf,
	}
	if f.PreviousScore != nil {
		req.PreviousScore = *f.PreviousScore
	}
	if f.PreviousAt != "" {
		if req.PreviousAt, err = fixtureTime(f.PreviousAt, now); err != nil {
			return planner.Request{}, err
		}
	}
	return req, nil
}

func fixtureTime(s string, now time.Time) (time.Time, error) {
	if strings.TrimSpace(s) == "" {
		return now, nil
	}
	t, err := time.Parse(time.RFC3339, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("fixture time %q: %w", s, core.ErrInvalidInput)
	}
	return t.UTC(), nil
}
