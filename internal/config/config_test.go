package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/signalsfoundry/capacity-allocator/kb"
	"github.com/signalsfoundry/capacity-allocator/model"
)

const sampleScenario = `
name: two-shift line
resources:
  - id: press
    name: Press
    online:
      - {start: 100, end: 200}
      - {start: 300, end: 400}
storage_areas:
  - id: silo
    max_qty: 100
    disposal_qty: 10
    on_hand:
      - {lot: seed, quantity: 5.5}
  - id: dock
connectors:
  - {id: belt, from: silo, to: dock, limit: 2}
activities:
  - id: op-1
    job_id: job-1
    earliest_start: 100
    duration: 30
    requirements:
      - {resource: press, percent: 50}
    input: {area: silo, lot: seed, quantity: 2}
    output:
      area: silo
      connector: belt
      lot: L1
      quantity: 40
      transfer_ticks: 5
`

func TestParseScenarioFillsKnowledgeBase(t *testing.T) {
	store := kb.NewKnowledgeBase()
	sc, err := ParseScenario(strings.NewReader(sampleScenario), store)
	if err != nil {
		t.Fatalf("ParseScenario: %v", err)
	}
	if sc.Name != "two-shift line" {
		t.Fatalf("Name = %q", sc.Name)
	}

	press := store.GetResource("press")
	if press == nil {
		t.Fatalf("press not added")
	}
	// off, on, off, on, off
	if len(press.Intervals) != 5 {
		t.Fatalf("press has %d intervals, want 5", len(press.Intervals))
	}
	if last := press.Intervals[4]; last.Start != 400 || last.End != model.MaxTicks || last.Online {
		t.Fatalf("trailing interval = %+v", last)
	}

	silo := store.GetStorageArea("silo")
	if silo == nil || !silo.MaxQty.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("silo = %+v", silo)
	}
	if len(silo.OnHand) != 1 || !silo.OnHand[0].Quantity.Equal(decimal.RequireFromString("5.5")) {
		t.Fatalf("silo on hand = %+v", silo.OnHand)
	}
	if dock := store.GetStorageArea("dock"); dock == nil || dock.MaxQty.IsPositive() {
		t.Fatalf("dock should be an unconstrained area")
	}
	if belt := store.GetConnector("belt"); belt == nil || belt.Limit != 2 {
		t.Fatalf("belt = %+v", belt)
	}

	if len(sc.Activities) != 1 {
		t.Fatalf("activities = %d, want 1", len(sc.Activities))
	}
	act := sc.Activities[0]
	if act.Activity.ID != "op-1" || act.Duration != 30 || act.EarliestStart != 100 {
		t.Fatalf("activity = %+v", act)
	}
	if len(act.Requirements) != 1 || act.Requirements[0].ID != "op-1/press" ||
		!act.Requirements[0].AttentionPercent.Equal(decimal.NewFromInt(50)) {
		t.Fatalf("requirements = %+v", act.Requirements)
	}
	if act.Input == nil || act.Input.Area != "silo" || !act.Input.Quantity.Equal(decimal.NewFromInt(2)) {
		t.Fatalf("input = %+v", act.Input)
	}
	if act.Output == nil || act.Output.Connector != "belt" || act.Output.TransferTicks != 5 {
		t.Fatalf("output = %+v", act.Output)
	}
}

func TestParseScenarioRejectsBadInput(t *testing.T) {
	cases := map[string]string{
		"unknown field": "resources:\n  - id: press\n    colour: red\n",
		"overlap": `
resources:
  - id: press
    online:
      - {start: 0, end: 50}
      - {start: 40, end: 60}
`,
		"unknown resource": `
activities:
  - id: op-1
    duration: 5
    requirements:
      - {resource: lathe, percent: 10}
`,
		"percent range": `
resources:
  - id: press
    online: [{start: 0, end: 10}]
activities:
  - id: op-1
    duration: 5
    requirements:
      - {resource: press, percent: 120}
`,
		"zero duration": `
activities:
  - id: op-1
`,
		"connector endpoint": `
connectors:
  - {id: belt, from: silo, to: dock, limit: 1}
`,
	}
	for name, doc := range cases {
		if _, err := ParseScenario(strings.NewReader(doc), kb.NewKnowledgeBase()); err == nil {
			t.Fatalf("%s: expected an error", name)
		}
	}
}

func TestLoadScenarioFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scenario.yaml")
	if err := os.WriteFile(path, []byte(sampleScenario), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := LoadScenario(path, kb.NewKnowledgeBase()); err != nil {
		t.Fatalf("LoadScenario: %v", err)
	}
	if _, err := LoadScenario(filepath.Join(t.TempDir(), "missing.yaml"), kb.NewKnowledgeBase()); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestRuntimeFromEnv(t *testing.T) {
	t.Setenv("ALLOC_DEBUG_VALIDATION", "TRUE")
	t.Setenv("ALLOC_RETRY_STEP", "25")
	rt := RuntimeFromEnv()
	if !rt.DebugValidation || rt.RetryStep != 25 {
		t.Fatalf("RuntimeFromEnv = %+v", rt)
	}

	t.Setenv("ALLOC_DEBUG_VALIDATION", "")
	t.Setenv("ALLOC_RETRY_STEP", "soon")
	rt = RuntimeFromEnv()
	if rt.DebugValidation || rt.RetryStep != DefaultRetryStep {
		t.Fatalf("RuntimeFromEnv defaults = %+v", rt)
	}
}

func TestRuntimeApplyDefaults(t *testing.T) {
	if got := (Runtime{RetryStep: -3}).ApplyDefaults(); got.RetryStep != DefaultRetryStep {
		t.Fatalf("negative retry step not defaulted: %+v", got)
	}
	if got := (Runtime{RetryStep: 7}).ApplyDefaults(); got.RetryStep != 7 {
		t.Fatalf("explicit retry step overwritten: %+v", got)
	}
}
