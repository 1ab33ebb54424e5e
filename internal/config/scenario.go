package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/signalsfoundry/capacity-allocator/kb"
	"github.com/signalsfoundry/capacity-allocator/model"
)

// Scenario is what the driver needs beyond the static definitions stored in
// the knowledge base.
type Scenario struct {
	Name         string
	ResourceIDs  []string
	AreaIDs      []string
	ConnectorIDs []string
	Activities   []ActivitySpec
}

// ActivitySpec is one activity the driver tries to place.
type ActivitySpec struct {
	Activity      model.Activity
	EarliestStart model.Ticks
	Duration      model.Ticks
	Requirements  []model.Requirement
	Input         *InputSpec
	Output        *OutputSpec
}

// InputSpec is material an activity draws from a storage area at its start.
type InputSpec struct {
	Area     string
	Lot      string
	Quantity decimal.Decimal
}

// OutputSpec is material an activity produces into a storage area at its
// end, optionally moved through a connector.
type OutputSpec struct {
	Area          string
	Connector     string
	Lot           string
	Quantity      decimal.Decimal
	MustBeEmpty   bool
	TransferTicks model.Ticks
}

// internal YAML shapes, unexported so the file format can evolve.
type scenarioYAML struct {
	Name         string            `yaml:"name"`
	Resources    []resourceYAML    `yaml:"resources"`
	StorageAreas []storageAreaYAML `yaml:"storage_areas"`
	Connectors   []connectorYAML   `yaml:"connectors"`
	Activities   []activityYAML    `yaml:"activities"`
}

type windowYAML struct {
	Start int64 `yaml:"start"`
	End   int64 `yaml:"end"`
}

type resourceYAML struct {
	ID     string       `yaml:"id"`
	Name   string       `yaml:"name"`
	Online []windowYAML `yaml:"online"`
}

type lotYAML struct {
	Lot       string  `yaml:"lot"`
	Quantity  float64 `yaml:"quantity"`
	Available int64   `yaml:"available"`
}

type storageAreaYAML struct {
	ID          string    `yaml:"id"`
	Name        string    `yaml:"name"`
	MaxQty      float64   `yaml:"max_qty"`
	DisposalQty float64   `yaml:"disposal_qty"`
	OnHand      []lotYAML `yaml:"on_hand"`
}

type connectorYAML struct {
	ID    string `yaml:"id"`
	From  string `yaml:"from"`
	To    string `yaml:"to"`
	Limit int    `yaml:"limit"`
}

type requirementYAML struct {
	Resource string  `yaml:"resource"`
	Percent  float64 `yaml:"percent"`
}

type outputYAML struct {
	Area          string  `yaml:"area"`
	Connector     string  `yaml:"connector"`
	Lot           string  `yaml:"lot"`
	Quantity      float64 `yaml:"quantity"`
	MustBeEmpty   bool    `yaml:"must_be_empty"`
	TransferTicks int64   `yaml:"transfer_ticks"`
}

type inputYAML struct {
	Area     string  `yaml:"area"`
	Lot      string  `yaml:"lot"`
	Quantity float64 `yaml:"quantity"`
}

type activityYAML struct {
	ID            string            `yaml:"id"`
	JobID         string            `yaml:"job_id"`
	EarliestStart int64             `yaml:"earliest_start"`
	Duration      int64             `yaml:"duration"`
	Requirements  []requirementYAML `yaml:"requirements"`
	Input         *inputYAML        `yaml:"input"`
	Output        *outputYAML       `yaml:"output"`
}

// LoadScenario reads the YAML scenario at path into store.
func LoadScenario(path string, store *kb.KnowledgeBase) (*Scenario, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	sc, err := ParseScenario(bytes.NewReader(raw), store)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return sc, nil
}

// ParseScenario decodes a YAML scenario from r, adds its resources, storage
// areas and connectors to store, and returns the activities to place.
// Offline gaps between a resource's online windows are synthesized.
func ParseScenario(r io.Reader, store *kb.KnowledgeBase) (*Scenario, error) {
	if store == nil {
		return nil, errors.New("ParseScenario: kb is nil")
	}
	var payload scenarioYAML
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode scenario: %w", err)
	}

	sc := &Scenario{Name: payload.Name}

	for _, res := range payload.Resources {
		windows := make([]model.Window, 0, len(res.Online))
		for _, w := range res.Online {
			windows = append(windows, model.Window{Start: model.Ticks(w.Start), End: model.Ticks(w.End)})
		}
		intervals, err := model.BuildCalendar(res.ID, windows)
		if err != nil {
			return nil, fmt.Errorf("resource %q: %w", res.ID, err)
		}
		if err := store.AddResource(&model.ResourceDefinition{ID: res.ID, Name: res.Name, Intervals: intervals}); err != nil {
			return nil, err
		}
		sc.ResourceIDs = append(sc.ResourceIDs, res.ID)
	}

	for _, a := range payload.StorageAreas {
		def := &model.StorageAreaDefinition{
			ID:          a.ID,
			Name:        a.Name,
			MaxQty:      decimal.NewFromFloat(a.MaxQty),
			DisposalQty: decimal.NewFromFloat(a.DisposalQty),
		}
		for _, lot := range a.OnHand {
			def.OnHand = append(def.OnHand, model.OnHandLot{
				Lot:       lot.Lot,
				Quantity:  decimal.NewFromFloat(lot.Quantity),
				Available: model.Ticks(lot.Available),
			})
		}
		if err := store.AddStorageArea(def); err != nil {
			return nil, err
		}
		sc.AreaIDs = append(sc.AreaIDs, a.ID)
	}

	for _, c := range payload.Connectors {
		if err := store.AddConnector(&model.ConnectorDefinition{ID: c.ID, FromArea: c.From, ToArea: c.To, Limit: c.Limit}); err != nil {
			return nil, err
		}
		sc.ConnectorIDs = append(sc.ConnectorIDs, c.ID)
	}

	for _, a := range payload.Activities {
		spec, err := activityFromYAML(a, store)
		if err != nil {
			return nil, err
		}
		sc.Activities = append(sc.Activities, spec)
	}
	return sc, nil
}

func activityFromYAML(a activityYAML, store *kb.KnowledgeBase) (ActivitySpec, error) {
	if a.ID == "" {
		return ActivitySpec{}, errors.New("activity requires an ID")
	}
	if a.Duration <= 0 {
		return ActivitySpec{}, fmt.Errorf("activity %q: duration must be positive", a.ID)
	}
	spec := ActivitySpec{
		Activity:      model.Activity{ID: a.ID, JobID: a.JobID},
		EarliestStart: model.Ticks(a.EarliestStart),
		Duration:      model.Ticks(a.Duration),
	}
	for _, r := range a.Requirements {
		if store.GetResource(r.Resource) == nil {
			return ActivitySpec{}, fmt.Errorf("activity %q: resource %q not found", a.ID, r.Resource)
		}
		if r.Percent < 0 || r.Percent > 100 {
			return ActivitySpec{}, fmt.Errorf("activity %q: percent %v outside [0,100]", a.ID, r.Percent)
		}
		spec.Requirements = append(spec.Requirements, model.Requirement{
			ID:               a.ID + "/" + r.Resource,
			ResourceID:       r.Resource,
			AttentionPercent: decimal.NewFromFloat(r.Percent),
		})
	}
	if in := a.Input; in != nil {
		if store.GetStorageArea(in.Area) == nil {
			return ActivitySpec{}, fmt.Errorf("activity %q: storage area %q not found", a.ID, in.Area)
		}
		spec.Input = &InputSpec{Area: in.Area, Lot: in.Lot, Quantity: decimal.NewFromFloat(in.Quantity)}
	}
	if out := a.Output; out != nil {
		if store.GetStorageArea(out.Area) == nil {
			return ActivitySpec{}, fmt.Errorf("activity %q: storage area %q not found", a.ID, out.Area)
		}
		if out.Connector != "" && store.GetConnector(out.Connector) == nil {
			return ActivitySpec{}, fmt.Errorf("activity %q: connector %q not found", a.ID, out.Connector)
		}
		spec.Output = &OutputSpec{
			Area:          out.Area,
			Connector:     out.Connector,
			Lot:           out.Lot,
			Quantity:      decimal.NewFromFloat(out.Quantity),
			MustBeEmpty:   out.MustBeEmpty,
			TransferTicks: model.Ticks(out.TransferTicks),
		}
	}
	return spec, nil
}
