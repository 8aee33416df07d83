// CLINDAT: Clinical Dataset Anchoring Library
// Copyright (c) 2025 the clindat authors.

// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.

// This program is distributed in the hope that it will be useful, but
// WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
// Affero General Public License for more details.

// You should have received a copy of the GNU Affero General Public
// License along with this program. If not, see
// <https://www.gnu.org/licenses/>.

package app

import (
	"fmt"
	"strings"
	"time"

	"clindat/anchor"
	"clindat/engineer"
	"clindat/label"
	"clindat/table"
)

// Inputs holds the paths of the raw extracts. LastSeen and IncludedDrugs are
// optional; without a last seen extract the dates are derived from the other
// sources, and without a drug list the dosage features are kept raw.
type Inputs struct {
	Treatment     string
	Demographic   string
	Lab           string
	Symptom       string
	Event         string
	LastSeen      string
	IncludedDrugs string
}

// Options holds the run parameters that come from the command line rather
// than the config file.
type Options struct {
	// AlignOn selects the reference table, see BuildReference.
	AlignOn string
	// DateCol is the reference date column name.
	DateCol string
	// Threads bounds the worker count; 0 means one per logical CPU.
	Threads int
	// Filters are applied to the reference table before combining.
	Filters []NamedFilter
}

// Run executes the full curation pipeline and returns the unified dataset,
// one row per reference row that survived the exclusion rules, sorted by
// (mrn, date).
func Run(in Inputs, opts Options, cfg *Config) (*table.Table, error) {
	trt, err := LoadTable(in.Treatment, "treatment_date")
	if err != nil {
		return nil, err
	}
	dmg, err := LoadTable(in.Demographic, "")
	if err != nil {
		return nil, err
	}
	lab, err := LoadTable(in.Lab, "obs_date")
	if err != nil {
		return nil, err
	}
	sym, err := LoadTable(in.Symptom, "survey_date")
	if err != nil {
		return nil, err
	}
	erv, err := LoadTable(in.Event, "event_date")
	if err != nil {
		return nil, err
	}

	// several treatment sessions on one day merge into a single session with
	// the dosages summed, several measurements of a lab are averaged, several
	// symptom surveys keep the worst score, and several events collapse to one
	trt, err = trt.CollapseSameDayBy(func(col string) table.CollapsePolicy {
		if strings.HasPrefix(col, "drug_") {
			return table.CollapseSum
		}
		return table.CollapseLast
	})
	if err != nil {
		return nil, err
	}
	lab, err = lab.CollapseSameDay(table.CollapseMean)
	if err != nil {
		return nil, err
	}
	sym, err = sym.CollapseSameDay(table.CollapseMax)
	if err != nil {
		return nil, err
	}
	erv, err = erv.CollapseSameDay(table.CollapseConcat)
	if err != nil {
		return nil, err
	}

	lastSeen, err := loadOrDeriveLastSeen(in, trt, dmg, lab, sym)
	if err != nil {
		return nil, err
	}

	main, err := BuildReference(opts.AlignOn, opts.DateCol, trt, dmg, cfg)
	if err != nil {
		return nil, err
	}
	main = ApplyFilters(main, opts.Filters)
	if main.Len() == 0 {
		return nil, fmt.Errorf("app: no reference rows left after filtering")
	}
	if err := AttachLastSeen(main, lastSeen); err != nil {
		return nil, err
	}

	// demographic exclusions change the row count, so they run before the
	// cardinality preserving stages
	main, err = CombineDemographic(main, dmg)
	if err != nil {
		return nil, err
	}

	mode := engineer.TreatmentAnchored
	if opts.AlignOn != AlignTreatmentDates {
		mode = engineer.ExternalAnchored
	}
	var formulas map[string]engineer.DoseFormula
	if in.IncludedDrugs != "" {
		formulas, err = LoadIncludedDrugs(in.IncludedDrugs)
		if err != nil {
			return nil, err
		}
	}
	consts := label.DefaultCTCAEConstants()
	for event, uln := range cfg.ULNOverrides {
		cc, ok := consts[event]
		if !ok {
			return nil, fmt.Errorf("app: uln_overrides: unknown adverse event %q", event)
		}
		cc.ULN = uln
		consts[event] = cc
	}
	scoring := make(map[string]int, len(cfg.SymptomCols))
	for _, s := range cfg.SymptomCols {
		scoring[s] = cfg.SymptomPointChange
	}

	main, err = anchor.ParallelApply(main, opts.Threads, func(part *table.Table) (*table.Table, error) {
		return combinePartition(part, trt, lab, sym, erv, partitionDeps{
			mode:     mode,
			formulas: formulas,
			consts:   consts,
			scoring:  scoring,
			cfg:      cfg,
		})
	})
	if err != nil {
		return nil, err
	}

	Log.WithFields(map[string]interface{}{
		"rows": main.Len(), "cols": len(main.Cols), "patients": len(main.MRNSet()),
	}).Info("curated dataset")
	return main, nil
}

type partitionDeps struct {
	mode     engineer.AnchorMode
	formulas map[string]engineer.DoseFormula
	consts   map[string]label.CTCAEConstants
	scoring  map[string]int
	cfg      *Config
}

// combinePartition runs the cardinality preserving stages on one patient
// disjoint partition of the reference table.
func combinePartition(part, trt, lab, sym, erv *table.Table, deps partitionDeps) (*table.Table, error) {
	cfg := deps.cfg
	var err error

	if deps.mode == engineer.ExternalAnchored {
		part, err = CombineTreatment(part, trt, cfg.TreatmentLookback.Window())
		if err != nil {
			return nil, err
		}
	}
	part, err = CombineMeasurements(part, sym, cfg.SymptomLookback.Window())
	if err != nil {
		return nil, err
	}
	part, err = CombineMeasurements(part, lab, cfg.LabLookback.Window())
	if err != nil {
		return nil, err
	}
	part, err = CombineEvent(part, erv, "ED_visit", cfg.EDVisitLookbackYears)
	if err != nil {
		return nil, err
	}
	if deps.formulas != nil {
		if err := CombinePercentIdealDose(part, deps.formulas); err != nil {
			return nil, err
		}
	}
	if err := AddEngineeredFeatures(part, deps.mode, cfg); err != nil {
		return nil, err
	}

	if err := label.Death(part, cfg.DeathHorizons); err != nil {
		return nil, err
	}
	part, err = label.AcuteCare(part, erv, label.AcuteOpts{
		EventName: "ED",
		Horizons:  []int{cfg.LabelLookaheadDays},
	})
	if err != nil {
		return nil, err
	}
	part, err = label.Symptom(part, sym, cfg.LabelLookaheadDays, deps.scoring)
	if err != nil {
		return nil, err
	}
	part, err = label.CTCAE(part, lab, cfg.LabelLookaheadDays, deps.consts)
	if err != nil {
		return nil, err
	}
	return part, nil
}

func loadOrDeriveLastSeen(in Inputs, trt, dmg, lab, sym *table.Table) (map[string]time.Time, error) {
	if in.LastSeen != "" {
		return LoadLastSeen(in.LastSeen)
	}
	Log.Info("no last seen extract given, deriving from sources")
	return DeriveLastSeen(
		LastSeenSource{Table: trt},
		LastSeenSource{Table: lab},
		LastSeenSource{Table: sym},
		LastSeenSource{Table: dmg, Column: "last_contact_date"},
	), nil
}
