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

package label

import (
	"fmt"
	"sort"

	"clindat/anchor"
	"clindat/table"
)

// SymptomScaleMax is the top of the ESAS symptom score scale.
const SymptomScaleMax = 10

// Symptom labels symptom deterioration over a lookahead window. scoring maps
// each symptom column to the score increase that counts as deterioration
// (typically 3 points on the 0 to 10 ESAS scale). For every main row the
// worst score in (reference date, reference date + lookaheadDays] is
// compared against the row's own baseline score, yielding a
// target_{symptom}_{pt}pt_change column per symptom. The label is -1 when
// either side of the comparison is missing, and also when the baseline is
// already too high for the required increase to be expressible on the scale.
func Symptom(main, symp *table.Table, lookaheadDays int, scoring map[string]int) (*table.Table, error) {
	if lookaheadDays < 1 {
		return nil, fmt.Errorf("label: Symptom lookahead of %d days", lookaheadDays)
	}
	if len(scoring) == 0 {
		return nil, fmt.Errorf("label: Symptom requires a scoring map")
	}
	worst, err := anchor.Aggregate(main, symp, anchor.AggOpts{
		Stats:  []anchor.Stat{anchor.Max},
		Window: anchor.Window{Lower: 1, Upper: lookaheadDays},
	})
	if err != nil {
		return nil, err
	}

	result := main.Clone()
	symptoms := make([]string, 0, len(scoring))
	for s := range scoring {
		symptoms = append(symptoms, s)
	}
	sort.Strings(symptoms)
	for _, s := range symptoms {
		pt := scoring[s]
		lookahead := worst.Col(s + "_MAX")
		baseline := main.Col(s)
		if lookahead == nil || baseline == nil {
			continue
		}
		lookahead.Name = fmt.Sprintf("target_%s_max", s)
		target := table.NewFloatColumn(fmt.Sprintf("target_%s_%dpt_change", s, pt), main.Len())
		for i := range target.Floats {
			switch {
			case lookahead.IsNull(i) || baseline.IsNull(i):
				target.Floats[i] = Excluded
			case baseline.Floats[i] > float64(SymptomScaleMax-pt):
				// deterioration by pt points cannot be observed from here
				target.Floats[i] = Excluded
			default:
				target.Floats[i] = asLabel(lookahead.Floats[i]-baseline.Floats[i] >= float64(pt))
			}
		}
		if err := result.AddCol(target); err != nil {
			return nil, err
		}
		if err := result.AddCol(lookahead); err != nil {
			return nil, err
		}
	}
	return result, nil
}
