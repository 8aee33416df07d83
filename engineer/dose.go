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

package engineer

import (
	"fmt"
	"math"
	"sort"

	"clindat/table"
)

// DoseFormula names how a drug's recommended dose scales with the patient.
type DoseFormula string

const (
	// DoseFlat means the regimen dose is the recommendation as-is.
	DoseFlat DoseFormula = "regimen_dose"
	// DoseBSA scales the regimen dose by body surface area.
	DoseBSA DoseFormula = "regimen_dose * bsa"
	// DoseWeight scales the regimen dose by body weight.
	DoseWeight DoseFormula = "regimen_dose * weight"
	// DoseCarboplatin uses the Calvert formula with a Cockcroft-Gault
	// creatinine clearance estimate, capped at regimen dose times a GFR of
	// 125 plus 25.
	DoseCarboplatin DoseFormula = "carboplatin"
)

// PercentIdealDose appends %_ideal_dose_given_{drug} columns, the given dose
// divided by the formula's recommended dose. Drugs whose
// drug_{drug}_given_dose column is absent are skipped. The table must carry
// the demographic columns each formula needs (weight, body_surface_area,
// age, female, creatinine).
func PercentIdealDose(t *table.Table, formulas map[string]DoseFormula) error {
	drugs := make([]string, 0, len(formulas))
	for drug := range formulas {
		drugs = append(drugs, drug)
	}
	sort.Strings(drugs)
	for _, drug := range drugs {
		formula := formulas[drug]
		given := t.Col(fmt.Sprintf("drug_%s_given_dose", drug))
		if given == nil {
			continue
		}
		regimen := t.Col(fmt.Sprintf("drug_%s_regimen_dose", drug))
		if regimen == nil {
			return fmt.Errorf("engineer: no regimen dose column for drug %s", drug)
		}
		ideal, err := idealDose(t, regimen, formula)
		if err != nil {
			return err
		}
		pct := table.NewFloatColumn(fmt.Sprintf("%%_ideal_dose_given_%s", drug), t.Len())
		for i := range pct.Floats {
			if given.IsNull(i) || math.IsNaN(ideal[i]) || ideal[i] == 0 {
				continue
			}
			pct.Floats[i] = given.Floats[i] / ideal[i]
		}
		if err := t.AddCol(pct); err != nil {
			return err
		}
	}
	return nil
}

func idealDose(t *table.Table, regimen *table.Column, formula DoseFormula) ([]float64, error) {
	n := t.Len()
	ideal := make([]float64, n)
	switch formula {
	case DoseFlat:
		copy(ideal, regimen.Floats)
	case DoseBSA, DoseWeight:
		name := "body_surface_area"
		if formula == DoseWeight {
			name = "weight"
		}
		scale := t.Col(name)
		if scale == nil || scale.Kind != table.Float {
			return nil, fmt.Errorf("engineer: dose formula %q needs a %s column", formula, name)
		}
		for i := 0; i < n; i++ {
			ideal[i] = regimen.Floats[i] * scale.Floats[i]
		}
	case DoseCarboplatin:
		crcl, err := CreatinineClearance(t)
		if err != nil {
			return nil, err
		}
		for i := 0; i < n; i++ {
			ideal[i] = math.Min(regimen.Floats[i]*150, regimen.Floats[i]*(crcl[i]+25))
		}
	default:
		return nil, fmt.Errorf("engineer: dose formula %q not supported", formula)
	}
	return ideal, nil
}

// CreatinineClearance estimates glomerular filtration per row with the
// Cockcroft-Gault equation for serum creatinine in umol/L. The female column
// is a 0/1 indicator; female rows get the 0.85 correction.
func CreatinineClearance(t *table.Table) ([]float64, error) {
	age := t.Col("age")
	weight := t.Col("weight")
	female := t.Col("female")
	creatinine := t.Col("creatinine")
	for name, c := range map[string]*table.Column{
		"age": age, "weight": weight, "female": female, "creatinine": creatinine,
	} {
		if c == nil || c.Kind != table.Float {
			return nil, fmt.Errorf("engineer: CreatinineClearance needs a float %s column", name)
		}
	}
	crcl := make([]float64, t.Len())
	for i := range crcl {
		sex := 1.0
		if female.Floats[i] == 1 {
			sex = 0.85
		}
		crcl[i] = (140 - age.Floats[i]) * weight.Floats[i] * 1.23 * sex / creatinine.Floats[i]
	}
	return crcl, nil
}
