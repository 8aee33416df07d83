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
	"sort"

	"github.com/valyala/fastrand"

	"clindat/table"
)

// TrainTestSplit splits a dataset at the patient level: every row of a
// patient lands in the same half, so no patient leaks across the split. The
// split is deterministic for a given seed. testFraction is the fraction of
// patients, not rows, assigned to the test half.
func TrainTestSplit(df *table.Table, testFraction float64, seed uint32) (train, test *table.Table, err error) {
	if testFraction <= 0 || testFraction >= 1 {
		return nil, nil, fmt.Errorf("app: test fraction must be in (0, 1), got %v", testFraction)
	}
	mrns := make([]string, 0, len(df.MRNs))
	for mrn := range df.MRNSet() {
		mrns = append(mrns, mrn)
	}
	sort.Strings(mrns)

	var rng fastrand.RNG
	rng.Seed(seed)
	for i := len(mrns) - 1; i > 0; i-- {
		j := int(rng.Uint32n(uint32(i + 1)))
		mrns[i], mrns[j] = mrns[j], mrns[i]
	}

	nTest := int(float64(len(mrns)) * testFraction)
	inTest := make(map[string]bool, nTest)
	for _, mrn := range mrns[:nTest] {
		inTest[mrn] = true
	}

	train = df.FilterRows(func(i int) bool { return !inTest[df.MRNs[i]] })
	test = df.FilterRows(func(i int) bool { return inTest[df.MRNs[i]] })
	Log.WithFields(map[string]interface{}{
		"train_rows": train.Len(), "test_rows": test.Len(),
		"train_patients": len(mrns) - nTest, "test_patients": nTest,
	}).Info("split dataset")
	return train, test, nil
}
