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

// Package app wires the anchoring, feature engineering, and labeling
// packages into a dataset curation pipeline: it loads the raw extracts,
// builds the reference table, combines every source onto it, and writes the
// unified dataset.
package app

import (
	"os"

	"github.com/sirupsen/logrus"
)

// Log is the pipeline logger. Pipeline stages report row and exclusion
// counts through it so that a curation run leaves an auditable trail.
var Log = logrus.New()

// InitLogger configures Log for command line use.
func InitLogger(verbose bool) {
	Log.SetOutput(os.Stderr)
	Log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})
	if verbose {
		Log.SetLevel(logrus.DebugLevel)
	} else {
		Log.SetLevel(logrus.InfoLevel)
	}
}
