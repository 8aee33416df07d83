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

package main

import (
	"flag"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/araddon/dateparse"

	"clindat/app"
	"clindat/utils"
)

/*
Clindat curates longitudinal clinical datasets: it anchors raw treatment,
demographic, lab, symptom, and event extracts on a shared set of reference
dates and derives per-visit features and prediction labels.

Usage:
	clindat treatmentFile demographicFile labFile symptomFile eventFile outputPath [flags]

Example:
	clindat treatment.csv demographic.csv lab.csv symptom.csv ed_visits.csv ./out/
	--align-on treatment-dates --config config.yaml --included-drugs drugs.csv
	--output-format sqlite --split 0.2 --seed 42 --nrOfThreads 8

The flags are:

--align-on treatment-dates | weekly-mondays | file.csv
	Selects the reference dates the features are aligned on. treatment-dates
	anchors one row per treatment session. weekly-mondays anchors every
	patient on every Monday in the configured date range. Any other value is
	read as a CSV file with mrn and date columns.
--date-column name
	The name of the reference date column. Must not collide with a source
	date column unless aligning on treatment dates.
--config file
	A YAML file with the lookback windows, label horizons, and threshold
	overrides. Missing entries keep their defaults.
--last-seen file
	A CSV file with mrn and last_seen_date columns. Without it the last seen
	dates are derived from the sources themselves.
--included-drugs file
	A CSV file listing drug names and their recommended dose formulas. When
	given, raw dosage columns are converted to percent of ideal dose
	features.
--cohort file
	A CSV file with an mrn column. Restricts the run to the listed patients.
--start-date date, --end-date date
	Restrict the reference rows to a date range. Either side may be omitted.
--pfilters palliative | curative
	A list of treatment intent filters applied to the reference rows.
--output-name name
	The base name of the output files, without extension.
--output-format csv | sqlite
	The output format.
--split fraction
	When nonzero, additionally writes a patient level train/test split with
	the given test fraction.
--seed nr
	The seed for the train/test split shuffle.
--nrOfThreads nr
	The number of threads clindat uses.
--verbose
	Enables debug logging.
*/

const (
	programVersion = 0.1
	programName    = "clindat"
)

func programMessage() string {
	return fmt.Sprint(programName, " version ", programVersion, " compiled with ", runtime.Version())
}

const clindatHelp = "\nclindat parameters:\n" +
	"clindat treatmentFile demographicFile labFile symptomFile eventFile outputPath\n" +
	"[--align-on treatment-dates | weekly-mondays | file.csv]\n" +
	"[--date-column name]\n" +
	"[--config file]\n" +
	"[--last-seen file]\n" +
	"[--included-drugs file]\n" +
	"[--cohort file]\n" +
	"[--start-date date]\n" +
	"[--end-date date]\n" +
	"[--pfilters palliative | curative]\n" +
	"[--output-name name]\n" +
	"[--output-format csv | sqlite]\n" +
	"[--split fraction]\n" +
	"[--seed nr]\n" +
	"[--nrOfThreads nr]\n" +
	"[--verbose]\n"

func parseFlags(flags flag.FlagSet, requiredArgs int, help string) {
	if len(os.Args) < requiredArgs {
		fmt.Fprintln(os.Stderr, "Incorrect number of parameters.")
		fmt.Fprint(os.Stderr, help)
		os.Exit(1)
	}
	flags.SetOutput(ioutil.Discard)
	if err := flags.Parse(os.Args[requiredArgs:]); err != nil {
		x := 0
		if err != flag.ErrHelp {
			fmt.Fprint(os.Stderr, err)
		}
		fmt.Fprint(os.Stderr, help)
		os.Exit(x)
	}
	if flags.NArg() > 0 {
		fmt.Fprint(os.Stderr, "Cannot parse remaining parameters:", flags.Args())
		fmt.Fprint(os.Stderr, help)
		os.Exit(1)
	}
}

func getFileName(s, help string) string {
	switch s {
	case "-h", "--h", "-help", "--help":
		fmt.Fprint(os.Stderr, help)
		os.Exit(1)
	}
	return s
}

func getDate(s, name string) time.Time {
	if s == "" {
		return time.Time{}
	}
	d, err := dateparse.ParseAny(s)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Cannot parse --%s %s: %v\n", name, s, err)
		os.Exit(1)
	}
	return utils.Day(d)
}

func getIntentFilters(f string) []app.NamedFilter {
	if f == "" {
		return nil
	}
	var intents []string
	for _, s := range strings.Split(f, ",") {
		switch s {
		case "palliative":
			intents = append(intents, "PALLIATIVE")
		case "curative":
			intents = append(intents, "CURATIVE", "ADJUVANT", "NEOADJUVANT")
		default:
			fmt.Fprintf(os.Stderr, "Unknown pfilter %s\n", s)
			os.Exit(1)
		}
	}
	return []app.NamedFilter{{
		Name:   fmt.Sprintf("treatment intent not in %v", intents),
		Filter: app.IntentFilter(intents...),
	}}
}

func getCohortFilter(path string) []app.NamedFilter {
	if path == "" {
		return nil
	}
	cohortTable, err := app.LoadTable(path, "")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Cannot load cohort file %s: %v\n", path, err)
		os.Exit(1)
	}
	return []app.NamedFilter{{
		Name:   "not in cohort list",
		Filter: app.PatientFilter(cohortTable.MRNSet()),
	}}
}

func main() {
	var (
		// required parameters
		treatmentFile   string //The file with treatment sessions (dates, regimen, intent, dosages)
		demographicFile string //The file with per-patient demographics (birth date, sex, diagnoses)
		labFile         string //The file with lab test results
		symptomFile     string //The file with symptom survey scores
		eventFile       string //The file with acute care events (ED visits)
		outputPath      string //The path where output files are written.
		// optional flags
		alignOn       string
		dateColumn    string
		configFile    string
		lastSeenFile  string
		includedDrugs string
		cohortFile    string
		startDate     string
		endDate       string
		pfilters      string
		outputName    string
		outputFormat  string
		split         float64
		seed          int
		nrOfThreads   int
		verbose       bool
	)
	var flags flag.FlagSet
	// options for the clindat command
	flags.StringVar(&alignOn, "align-on", app.AlignTreatmentDates, "The events/dates the features are "+
		"aligned on: treatment-dates, weekly-mondays, or a CSV file with reference dates.")
	flags.StringVar(&dateColumn, "date-column", "treatment_date", "The name of the reference date "+
		"column in the main data.")
	flags.StringVar(&configFile, "config", "", "A YAML config file with lookback windows and label "+
		"horizons.")
	flags.StringVar(&lastSeenFile, "last-seen", "", "A CSV file with precomputed last seen dates per "+
		"patient.")
	flags.StringVar(&includedDrugs, "included-drugs", "", "A CSV file mapping drugs to their "+
		"recommended dose formulas.")
	flags.StringVar(&cohortFile, "cohort", "", "A CSV file with the mrns of the patients to include.")
	flags.StringVar(&startDate, "start-date", "", "The earliest reference date to include.")
	flags.StringVar(&endDate, "end-date", "", "The latest reference date to include.")
	flags.StringVar(&pfilters, "pfilters", "", "A list of treatment intent filters to restrict the "+
		"reference rows.")
	flags.StringVar(&outputName, "output-name", "treatment_centered_clinical_dataset", "The base name "+
		"of the output files.")
	flags.StringVar(&outputFormat, "output-format", app.FormatCSV, "The output format: csv or sqlite.")
	flags.Float64Var(&split, "split", 0, "The test fraction of the patient level train/test split. "+
		"0 disables the split.")
	flags.IntVar(&seed, "seed", 42, "The seed for the train/test split shuffle.")
	flags.IntVar(&nrOfThreads, "nrOfThreads", 0, "The number of threads clindat uses.")
	flags.BoolVar(&verbose, "verbose", false, "Enable debug logging.")
	// parse optional arguments
	parseFlags(flags, 7, clindatHelp)
	// parse required arguments
	treatmentFile = getFileName(os.Args[1], clindatHelp)
	demographicFile = getFileName(os.Args[2], clindatHelp)
	labFile = getFileName(os.Args[3], clindatHelp)
	symptomFile = getFileName(os.Args[4], clindatHelp)
	eventFile = getFileName(os.Args[5], clindatHelp)
	outputPath, _ = filepath.Abs(getFileName(os.Args[6], clindatHelp))
	if err := os.MkdirAll(outputPath, 0700); err != nil {
		fmt.Fprintf(os.Stderr, "Cannot create output path %s: %v\n", outputPath, err)
		os.Exit(1)
	}
	if nrOfThreads > 0 {
		runtime.GOMAXPROCS(nrOfThreads)
	}

	app.InitLogger(verbose)
	app.Log.Info(programMessage())

	cfg, err := app.LoadConfig(configFile)
	if err != nil {
		app.Log.Fatal(err)
	}

	var filters []app.NamedFilter
	filters = append(filters, getCohortFilter(cohortFile)...)
	if startDate != "" || endDate != "" {
		filters = append(filters, app.NamedFilter{
			Name:   "outside date range",
			Filter: app.DateRangeFilter(getDate(startDate, "start-date"), getDate(endDate, "end-date")),
		})
	}
	filters = append(filters, getIntentFilters(pfilters)...)

	df, err := app.Run(app.Inputs{
		Treatment:     treatmentFile,
		Demographic:   demographicFile,
		Lab:           labFile,
		Symptom:       symptomFile,
		Event:         eventFile,
		LastSeen:      lastSeenFile,
		IncludedDrugs: includedDrugs,
	}, app.Options{
		AlignOn: alignOn,
		DateCol: dateColumn,
		Threads: nrOfThreads,
		Filters: filters,
	}, cfg)
	if err != nil {
		app.Log.Fatal(err)
	}

	ext := "." + outputFormat
	if outputFormat == app.FormatSQLite {
		ext = ".db"
	}
	out := filepath.Join(outputPath, outputName+ext)
	if err := app.WriteOutput(df, out, outputFormat, "dataset"); err != nil {
		app.Log.Fatal(err)
	}
	app.Log.WithField("path", out).Info("wrote dataset")

	if split > 0 {
		train, test, err := app.TrainTestSplit(df, split, uint32(seed))
		if err != nil {
			app.Log.Fatal(err)
		}
		trainOut := filepath.Join(outputPath, outputName+"_train"+ext)
		testOut := filepath.Join(outputPath, outputName+"_test"+ext)
		if err := app.WriteOutput(train, trainOut, outputFormat, "train"); err != nil {
			app.Log.Fatal(err)
		}
		if err := app.WriteOutput(test, testOut, outputFormat, "test"); err != nil {
			app.Log.Fatal(err)
		}
	}
}
