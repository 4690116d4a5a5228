// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package analyzer

import (
	"encoding/xml"
	"fmt"
	"sort"

	"github.com/google/uuid"
)

// =============================================================================
// cppcheck XML v2 report parsing
// =============================================================================

// cppcheck writes its report to stderr as XML version 2:
//
//	<results version="2">
//	  <cppcheck version="2.13.0"/>
//	  <errors>
//	    <error id="misra-c2012-8.4" severity="style" msg="..." verbose="...">
//	      <location file="/tmp/x.c" line="10" column="5"/>
//	    </error>
//	  </errors>
//	</results>

type xmlResults struct {
	XMLName xml.Name   `xml:"results"`
	Version string     `xml:"version,attr"`
	Errors  []xmlError `xml:"errors>error"`
}

type xmlError struct {
	ID        string        `xml:"id,attr"`
	Severity  string        `xml:"severity,attr"`
	Msg       string        `xml:"msg,attr"`
	Verbose   string        `xml:"verbose,attr"`
	Locations []xmlLocation `xml:"location"`
}

type xmlLocation struct {
	File   string `xml:"file,attr"`
	Line   int    `xml:"line,attr"`
	Column int    `xml:"column,attr"`
}

// noiseIDs are cppcheck bookkeeping records that never describe a fixable
// finding in the analyzed file.
var noiseIDs = map[string]bool{
	"missingInclude":              true,
	"missingIncludeSystem":        true,
	"checkersReport":              true,
	"unmatchedSuppression":        true,
	"toomanyconfigs":              true,
	"noValidConfiguration":        true,
	"normalCheckLevelMaxBranches": true,
}

// ParseReport parses a cppcheck XML report into Violation records.
//
// Records without a location are skipped (they describe the run, not the
// code). When logicalPath is non-empty it replaces the reported file path,
// so diagnostics against a temp copy read as the caller's file. Duplicate
// diagnostics at the same (file, line, rule) collapse to the first seen,
// and the result is ordered by line, column, then rule id.
func ParseReport(report []byte, logicalPath string) ([]Violation, error) {
	var results xmlResults
	if err := xml.Unmarshal(report, &results); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParseOutput, err)
	}

	violations := make([]Violation, 0, len(results.Errors))
	for _, e := range results.Errors {
		if len(e.Locations) == 0 {
			continue
		}
		if noiseIDs[e.ID] || e.Severity == SeverityInformation {
			continue
		}

		// cppcheck may attach secondary locations; the first one is the
		// diagnostic's coordinate.
		loc := e.Locations[0]
		path := loc.File
		if logicalPath != "" {
			path = logicalPath
		}

		violations = append(violations, Violation{
			ID:       uuid.New().String(),
			FilePath: path,
			Line:     loc.Line,
			Column:   loc.Column,
			RuleID:   e.ID,
			Severity: e.Severity,
			Message:  e.Msg,
			Detail:   e.Verbose,
		})
	}

	violations = dedupe(violations)
	sort.SliceStable(violations, func(i, j int) bool {
		if violations[i].Line != violations[j].Line {
			return violations[i].Line < violations[j].Line
		}
		if violations[i].Column != violations[j].Column {
			return violations[i].Column < violations[j].Column
		}
		return violations[i].RuleID < violations[j].RuleID
	})
	return violations, nil
}
