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

import "strings"

// ruleCatalog maps cppcheck MISRA rule ids to short paraphrased
// descriptions. cppcheck itself only prints rule numbers unless the user
// supplies the licensed MISRA rule-texts file, so prompts need this
// catalog to tell the model what a rule actually demands. The wording is
// paraphrased guidance, not the MISRA text.
var ruleCatalog = map[string]string{
	// MISRA C:2012 — frequently triggered rules
	"misra-c2012-2.2":   "There shall be no dead code.",
	"misra-c2012-2.7":   "A function should not contain unused parameters.",
	"misra-c2012-5.3":   "An identifier in an inner scope shall not hide an identifier in an outer scope.",
	"misra-c2012-7.2":   "Unsigned integer constants shall carry a 'u' or 'U' suffix.",
	"misra-c2012-8.2":   "Function types shall be in prototype form with named parameters.",
	"misra-c2012-8.4":   "A compatible declaration shall be visible when an object or function with external linkage is defined.",
	"misra-c2012-8.7":   "Objects and functions referenced in only one translation unit should have internal linkage.",
	"misra-c2012-8.9":   "An object should be defined at block scope if its identifier only appears in a single function.",
	"misra-c2012-10.1":  "Operands shall not be of an inappropriate essential type.",
	"misra-c2012-10.3":  "The value of an expression shall not be assigned to an object of a narrower essential type.",
	"misra-c2012-10.4":  "Both operands of an arithmetic operation shall have the same essential type category.",
	"misra-c2012-11.4":  "A conversion should not be performed between a pointer to object and an integer type.",
	"misra-c2012-12.1":  "The precedence of operators within expressions should be made explicit with parentheses.",
	"misra-c2012-12.3":  "The comma operator should not be used.",
	"misra-c2012-13.4":  "The result of an assignment operator should not be used.",
	"misra-c2012-14.4":  "The controlling expression of an if or loop shall have essentially Boolean type.",
	"misra-c2012-15.5":  "A function should have a single point of exit at the end.",
	"misra-c2012-15.6":  "The body of an iteration or selection statement shall be a compound statement.",
	"misra-c2012-16.3":  "An unconditional break statement shall terminate every switch-clause.",
	"misra-c2012-16.4":  "Every switch statement shall have a default label.",
	"misra-c2012-17.7":  "The value returned by a function having non-void return type shall be used.",
	"misra-c2012-17.8":  "A function parameter should not be modified.",
	"misra-c2012-20.7":  "Macro parameter expansions shall be enclosed in parentheses.",
	"misra-c2012-21.3":  "The memory allocation functions of <stdlib.h> shall not be used.",
	"misra-c2012-21.6":  "The Standard Library input/output functions shall not be used.",

	// MISRA C++ rules cppcheck emits under the misra-cpp prefix
	"misra-cpp2008-0-1-1": "A project shall not contain unreachable code.",
	"misra-cpp2008-5-0-1": "The value of an expression shall be the same under any order of evaluation the standard permits.",
	"misra-cpp2008-6-4-2": "Every if-else-if chain shall be terminated with an else clause.",
	"misra-cpp2008-6-6-5": "A function shall have a single point of exit at the end of the function.",
}

// Describe returns a human-readable description for a rule id, falling
// back to the analyzer's own message when the catalog has no entry.
func Describe(ruleID, fallback string) string {
	if desc, ok := ruleCatalog[strings.ToLower(ruleID)]; ok {
		return desc
	}
	// Bare numeric ids ("8.4") show up when reports are hand-fed; try the
	// C:2012 namespace before giving up.
	if desc, ok := ruleCatalog["misra-c2012-"+strings.ToLower(ruleID)]; ok {
		return desc
	}
	return fallback
}

// KnownRule reports whether the catalog has an entry for the rule id.
func KnownRule(ruleID string) bool {
	if _, ok := ruleCatalog[strings.ToLower(ruleID)]; ok {
		return true
	}
	_, ok := ruleCatalog["misra-c2012-"+strings.ToLower(ruleID)]
	return ok
}
