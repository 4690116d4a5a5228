// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package prompt renders the instruction block sent to the fix model.
//
// The template is versioned. Completion caching keys on the version, so
// any wording change must bump TemplateVersion or stale completions will
// be served for the new wording.
package prompt

import (
	"fmt"

	"github.com/tmc/langchaingo/prompts"

	"github.com/AleutianAI/MisraFix/services/analyzer"
	"github.com/AleutianAI/MisraFix/services/fixer/window"
)

// TemplateVersion identifies the current prompt wording.
const TemplateVersion = "v1"

// StopSequences halt generation before the model starts a new instruction
// block on its own.
var StopSequences = []string{"[INST]"}

// templateV1 is the CodeLlama instruct layout. The closing contract line
// keeps the completion parseable as a bare diff.
const templateV1 = "[INST] You are a {{.persona}} specializing in {{.ruleSet}} compliance.\n" +
	"Here is the source file {{.filename}} (lines {{.startLine}}-{{.endLine}}):\n" +
	"```\n" +
	"{{.code}}\n" +
	"```\n" +
	"The static analyzer reported the following violation:\n" +
	"- {{.violation}}\n" +
	"Rule {{.ruleId}}: {{.ruleDescription}}\n" +
	"Produce a unified diff patch that fixes only this violation. Do not change anything outside the shown lines.\n" +
	"Only return the diff. No extra commentary. [/INST]"

// Composer renders prompts from a violation and its context window. It is
// a pure function of its inputs: identical inputs produce byte-identical
// prompts.
type Composer struct {
	template prompts.PromptTemplate
	version  string
}

// NewComposer returns a Composer for the current template version.
func NewComposer() *Composer {
	return &Composer{
		template: prompts.PromptTemplate{
			Template: templateV1,
			InputVariables: []string{
				"persona", "ruleSet", "filename", "startLine", "endLine",
				"code", "violation", "ruleId", "ruleDescription",
			},
			TemplateFormat: prompts.TemplateFormatGoTemplate,
		},
		version: TemplateVersion,
	}
}

// Version reports the template version baked into this Composer.
func (c *Composer) Version() string {
	return c.version
}

// Compose renders the prompt for one violation.
func (c *Composer) Compose(v analyzer.Violation, w *window.Window) (string, error) {
	if w == nil {
		return "", fmt.Errorf("a context window is required")
	}
	if v.FilePath != w.FilePath {
		return "", fmt.Errorf("violation file %q does not match window file %q", v.FilePath, w.FilePath)
	}

	persona := "C expert"
	ruleSet := "MISRA C:2012"
	if analyzer.LanguageFromPath(v.FilePath) == analyzer.LanguageCPP {
		persona = "C++ expert"
		ruleSet = "MISRA C++:2012"
	}

	out, err := c.template.Format(map[string]any{
		"persona":         persona,
		"ruleSet":         ruleSet,
		"filename":        v.FilePath,
		"startLine":       w.StartLine,
		"endLine":         w.EndLine,
		"code":            w.Content,
		"violation":       v.Summary(),
		"ruleId":          v.RuleID,
		"ruleDescription": analyzer.Describe(v.RuleID, v.Message),
	})
	if err != nil {
		return "", fmt.Errorf("rendering prompt template %s: %w", c.version, err)
	}
	return out, nil
}
