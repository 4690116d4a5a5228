// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package window extracts the source context handed to the fix model.
//
// A context window always contains the violating line. When tree-sitter
// can identify the enclosing function definition the window covers that
// whole function, otherwise it falls back to a fixed radius of lines
// around the violation. Either way the result is clamped to a token
// budget so a pathological file cannot blow out the model's context.
package window

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	tsc "github.com/smacker/go-tree-sitter/c"
	tscpp "github.com/smacker/go-tree-sitter/cpp"

	"github.com/AleutianAI/MisraFix/services/analyzer"
)

const (
	// DefaultRadius is the fallback line radius when no enclosing
	// function can be determined.
	DefaultRadius = 10

	// DefaultTokenBudget caps the window so prompt plus completion fits
	// the local model's 2048 token context.
	DefaultTokenBudget = 1536

	// MinTokenBudget is the smallest budget worth prompting with.
	MinTokenBudget = 128

	// CharsPerToken is the character ratio for budget estimation.
	CharsPerToken = 4.0
)

// Strategy records how a window was selected.
type Strategy string

const (
	// StrategyFunction means the window spans the enclosing function.
	StrategyFunction Strategy = "enclosing_function"

	// StrategyRadius means the window is a line radius around the
	// violation.
	StrategyRadius Strategy = "radius"
)

// Window is an extracted slice of a source file. Lines are 1-based and
// the range is inclusive.
type Window struct {
	FilePath      string   `json:"filePath"`
	Line          int      `json:"line"`
	StartLine     int      `json:"startLine"`
	EndLine       int      `json:"endLine"`
	Content       string   `json:"content"`
	Strategy      Strategy `json:"strategy"`
	Truncated     bool     `json:"truncated"`
	TokenEstimate int      `json:"tokenEstimate"`

	// SnapshotHash is the sha256 of the whole source file at build
	// time. Apply-time staleness checks compare against it.
	SnapshotHash string `json:"snapshotHash"`
}

// LineCount reports how many lines the window spans.
func (w *Window) LineCount() int {
	return w.EndLine - w.StartLine + 1
}

// Contains reports whether the given 1-based line falls inside the window.
func (w *Window) Contains(line int) bool {
	return line >= w.StartLine && line <= w.EndLine
}

// TokenCounter is the interface for counting tokens.
type TokenCounter interface {
	// Count returns the number of tokens in the text.
	Count(text string) int
}

// defaultTokenCounter uses character-based estimation.
type defaultTokenCounter struct{}

// Count estimates tokens using the character ratio.
func (d *defaultTokenCounter) Count(text string) int {
	return int(float64(len(text)) / CharsPerToken)
}

// Builder extracts windows from source files.
type Builder struct {
	radius  int
	budget  int
	counter TokenCounter
}

// Option configures a Builder.
type Option func(*Builder)

// WithRadius sets the fallback line radius.
func WithRadius(radius int) Option {
	return func(b *Builder) {
		if radius > 0 {
			b.radius = radius
		}
	}
}

// WithTokenBudget sets the maximum token budget. Budgets below
// MinTokenBudget are raised to MinTokenBudget.
func WithTokenBudget(budget int) Option {
	return func(b *Builder) {
		if budget < MinTokenBudget {
			budget = MinTokenBudget
		}
		b.budget = budget
	}
}

// WithTokenCounter sets a custom token counter.
func WithTokenCounter(tc TokenCounter) Option {
	return func(b *Builder) {
		if tc != nil {
			b.counter = tc
		}
	}
}

// NewBuilder creates a Builder with default radius and budget.
func NewBuilder(opts ...Option) *Builder {
	b := &Builder{
		radius:  DefaultRadius,
		budget:  DefaultTokenBudget,
		counter: &defaultTokenCounter{},
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build extracts the window for a violation at the given 1-based line.
func (b *Builder) Build(ctx context.Context, source []byte, filePath string, line int) (*Window, error) {
	return b.build(ctx, source, filePath, line, 0)
}

// Rebuild extracts a widened window for a retry. widenBy extra lines are
// added on each side of whatever the base strategy selects.
func (b *Builder) Rebuild(ctx context.Context, source []byte, filePath string, line, widenBy int) (*Window, error) {
	if widenBy < 0 {
		widenBy = 0
	}
	return b.build(ctx, source, filePath, line, widenBy)
}

func (b *Builder) build(ctx context.Context, source []byte, filePath string, line, widenBy int) (*Window, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if line < 1 {
		return nil, fmt.Errorf("line %d is not a valid 1-based line number", line)
	}

	lines := strings.Split(string(source), "\n")
	if line > len(lines) {
		return nil, fmt.Errorf("line %d is beyond the end of %s (%d lines)", line, filePath, len(lines))
	}

	start, end, strategy := b.selectRange(ctx, source, filePath, line, len(lines))

	start -= widenBy
	end += widenBy
	if start < 1 {
		start = 1
	}
	if end > len(lines) {
		end = len(lines)
	}

	w := &Window{
		FilePath:     filePath,
		Line:         line,
		StartLine:    start,
		EndLine:      end,
		Strategy:     strategy,
		SnapshotHash: SnapshotHash(source),
	}
	b.fitToBudget(w, lines)
	return w, nil
}

// selectRange picks the raw line range before widening and budgeting.
func (b *Builder) selectRange(ctx context.Context, source []byte, filePath string, line, total int) (int, int, Strategy) {
	if fnStart, fnEnd, ok := enclosingFunction(ctx, source, filePath, line); ok {
		return fnStart, fnEnd, StrategyFunction
	}
	start := line - b.radius
	end := line + b.radius
	if start < 1 {
		start = 1
	}
	if end > total {
		end = total
	}
	return start, end, StrategyRadius
}

// fitToBudget trims the window symmetrically until it fits the token
// budget, always keeping the violating line.
func (b *Builder) fitToBudget(w *Window, lines []string) {
	render := func(start, end int) string {
		return strings.Join(lines[start-1:end], "\n")
	}

	start, end := w.StartLine, w.EndLine
	content := render(start, end)
	for b.counter.Count(content) > b.budget && (start < w.Line || end > w.Line) {
		w.Truncated = true
		// Trim the side farther from the violation first.
		if w.Line-start >= end-w.Line && start < w.Line {
			start++
		} else if end > w.Line {
			end--
		}
		content = render(start, end)
	}

	if b.counter.Count(content) > b.budget {
		// Down to the single violating line and still over budget. Keep
		// it whole rather than returning an empty window.
		w.Truncated = true
	}

	w.StartLine = start
	w.EndLine = end
	w.Content = content
	w.TokenEstimate = b.counter.Count(content)
}

// enclosingFunction parses the file and returns the 1-based line span of
// the function definition containing the given line.
func enclosingFunction(ctx context.Context, source []byte, filePath string, line int) (int, int, bool) {
	var lang *sitter.Language
	switch analyzer.LanguageFromPath(filePath) {
	case analyzer.LanguageC:
		lang = tsc.GetLanguage()
	case analyzer.LanguageCPP:
		lang = tscpp.GetLanguage()
	default:
		return 0, 0, false
	}

	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(lang)

	tree, err := parser.ParseCtx(ctx, nil, source)
	if err != nil {
		return 0, 0, false
	}
	defer tree.Close()

	point := sitter.Point{Row: uint32(line - 1), Column: 0}
	node := tree.RootNode().NamedDescendantForPointRange(point, point)
	for node != nil && node.Type() != "function_definition" {
		node = node.Parent()
	}
	if node == nil {
		return 0, 0, false
	}
	return int(node.StartPoint().Row) + 1, int(node.EndPoint().Row) + 1, true
}

// SnapshotHash returns the sha256 hex digest of the source bytes.
func SnapshotHash(source []byte) string {
	sum := sha256.Sum256(source)
	return hex.EncodeToString(sum[:])
}
