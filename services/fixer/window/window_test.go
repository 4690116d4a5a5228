// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package window

import (
	"context"
	"strings"
	"testing"
)

const sampleC = `#include <stdio.h>

static int counter;

int add(int a, int b)
{
    return a + b;
}

int main(void)
{
    int x = add(1, 2);
    printf("%d\n", x);
    return 0;
}`

const sampleCPP = `#include <cstdint>

namespace calc {
int add(int a, int b)
{
    return a + b;
}
}`

// charCounter counts raw characters so budget tests are deterministic.
type charCounter struct{}

func (charCounter) Count(text string) int { return len(text) }

// quadCounter inflates the estimate so small fixtures overflow the
// minimum budget.
type quadCounter struct{}

func (quadCounter) Count(text string) int { return 4 * len(text) }

func TestBuild_EnclosingFunction(t *testing.T) {
	b := NewBuilder()
	w, err := b.Build(context.Background(), []byte(sampleC), "sample.c", 7)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if w.Strategy != StrategyFunction {
		t.Fatalf("strategy = %s, want %s", w.Strategy, StrategyFunction)
	}
	if w.StartLine != 5 || w.EndLine != 8 {
		t.Errorf("span = %d..%d, want 5..8", w.StartLine, w.EndLine)
	}
	if !w.Contains(7) {
		t.Error("window must contain the violating line")
	}
	if !strings.Contains(w.Content, "return a + b;") {
		t.Errorf("content missing function body: %q", w.Content)
	}
	if w.SnapshotHash == "" {
		t.Error("SnapshotHash not recorded")
	}
}

func TestBuild_CPPFunction(t *testing.T) {
	b := NewBuilder()
	w, err := b.Build(context.Background(), []byte(sampleCPP), "calc.cpp", 6)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if w.Strategy != StrategyFunction {
		t.Errorf("strategy = %s, want %s", w.Strategy, StrategyFunction)
	}
	if !w.Contains(6) {
		t.Error("window must contain the violating line")
	}
}

func TestBuild_RadiusFallbackOutsideFunctions(t *testing.T) {
	b := NewBuilder(WithRadius(3))
	w, err := b.Build(context.Background(), []byte(sampleC), "sample.c", 3)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if w.Strategy != StrategyRadius {
		t.Fatalf("strategy = %s, want %s", w.Strategy, StrategyRadius)
	}
	if w.StartLine != 1 || w.EndLine != 6 {
		t.Errorf("span = %d..%d, want 1..6 (clamped at file start)", w.StartLine, w.EndLine)
	}
}

func TestBuild_RadiusForUnknownExtension(t *testing.T) {
	src := strings.Repeat("line\n", 30)
	b := NewBuilder(WithRadius(2))
	w, err := b.Build(context.Background(), []byte(src), "notes.txt", 10)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if w.Strategy != StrategyRadius {
		t.Errorf("strategy = %s, want %s", w.Strategy, StrategyRadius)
	}
	if w.StartLine != 8 || w.EndLine != 12 {
		t.Errorf("span = %d..%d, want 8..12", w.StartLine, w.EndLine)
	}
}

func TestRebuild_WidensSpan(t *testing.T) {
	b := NewBuilder()
	base, err := b.Build(context.Background(), []byte(sampleC), "sample.c", 7)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	wide, err := b.Rebuild(context.Background(), []byte(sampleC), "sample.c", 7, 2)
	if err != nil {
		t.Fatalf("Rebuild: %v", err)
	}
	if wide.StartLine != base.StartLine-2 || wide.EndLine != base.EndLine+2 {
		t.Errorf("widened span = %d..%d, base %d..%d", wide.StartLine, wide.EndLine, base.StartLine, base.EndLine)
	}
	if wide.Strategy != StrategyFunction {
		t.Errorf("widening must not change the strategy, got %s", wide.Strategy)
	}
}

func TestBuild_BudgetTruncationKeepsViolatingLine(t *testing.T) {
	b := NewBuilder(WithTokenCounter(quadCounter{}), WithTokenBudget(MinTokenBudget))
	w, err := b.Build(context.Background(), []byte(sampleC), "sample.c", 12)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if !w.Truncated {
		t.Error("window should be marked truncated")
	}
	if !w.Contains(12) {
		t.Error("truncation must keep the violating line")
	}
	if w.TokenEstimate > MinTokenBudget {
		t.Errorf("estimate %d exceeds budget %d", w.TokenEstimate, MinTokenBudget)
	}
	if !strings.Contains(w.Content, "int x = add(1, 2);") {
		t.Errorf("content lost the violating line: %q", w.Content)
	}
}

func TestBuild_OversizedSingleLineSurvives(t *testing.T) {
	huge := "int x; /* " + strings.Repeat("y", 4*MinTokenBudget) + " */"
	src := "a\n" + huge + "\nb"
	b := NewBuilder(WithTokenCounter(charCounter{}), WithTokenBudget(MinTokenBudget))
	w, err := b.Build(context.Background(), []byte(src), "big.c", 2)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if w.StartLine != 2 || w.EndLine != 2 {
		t.Errorf("span = %d..%d, want the single violating line", w.StartLine, w.EndLine)
	}
	if !w.Truncated {
		t.Error("oversized line should still be marked truncated")
	}
	if w.Content != huge {
		t.Error("the violating line must be kept whole")
	}
}

func TestBuild_LineOutOfRange(t *testing.T) {
	b := NewBuilder()
	if _, err := b.Build(context.Background(), []byte(sampleC), "sample.c", 0); err == nil {
		t.Error("expected an error for line 0")
	}
	if _, err := b.Build(context.Background(), []byte(sampleC), "sample.c", 999); err == nil {
		t.Error("expected an error past end of file")
	}
}

func TestSnapshotHash(t *testing.T) {
	a := SnapshotHash([]byte("int x;\n"))
	b := SnapshotHash([]byte("int y;\n"))
	if a == b {
		t.Error("different sources must hash differently")
	}
	if a != SnapshotHash([]byte("int x;\n")) {
		t.Error("hash must be stable")
	}
	if len(a) != 64 {
		t.Errorf("hash length = %d, want 64 hex chars", len(a))
	}
}
