// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"strings"
	"testing"
)

// =============================================================================
// CreateSessionRequest Validation Tests
// =============================================================================

func TestCreateSessionRequest_Validate_Success(t *testing.T) {
	req := &CreateSessionRequest{
		Filename: "motor.c",
		Content:  "int main(void) { return 0; }\n",
	}

	if err := Validate(req); err != nil {
		t.Errorf("expected valid request, got error: %v", err)
	}
}

func TestCreateSessionRequest_Validate_MissingFilename(t *testing.T) {
	req := &CreateSessionRequest{
		Content: "int main(void) { return 0; }\n",
	}

	if err := Validate(req); err == nil {
		t.Error("expected error for missing filename, got nil")
	}
}

func TestCreateSessionRequest_Validate_MissingContent(t *testing.T) {
	req := &CreateSessionRequest{
		Filename: "motor.c",
	}

	if err := Validate(req); err == nil {
		t.Error("expected error for missing content, got nil")
	}
}

func TestCreateSessionRequest_Validate_FilenameTooLong(t *testing.T) {
	req := &CreateSessionRequest{
		Filename: strings.Repeat("a", MaxFilenameLength+1) + ".c",
		Content:  "int main(void) { return 0; }\n",
	}

	if err := Validate(req); err == nil {
		t.Error("expected error for oversized filename, got nil")
	}
}
