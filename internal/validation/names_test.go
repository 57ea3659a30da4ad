package validation

import (
	"strings"
	"testing"

	"github.com/seqlab/run-uploader/internal/models"
)

func TestValidateSampleName(t *testing.T) {
	tests := []struct {
		name    string
		wantErr string
	}{
		{"01-1111", ""},
		{"sample..v2", ""},
		{"", "empty"},
		{"..", "not a valid"},
		{".", "not a valid"},
		{"a/b", "path separator"},
		{`a\b`, "path separator"},
		{"bad\x00name", "null byte"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSampleName(tt.name)
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("ValidateSampleName(%q) = %v", tt.name, err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("ValidateSampleName(%q) = %v, want %q", tt.name, err, tt.wantErr)
			}
		})
	}
}

func TestValidateSampleList_RejectsPathNames(t *testing.T) {
	res := ValidateSampleList([]*models.Sample{{Name: "../etc", ProjectID: "1"}})
	if res.Valid || len(res.Errors) != 1 || !strings.Contains(res.Errors[0], "path separator") {
		t.Errorf("result = %+v", res)
	}
}
