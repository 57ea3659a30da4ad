package validation

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/seqlab/run-uploader/internal/models"
	"github.com/seqlab/run-uploader/internal/sheet"
	"github.com/seqlab/run-uploader/internal/uploaderr"
)

func TestValidateSheetStructure(t *testing.T) {
	tests := []struct {
		name      string
		content   string
		wantValid bool
		wantErrs  int
		contains  []string
	}{
		{
			name:      "complete sheet",
			content:   "[Header]\nWorkflow,GenerateFASTQ\n\n[Data]\nSample_ID,Sample_Name,Sample_Project,Description\n",
			wantValid: true,
		},
		{
			name:      "lowercase section names",
			content:   "[header]\nWorkflow,GenerateFASTQ\n\n[data]\nSample_ID,Sample_Name,Sample_Project,Description\n",
			wantValid: true,
		},
		{
			name:     "missing header",
			content:  "[Data]\nSample_ID,Sample_Name,Sample_Project,Description\n",
			wantErrs: 1,
			contains: []string{"[Header]"},
		},
		{
			name:     "missing header and data",
			content:  "[Reads]\n151\n",
			wantErrs: 2,
			contains: []string{"[Header]", "[Data]"},
		},
		{
			name:     "missing every required column and header",
			content:  "[Data]\nSample_Plate,Sample_Well\n",
			wantErrs: 5,
			contains: []string{"[Header]", "Sample_ID", "Sample_Name", "Sample_Project", "Description"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := ValidateSheetStructure(strings.NewReader(tt.content))
			if res.Valid != tt.wantValid {
				t.Fatalf("Valid = %v, want %v (errors: %v)", res.Valid, tt.wantValid, res.Errors)
			}
			if len(res.Errors) != tt.wantErrs {
				t.Errorf("got %d errors, want %d: %v", len(res.Errors), tt.wantErrs, res.Errors)
			}
			joined := strings.Join(res.Errors, "\n")
			for _, c := range tt.contains {
				if !strings.Contains(joined, c) {
					t.Errorf("errors %v should mention %q", res.Errors, c)
				}
			}
		})
	}
}

func TestValidatePairing(t *testing.T) {
	tests := []struct {
		name     string
		files    []string
		wantErrs int
		contains string
	}{
		{"valid pair", []string{"run/S1_R1.fastq.gz", "run/S1_R2.fastq.gz"}, 0, ""},
		{"empty", nil, 1, "no sequence files"},
		{"unmatched S2", []string{"S1_R1.fastq.gz", "S1_R2.fastq.gz", "S2_R1.fastq.gz"}, 1, "S2"},
		{"no marker", []string{"S1.fastq.gz"}, 1, "neither"},
		{"lonely R2", []string{"S1_R2.fastq.gz"}, 1, "S1_R1.fastq.gz"},
		{"pair in different dirs", []string{"a/S1_R1.fastq.gz", "b/S1_R2.fastq.gz"}, 2, ""},
		{"duplicated R1", []string{"a_R1.fq", "a_R1.fq", "a_R2.fq"}, 1, "a_R1.fq is listed 2 times"},
		{"duplicated pair", []string{"a_R1.fq", "a_R2.fq", "a_R1.fq", "a_R2.fq"}, 2, "listed 2 times"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := ValidatePairing(tt.files)
			if len(res.Errors) != tt.wantErrs {
				t.Fatalf("got %d errors, want %d: %v", len(res.Errors), tt.wantErrs, res.Errors)
			}
			if res.Valid != (tt.wantErrs == 0) {
				t.Errorf("Valid = %v with %d errors", res.Valid, len(res.Errors))
			}
			if tt.contains != "" && !strings.Contains(res.Errors[0], tt.contains) {
				t.Errorf("error %q should mention %q", res.Errors[0], tt.contains)
			}
		})
	}
}

func TestValidatePairing_OrderInvariantAndPure(t *testing.T) {
	files := []string{"S3.fastq.gz", "S1_R1.fastq.gz", "S2_R2.fastq.gz", "S1_R2.fastq.gz", "S4_R1.fastq.gz"}
	orig := append([]string(nil), files...)

	reversed := make([]string, len(files))
	for i, f := range files {
		reversed[len(files)-1-i] = f
	}

	forward := ValidatePairing(files)
	backward := ValidatePairing(reversed)
	if !reflect.DeepEqual(forward, backward) {
		t.Errorf("result depends on order:\n%v\n%v", forward.Errors, backward.Errors)
	}
	if !reflect.DeepEqual(files, orig) {
		t.Errorf("input was modified: %v", files)
	}
}

func TestValidatePairing_DuplicatesAreOrderInvariant(t *testing.T) {
	files := []string{"a_R1.fq", "a_R1.fq", "a_R2.fq"}
	reversed := []string{"a_R2.fq", "a_R1.fq", "a_R1.fq"}

	forward := ValidatePairing(files)
	if forward.Valid {
		t.Fatalf("%v should not pair", files)
	}
	if backward := ValidatePairing(reversed); !reflect.DeepEqual(forward, backward) {
		t.Errorf("result depends on order:\n%v\n%v", forward.Errors, backward.Errors)
	}
}

func TestValidateSampleList(t *testing.T) {
	if res := ValidateSampleList(nil); res.Valid || len(res.Errors) != 1 || !strings.Contains(res.Errors[0], "empty") {
		t.Errorf("empty list result = %+v, want one 'empty' error", res)
	}

	samples := []*models.Sample{
		{Name: "a", ProjectID: "1"},
		{Name: "", ProjectID: ""},
		{Name: "c", ProjectID: ""},
	}
	res := ValidateSampleList(samples)
	if len(res.Errors) != 3 {
		t.Errorf("got %d errors, want 3 (one per missing field): %v", len(res.Errors), res.Errors)
	}
}

// writeRun creates a run directory with a sheet and the named sequence files.
func writeRun(t *testing.T, content string, files ...string) *models.Run {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "SampleSheet.csv")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write sheet: %v", err)
	}
	run, err := sheet.Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	for _, s := range run.Samples() {
		for _, f := range files {
			if strings.HasPrefix(f, s.Name+"_") {
				s.Files = append(s.Files, filepath.Join(dir, f))
			}
		}
	}
	return run
}

const pairedSheet = `[Header]
Workflow,GenerateFASTQ

[Reads]
151
151

[Data]
Sample_ID,Sample_Name,Sample_Project,Description
01,S1,6,Test
02,S2,6,Test
`

func TestValidateRunOffline(t *testing.T) {
	good := writeRun(t, pairedSheet, "S1_R1.fastq.gz", "S1_R2.fastq.gz", "S2_R1.fastq.gz", "S2_R2.fastq.gz")
	if res := ValidateRunOffline(good); !res.Valid {
		t.Errorf("ValidateRunOffline() = %v, want valid", res.Errors)
	}
	if err := OfflineError(good); err != nil {
		t.Errorf("OfflineError() = %v, want nil", err)
	}

	bad := writeRun(t, pairedSheet, "S1_R1.fastq.gz", "S1_R2.fastq.gz", "S2_R1.fastq.gz")
	res := ValidateRunOffline(bad)
	if res.Valid || len(res.Errors) != 1 || !strings.Contains(res.Errors[0], "sample S2") {
		t.Errorf("ValidateRunOffline() = %v, want one error for S2", res.Errors)
	}
	if err := OfflineError(bad); !errors.Is(err, uploaderr.ErrPairing) {
		t.Errorf("OfflineError() = %v, want pairing error", err)
	}
}

func TestValidateRunOffline_SingleEnd(t *testing.T) {
	content := "[Header]\nWorkflow,GenerateFASTQ\n\n[Reads]\n151\n\n[Data]\nSample_ID,Sample_Name,Sample_Project,Description\n01,S1,6,Test\n"
	run := writeRun(t, content, "S1_R1.fastq.gz", "S1_R2.fastq.gz")
	res := ValidateRunOffline(run)
	if res.Valid || !strings.Contains(res.Errors[0], "found 2") {
		t.Errorf("ValidateRunOffline() = %v, want single-end file count error", res.Errors)
	}
}
