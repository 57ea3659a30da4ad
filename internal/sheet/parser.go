// Package sheet parses instrument sample sheets.
//
// A sheet is a comma-delimited text file split into bracketed sections:
//
//	[Header]
//	Workflow,GenerateFASTQ
//
//	[Reads]
//	151
//	151
//
//	[Data]
//	Sample_ID,Sample_Name,Sample_Project,Description
//	01-1111,01-1111,6,Test
//
// Key/value sections ([Header], [Settings] and any unknown section) end at the
// first blank line. The first line after [Data] is the column header row; every
// following non-blank line becomes one record.
package sheet

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/seqlab/run-uploader/internal/models"
	"github.com/seqlab/run-uploader/internal/uploaderr"
)

// Section names recognised by the parser.
const (
	SectionHeader   = "Header"
	SectionReads    = "Reads"
	SectionSettings = "Settings"
	SectionData     = "Data"
)

// headerKeys translates [Header]/[Settings] keys to metadata keys.
// Keys not listed are kept verbatim.
var headerKeys = map[string]string{
	"Workflow":          "workflow",
	"Investigator Name": "investigatorName",
	"Experiment Name":   "experimentName",
	"Project Name":      "projectName",
	"Assay":             "assay",
	"Application":       "application",
	"Chemistry":         "chemistry",
	"Date":              "date",
	"Description":       "description",
	"IEMFileVersion":    "iemfileversion",
	"Adapter":           "adapter",
	"ReverseComplement": "reversecomplement",
}

// dataColumns translates [Data] column names to canonical record keys.
var dataColumns = map[string]string{
	"Sample_ID":      models.KeySequencerID,
	"Sample_Name":    models.KeySampleName,
	"Sample_Project": models.KeyProject,
	"Description":    models.KeyDescription,
}

// RequiredColumns are the [Data] columns every sheet must declare.
var RequiredColumns = []string{"Sample_ID", "Sample_Name", "Sample_Project", "Description"}

// TranslateHeaderKey returns the metadata key for a sheet header key.
func TranslateHeaderKey(key string) string {
	if k, ok := headerKeys[key]; ok {
		return k
	}
	return key
}

// TranslateColumn returns the canonical record key for a data column name.
func TranslateColumn(name string) string {
	if k, ok := dataColumns[name]; ok {
		return k
	}
	return name
}

// Sheet is the parsed content of a sample sheet.
type Sheet struct {
	Metadata   models.RunMetadata
	Sections   []string        // section names in the order they appear
	RawColumns []string        // data header row as written
	Columns    []string        // data header row after translation
	Records    []models.Record // one per data row, in sheet order
}

// HasSection reports whether the sheet declared the named section.
func (s *Sheet) HasSection(name string) bool {
	name = canonicalSection(name)
	for _, sec := range s.Sections {
		if sec == name {
			return true
		}
	}
	return false
}

// ParseFile opens and parses the sheet at path.
func ParseFile(path string) (*Sheet, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, uploaderr.Wrap(uploaderr.KindSheet, err, "no sample sheet at %s", path)
	}
	defer f.Close()

	s, err := Parse(f)
	if err != nil {
		if uploaderr.KindOf(err) == uploaderr.KindSheet {
			return nil, err
		}
		return nil, uploaderr.Wrap(uploaderr.KindSheet, err, "failed to read %s", path)
	}
	return s, nil
}

// Parse reads a sample sheet.
func Parse(r io.Reader) (*Sheet, error) {
	s := &Sheet{
		Metadata: models.RunMetadata{Extra: map[string]string{}},
	}
	var reads []int
	section := ""
	inData := false
	lineNum := 0

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		lineNum++
		line := strings.TrimRight(scanner.Text(), "\r")
		if lineNum == 1 {
			line = strings.TrimPrefix(line, "\ufeff")
		}
		cells := splitLine(line)

		if name, ok := sectionName(cells); ok {
			section = name
			inData = name == SectionData
			s.Sections = append(s.Sections, name)
			continue
		}

		if isBlank(cells) {
			if !inData {
				section = ""
			}
			continue
		}

		switch {
		case inData:
			if s.Columns == nil {
				cells = trimTrailingEmpty(cells)
				s.RawColumns = make([]string, len(cells))
				s.Columns = make([]string, len(cells))
				for i, c := range cells {
					s.RawColumns[i] = strings.TrimSpace(c)
					s.Columns[i] = TranslateColumn(s.RawColumns[i])
				}
				continue
			}
			values := fitRow(cells, len(s.Columns))
			if len(values) != len(s.Columns) {
				return nil, uploaderr.New(uploaderr.KindSheet,
					"line %d: data row has %d values but the header declares %d columns",
					lineNum, len(values), len(s.Columns))
			}
			rec := make(models.Record, len(values))
			for i, v := range values {
				rec[i] = models.Field{Key: s.Columns[i], Value: v}
			}
			s.Records = append(s.Records, rec)

		case section == SectionReads:
			n, err := strconv.Atoi(strings.TrimSpace(cells[0]))
			if err != nil {
				return nil, uploaderr.Wrap(uploaderr.KindSheet, err, "line %d: invalid read length %q", lineNum, cells[0])
			}
			reads = append(reads, n)

		case section != "":
			cells = trimTrailingEmpty(cells)
			key := TranslateHeaderKey(strings.TrimSpace(cells[0]))
			value := ""
			if len(cells) > 1 {
				value = strings.TrimSpace(cells[1])
			}
			s.Metadata.Set(key, value)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan sample sheet: %w", err)
	}

	if len(reads) > 0 {
		s.Metadata.ReadLength = reads[0]
		s.Metadata.ExtraReadLength = reads[1:]
		s.Metadata.Layout = models.LayoutSingleEnd
		if len(reads) > 1 {
			s.Metadata.Layout = models.LayoutPairedEnd
		}
	}
	return s, nil
}

// Load parses the sheet at path into a Run whose samples still lack files.
func Load(path string) (*models.Run, error) {
	run, err := models.NewRun(path)
	if err != nil {
		return nil, uploaderr.Wrap(uploaderr.KindSheet, err, "invalid run")
	}
	s, err := ParseFile(path)
	if err != nil {
		return nil, err
	}

	samples := make([]*models.Sample, 0, len(s.Records))
	for i, rec := range s.Records {
		sample, err := models.NewSample(rec)
		if err != nil {
			return nil, uploaderr.Wrap(uploaderr.KindSheet, err, "%s: data row %d", path, i+1)
		}
		samples = append(samples, sample)
	}
	run.SetMetadata(s.Metadata)
	run.SetSamples(samples)
	return run, nil
}

func splitLine(line string) []string {
	if line == "" {
		return []string{""}
	}
	cr := csv.NewReader(strings.NewReader(line))
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cells, err := cr.Read()
	if err != nil {
		return strings.Split(line, ",")
	}
	return cells
}

func sectionName(cells []string) (string, bool) {
	first := strings.TrimSpace(cells[0])
	if len(first) < 2 || first[0] != '[' || first[len(first)-1] != ']' {
		return "", false
	}
	return canonicalSection(strings.TrimSpace(first[1 : len(first)-1])), true
}

// canonicalSection maps a known section name in any letter case to its
// canonical spelling. Unknown names are returned unchanged.
func canonicalSection(name string) string {
	for _, known := range []string{SectionHeader, SectionReads, SectionSettings, SectionData} {
		if strings.EqualFold(name, known) {
			return known
		}
	}
	return name
}

func isBlank(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

func trimTrailingEmpty(cells []string) []string {
	n := len(cells)
	for n > 1 && strings.TrimSpace(cells[n-1]) == "" {
		n--
	}
	return cells[:n]
}

// fitRow drops trailing padding cells beyond the header width.
func fitRow(cells []string, width int) []string {
	if len(cells) <= width {
		return cells
	}
	for _, c := range cells[width:] {
		if strings.TrimSpace(c) != "" {
			return cells
		}
	}
	return cells[:width]
}
