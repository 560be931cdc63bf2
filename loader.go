package alcptprep

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
)

// testFile is the on-disk shape of one practice test. JSON files carry the
// full header; Excel workbooks take the test number from the file name.
type testFile struct {
	TestNumber string `json:"testNumber"`
	Name       string `json:"name"`
	Questions  []struct {
		Index         int      `json:"index"`
		Text          string   `json:"text"`
		CorrectAnswer string   `json:"correctAnswer"`
		OtherOptions  []string `json:"otherOptions"`
	} `json:"questions"`
}

// LoadTestData ingests every .json and .xlsx file in dataDir into the
// store. A test whose number is already present is skipped, so the call is
// idempotent. Returns the file names actually loaded.
func (s *Store) LoadTestData(ctx context.Context, dataDir string) ([]string, error) {
	entries, err := os.ReadDir(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read data directory: %w", err)
	}

	var loaded []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		var tf *testFile
		path := filepath.Join(dataDir, entry.Name())
		switch strings.ToLower(filepath.Ext(entry.Name())) {
		case ".json":
			tf, err = parseTestJSON(path)
		case ".xlsx":
			tf, err = parseTestWorkbook(path)
		default:
			continue
		}
		if err != nil {
			return loaded, err
		}

		ok, err := s.loadTest(ctx, tf)
		if err != nil {
			return loaded, err
		}
		if ok {
			loaded = append(loaded, entry.Name())
		} else {
			VerboseLog("Test %s already loaded, skipping %s", tf.TestNumber, entry.Name())
		}
	}
	return loaded, nil
}

// loadTest inserts one test and its questions. Returns false when the test
// number already exists.
func (s *Store) loadTest(ctx context.Context, tf *testFile) (bool, error) {
	if tf.TestNumber == "" {
		return false, &ValidationError{Msg: "test file missing test number"}
	}
	if _, err := s.GetTestByNumber(ctx, tf.TestNumber); err == nil {
		return false, nil
	} else if !IsNotFound(err) {
		return false, err
	}

	name := tf.Name
	if name == "" {
		name = "ALCPT Test " + tf.TestNumber
	}
	test := &Test{TestNumber: tf.TestNumber, Name: name}
	if err := s.CreateTest(ctx, test); err != nil {
		return false, err
	}

	for _, q := range tf.Questions {
		question := &Question{
			TestID:        test.ID,
			QuestionIndex: q.Index,
			QuestionText:  q.Text,
			CorrectAnswer: q.CorrectAnswer,
			OtherOptions:  q.OtherOptions,
		}
		if err := s.CreateQuestion(ctx, question); err != nil {
			return false, err
		}
	}

	if err := s.UpdateTestQuestionCount(ctx, test.ID, len(tf.Questions)); err != nil {
		return false, err
	}
	return true, nil
}

func parseTestJSON(path string) (*testFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	var tf testFile
	if err := json.Unmarshal(data, &tf); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return &tf, nil
}

// parseTestWorkbook reads a hand-maintained question sheet. Expected
// columns: index, question text, correct answer, three wrong options.
// Row 1 is treated as a header and skipped.
func parseTestWorkbook(path string) (*testFile, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("%s: workbook has no sheets", path)
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	tf := &testFile{
		TestNumber: strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
	}
	for i, row := range rows {
		if i == 0 || len(row) < 6 {
			continue
		}
		index := 0
		if _, err := fmt.Sscanf(strings.TrimSpace(row[0]), "%d", &index); err != nil {
			continue
		}
		tf.Questions = append(tf.Questions, struct {
			Index         int      `json:"index"`
			Text          string   `json:"text"`
			CorrectAnswer string   `json:"correctAnswer"`
			OtherOptions  []string `json:"otherOptions"`
		}{
			Index:         index,
			Text:          strings.TrimSpace(row[1]),
			CorrectAnswer: strings.TrimSpace(row[2]),
			OtherOptions:  []string{strings.TrimSpace(row[3]), strings.TrimSpace(row[4]), strings.TrimSpace(row[5])},
		})
	}
	return tf, nil
}
