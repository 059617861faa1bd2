package corpus

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/hyperjump/proshno/internal/models"
	"github.com/hyperjump/proshno/pkg/utils"
	"github.com/xuri/excelize/v2"
)

// LoadOption configures Load.
type LoadOption func(*loadOptions)

type loadOptions struct {
	sheet string
}

// WithSheet selects the worksheet of an .xlsx source. The default is the first sheet.
func WithSheet(name string) LoadOption {
	return func(o *loadOptions) {
		o.sheet = name
	}
}

// Load reads a .csv or .xlsx source whose first row is a header. Rows whose
// question is empty after normalization are skipped and counted. Any other bad
// row fails the load with models.ErrCorpusLoad; no partial corpus is returned.
func Load(path string, opts ...LoadOption) (*Corpus, error) {
	var o loadOptions
	for _, opt := range opts {
		opt(&o)
	}

	var (
		rows [][]string
		err  error
	)
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".csv":
		rows, err = readCSV(path)
	case ".xlsx", ".xlsm":
		rows, err = readExcel(path, o.sheet)
	default:
		return nil, fmt.Errorf("%w: unsupported corpus format %q (supported: .csv, .xlsx)", models.ErrCorpusLoad, ext)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", models.ErrCorpusLoad, path, err)
	}
	return parseRows(rows, path)
}

func readCSV(path string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	var rows [][]string
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse csv: %w", err)
		}
		rows = append(rows, rec)
	}
	return rows, nil
}

func readExcel(path, sheet string) ([][]string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open Excel: %w", err)
	}
	defer f.Close()

	if sheet == "" {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return nil, errors.New("workbook has no sheets")
		}
		sheet = sheets[0]
	}
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("get rows for sheet %q: %w", sheet, err)
	}
	return rows, nil
}

// column keys after headerKey normalization
const (
	colID          = "id"
	colQuestionID  = "questionid"
	colQuestion    = "question"
	colAnswer      = "answer"
	colExplanation = "explanation"
	colDifficulty  = "difficulty"
)

var headerAliases = map[string]string{
	"explain": colExplanation,
}

func optionKey(i int) string {
	return "option" + strconv.Itoa(i+1)
}

// headerKey folds a header cell so "Option 1", "option_1" and "OPTION-1" match.
func headerKey(h string) string {
	h = strings.TrimPrefix(h, "\ufeff")
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(h)) {
		if r == ' ' || r == '_' || r == '-' {
			continue
		}
		b.WriteRune(r)
	}
	key := b.String()
	if alias, ok := headerAliases[key]; ok {
		return alias
	}
	return key
}

func parseRows(rows [][]string, source string) (*Corpus, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: %s: missing header row", models.ErrCorpusLoad, source)
	}

	header := rows[0]
	cols := make(map[string]int, len(header))
	for i, h := range header {
		key := headerKey(h)
		if _, dup := cols[key]; !dup && key != "" {
			cols[key] = i
		}
	}
	required := []string{colID, colQuestion, colAnswer, colExplanation, colDifficulty}
	for i := 0; i < models.MaxOptions; i++ {
		required = append(required, optionKey(i))
	}
	var missing []string
	for _, key := range required {
		if _, ok := cols[key]; !ok {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s: missing required columns: %s", models.ErrCorpusLoad, source, strings.Join(missing, ", "))
	}

	known := map[int]bool{}
	for _, key := range append(required, colQuestionID) {
		if i, ok := cols[key]; ok {
			known[i] = true
		}
	}

	var (
		docs    []*models.Document
		skipped int
	)
	for r, row := range rows[1:] {
		line := r + 2
		cell := func(key string) string {
			i, ok := cols[key]
			if !ok || i >= len(row) {
				return ""
			}
			return row[i]
		}
		if isBlank(row) {
			continue
		}

		question := cell(colQuestion)
		if utils.NormalizeText(question) == "" {
			skipped++
			continue
		}

		id, err := parseID(cell(colID))
		if err != nil {
			return nil, fmt.Errorf("%w: %s: row %d: id: %v", models.ErrCorpusLoad, source, line, err)
		}
		doc := &models.Document{
			ID:             id,
			Question:       question,
			SourceQuestion: question,
			Answer:         strings.TrimSpace(cell(colAnswer)),
			Explanation:    cell(colExplanation),
			Difficulty:     strings.TrimSpace(cell(colDifficulty)),
		}
		if raw := strings.TrimSpace(cell(colQuestionID)); raw != "" {
			qid, err := parseID(raw)
			if err != nil {
				return nil, fmt.Errorf("%w: %s: row %d: question id: %v", models.ErrCorpusLoad, source, line, err)
			}
			doc.QuestionID = &qid
		}
		for i := 0; i < models.MaxOptions; i++ {
			doc.Options = append(doc.Options, strings.TrimSpace(cell(optionKey(i))))
		}
		for len(doc.Options) > 0 && doc.Options[len(doc.Options)-1] == "" {
			doc.Options = doc.Options[:len(doc.Options)-1]
		}
		for i, v := range row {
			if known[i] || i >= len(header) || strings.TrimSpace(v) == "" {
				continue
			}
			name := strings.TrimSpace(strings.TrimPrefix(header[i], "\ufeff"))
			if name == "" {
				continue
			}
			if doc.Metadata == nil {
				doc.Metadata = make(map[string]string)
			}
			doc.Metadata[name] = strings.TrimSpace(v)
		}
		docs = append(docs, doc)
	}

	c, err := build(docs, skipped, source)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", source, err)
	}
	return c, nil
}

func isBlank(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// parseID accepts integers and integral floats such as "12.0", which spreadsheets emit.
func parseID(raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, errors.New("empty")
	}
	if id, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return id, nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || f != math.Trunc(f) || math.Abs(f) > 1<<53 {
		return 0, fmt.Errorf("not an integer: %q", raw)
	}
	return int64(f), nil
}
