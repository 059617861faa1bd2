package e2e

import (
	"encoding/csv"
	"os"
	"strconv"

	"github.com/hyperjump/proshno/internal/models"
	"github.com/xuri/excelize/v2"
)

// Header is the column layout of the quiz spreadsheet.
var Header = []string{
	"ID", "Question ID", "Question",
	"Option 1", "Option 2", "Option 3", "Option 4", "Option 5",
	"Answer", "Explain", "Difficulty", "Category",
}

// Rows renders docs as spreadsheet rows matching Header.
func Rows(docs []*models.Document) [][]string {
	rows := make([][]string, 0, len(docs))
	for _, d := range docs {
		row := make([]string, 0, len(Header))
		qid := ""
		if d.QuestionID != nil {
			qid = strconv.FormatInt(*d.QuestionID, 10)
		}
		row = append(row, strconv.FormatInt(d.ID, 10), qid, d.Question)
		for i := 0; i < models.MaxOptions; i++ {
			opt := ""
			if i < len(d.Options) {
				opt = d.Options[i]
			}
			row = append(row, opt)
		}
		row = append(row, d.Answer, d.Explanation, d.Difficulty, d.Metadata["Category"])
		rows = append(rows, row)
	}
	return rows
}

// WriteCSV writes docs to path as a CSV file with a header row.
func WriteCSV(path string, docs []*models.Document) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := csv.NewWriter(f)
	_ = w.Write(Header)
	_ = w.WriteAll(Rows(docs))
	if err := w.Error(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// WriteXLSX writes docs to the first sheet of a new workbook at path.
func WriteXLSX(path string, docs []*models.Document) error {
	f := excelize.NewFile()
	defer f.Close()
	sheet := f.GetSheetName(0)
	if err := f.SetSheetRow(sheet, "A1", &Header); err != nil {
		return err
	}
	for i, row := range Rows(docs) {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return err
		}
	}
	return f.SaveAs(path)
}
