package utils

import (
	"github.com/xuri/excelize/v2"
)

const defaultSheet = "Sheet1"

// NewSheetFile writes headings on row 1 and one row per entry of rows below it.
func NewSheetFile(headings []string, rows [][]interface{}) (*excelize.File, error) {
	f := excelize.NewFile()

	for i, h := range headings {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return nil, err
		}
		if err := f.SetCellValue(defaultSheet, cell, h); err != nil {
			return nil, err
		}
	}

	for r, row := range rows {
		for c, v := range row {
			cell, err := excelize.CoordinatesToCellName(c+1, r+2)
			if err != nil {
				return nil, err
			}
			if err := f.SetCellValue(defaultSheet, cell, v); err != nil {
				return nil, err
			}
		}
	}
	return f, nil
}
