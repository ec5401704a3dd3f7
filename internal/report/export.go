package report

import (
	"context"
	"fmt"

	"github.com/xuri/excelize/v2"
)

// exportLimit caps the number of rows in one spreadsheet export.
const exportLimit = 10000

const exportSheet = "Reports"

// ExportXLSX builds a spreadsheet of the reports matching the filter,
// newest first.
func (s *Service) ExportXLSX(ctx context.Context, f *ListFilter) (*excelize.File, error) {
	f.Limit = exportLimit
	f.Offset = 0

	reports, _, err := s.repo.List(ctx, f, false)
	if err != nil {
		return nil, err
	}

	file := excelize.NewFile()
	file.SetSheetName("Sheet1", exportSheet)

	headers := []string{"ID", "Title", "Category", "Status", "Department", "Remark",
		"Latitude", "Longitude", "Address", "Reporter", "Upvotes", "In Cluster", "Created At"}
	for i, header := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := file.SetCellValue(exportSheet, cell, header); err != nil {
			return nil, fmt.Errorf("failed to write header: %w", err)
		}
	}

	for row, rp := range reports {
		inCluster := rp.IsRepresentative || rp.RepresentativeID != nil
		values := []interface{}{
			rp.ID, rp.Title, string(rp.Category), string(rp.Status), rp.Department, rp.Remark,
			rp.Latitude, rp.Longitude, rp.Address, rp.ReporterID, rp.Upvotes, inCluster,
			rp.CreatedAt.Format("2006-01-02 15:04:05"),
		}
		for col, value := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row+2)
			if err := file.SetCellValue(exportSheet, cell, value); err != nil {
				return nil, fmt.Errorf("failed to write row: %w", err)
			}
		}
	}

	return file, nil
}
