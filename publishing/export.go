package publishing

import (
	"context"
	"fmt"
	"time"

	"bitbucket.org/mediaflowhq/publisher_backend/models"
	"github.com/xuri/excelize/v2"
)

const exportSheet = "PublishRecords"

// ExportPublishRecords renders the filtered publish history as an xlsx
// workbook for ops and audit.
func (s *Service) ExportPublishRecords(ctx context.Context, filter models.PublishRecordFilter) (*excelize.File, error) {
	records, err := s.Core.Records.List(ctx, filter)
	if err != nil {
		return nil, err
	}

	f := excelize.NewFile()
	index, err := f.NewSheet(exportSheet)
	if err != nil {
		return nil, err
	}
	f.SetActiveSheet(index)
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return nil, err
	}

	headers := []string{"FlowId", "UserId", "AccountId", "Platform", "Type", "Title", "Status", "PostId", "WorkLink", "PublishTime", "ErrorMsg"}
	for i, h := range headers {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return nil, err
		}
		f.SetCellValue(exportSheet, cell, h)
	}

	for i, record := range records {
		row := i + 2
		values := []interface{}{
			record.FlowId,
			record.UserId,
			record.AccountId,
			string(record.AccountType),
			string(record.Type),
			record.Title,
			string(record.Status),
			record.DataId,
			record.WorkLink,
			record.PublishTime.Format(time.RFC3339),
			record.ErrorMsg,
		}
		for col, value := range values {
			cell, err := excelize.CoordinatesToCellName(col+1, row)
			if err != nil {
				return nil, err
			}
			f.SetCellValue(exportSheet, cell, value)
		}
	}
	if len(records) == 0 {
		f.SetCellValue(exportSheet, "A2", fmt.Sprintf("no records matched (%s)", time.Now().UTC().Format(time.RFC3339)))
	}
	return f, nil
}
