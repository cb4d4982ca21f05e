package performance

import (
	"bytes"
	"context"
	"fmt"

	"github.com/xuri/excelize/v2"
)

// ExportPerformanceExcel renders the student's full exam history as an
// xlsx workbook, ministry exams included.
func (s *Service) ExportPerformanceExcel(ctx context.Context, studentID string) ([]byte, error) {
	report, err := s.GetStudentPerformance(ctx, studentID)
	if err != nil {
		return nil, err
	}

	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	headers := []string{"exam_id", "title", "subject", "grade", "term", "exam_type", "date", "score", "total_questions", "performance_percentage"}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}

	entries := append([]HistoryEntry{}, report.ExamHistory...)
	entries = append(entries, report.MinistryExamHistory...)

	for i, e := range entries {
		row := i + 2
		values := []any{
			e.ExamID,
			e.Title,
			e.Subject,
			e.Grade,
			e.Term,
			e.ExamType,
			e.Date.Format("2006-01-02 15:04:05"),
			e.Score,
			e.TotalQuestions,
			e.PerformancePercentage,
		}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row)
			_ = f.SetCellValue(sheet, cell, v)
		}
	}
	_ = f.SetColWidth(sheet, "A", "J", 22)

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("write excel: %w", err)
	}
	return buf.Bytes(), nil
}
