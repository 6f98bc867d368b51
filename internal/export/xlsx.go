package export

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"bookingsys/internal/models"

	"github.com/xuri/excelize/v2"
)

const sheetName = "Appointments"

var headers = []string{"ID", "Start", "End", "Status", "User", "Service", "Price", "Special needs", "Cancel reason", "Version"}

// Row is one appointment with its references already resolved to names.
type Row struct {
	Appointment *models.Appointment
	UserName    string
	ServiceName string
	PriceCents  int64
}

type UserLookup interface {
	GetUserByID(ctx context.Context, id int64) (*models.User, error)
}

type ServiceLookup interface {
	GetService(ctx context.Context, id int64) (*models.Service, error)
}

// BuildRows resolves owner and service names. Unresolvable references are
// left blank rather than failing the export.
func BuildRows(ctx context.Context, appts []*models.Appointment, users UserLookup, services ServiceLookup) []Row {
	userNames := make(map[int64]string)
	rows := make([]Row, 0, len(appts))
	for _, a := range appts {
		row := Row{Appointment: a}
		name, ok := userNames[a.UserID]
		if !ok {
			if u, err := users.GetUserByID(ctx, a.UserID); err == nil {
				name = u.DisplayName()
			}
			userNames[a.UserID] = name
		}
		row.UserName = name
		if a.ServiceID != nil {
			if s, err := services.GetService(ctx, *a.ServiceID); err == nil {
				row.ServiceName = s.Name
				row.PriceCents = s.PriceCents
			}
		}
		rows = append(rows, row)
	}
	return rows
}

// WriteAppointmentsXLSX writes a single-sheet workbook covering [from, to).
func WriteAppointmentsXLSX(w io.Writer, from, to time.Time, rows []Row, loc *time.Location) error {
	if loc == nil {
		loc = time.UTC
	}
	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(sheetName)
	if err != nil {
		return fmt.Errorf("error creating sheet: %w", err)
	}
	f.SetActiveSheet(index)
	_ = f.DeleteSheet("Sheet1")

	_ = f.SetCellValue(sheetName, "A1", fmt.Sprintf("Period: %s - %s",
		from.In(loc).Format("02.01.2006"), to.In(loc).Format("02.01.2006")))
	lastCol, _ := excelize.ColumnNumberToName(len(headers))
	_ = f.MergeCell(sheetName, "A1", lastCol+"1")
	titleStyle, _ := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 14},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	_ = f.SetCellStyle(sheetName, "A1", "A1", titleStyle)

	headerStyle, _ := f.NewStyle(&excelize.Style{
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
		Font:      &excelize.Font{Bold: true},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 2)
		_ = f.SetCellValue(sheetName, cell, h)
	}
	_ = f.SetCellStyle(sheetName, "A2", lastCol+"2", headerStyle)

	cancelledStyle, _ := f.NewStyle(&excelize.Style{
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#FFC7CE"}, Pattern: 1},
	})

	for i, r := range rows {
		a := r.Appointment
		rowNum := i + 3
		price := ""
		if r.ServiceName != "" {
			price = fmt.Sprintf("%d.%02d", r.PriceCents/100, r.PriceCents%100)
		}
		values := []interface{}{
			a.ID,
			a.StartTime.In(loc).Format("02.01.2006 15:04"),
			a.EndTime.In(loc).Format("02.01.2006 15:04"),
			a.Status.String(),
			r.UserName,
			r.ServiceName,
			price,
			a.SpecialNeeds,
			a.CancelReason,
			a.Version,
		}
		start, _ := excelize.CoordinatesToCellName(1, rowNum)
		if err := f.SetSheetRow(sheetName, start, &values); err != nil {
			return fmt.Errorf("error writing row %d: %w", rowNum, err)
		}
		if a.Status == models.StatusCancelled {
			end, _ := excelize.CoordinatesToCellName(len(headers), rowNum)
			_ = f.SetCellStyle(sheetName, start, end, cancelledStyle)
		}
	}

	_ = f.SetColWidth(sheetName, "A", "A", 8)
	_ = f.SetColWidth(sheetName, "B", "C", 18)
	_ = f.SetColWidth(sheetName, "D", lastCol, 20)

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("error writing workbook: %w", err)
	}
	return nil
}

// SaveAppointmentsXLSX writes the workbook under dir and returns its path.
func SaveAppointmentsXLSX(dir string, from, to time.Time, rows []Row, loc *time.Location) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("error creating export directory: %w", err)
	}
	path := filepath.Join(dir, FileName(from, to))
	file, err := os.Create(path)
	if err != nil {
		return "", err
	}
	defer file.Close()
	if err := WriteAppointmentsXLSX(file, from, to, rows, loc); err != nil {
		return "", err
	}
	return path, nil
}

func FileName(from, to time.Time) string {
	return fmt.Sprintf("appointments_%s_to_%s.xlsx", from.Format("2006-01-02"), to.Format("2006-01-02"))
}
