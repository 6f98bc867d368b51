package export

import (
	"bytes"
	"context"
	"testing"
	"time"

	"bookingsys/internal/domain"
	"bookingsys/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

type stubUsers map[int64]*models.User

func (s stubUsers) GetUserByID(_ context.Context, id int64) (*models.User, error) {
	if u, ok := s[id]; ok {
		return u, nil
	}
	return nil, domain.ErrNotFound
}

type stubServices map[int64]*models.Service

func (s stubServices) GetService(_ context.Context, id int64) (*models.Service, error) {
	if svc, ok := s[id]; ok {
		return svc, nil
	}
	return nil, domain.ErrNotFound
}

func sampleAppointments() []*models.Appointment {
	start := time.Date(2026, 6, 3, 10, 0, 0, 0, time.UTC)
	svc := int64(5)
	return []*models.Appointment{
		{ID: 1, UserID: 2, ServiceID: &svc, Status: models.StatusScheduled, StartTime: start, EndTime: start.Add(time.Hour), Version: 2},
		{ID: 2, UserID: 9, Status: models.StatusCancelled, StartTime: start.Add(2 * time.Hour), EndTime: start.Add(3 * time.Hour), CancelReason: "sick"},
	}
}

func TestBuildRows(t *testing.T) {
	users := stubUsers{2: {ID: 2, Login: "bob", FirstName: "Bob", LastName: "Stone"}}
	services := stubServices{5: {ID: 5, Name: "Massage", PriceCents: 4550}}

	rows := BuildRows(context.Background(), sampleAppointments(), users, services)
	require.Len(t, rows, 2)
	assert.Equal(t, "Bob Stone", rows[0].UserName)
	assert.Equal(t, "Massage", rows[0].ServiceName)
	assert.Equal(t, int64(4550), rows[0].PriceCents)
	assert.Empty(t, rows[1].UserName)
	assert.Empty(t, rows[1].ServiceName)
}

func TestWriteAppointmentsXLSX(t *testing.T) {
	users := stubUsers{2: {ID: 2, Login: "bob", FirstName: "Bob"}}
	services := stubServices{5: {ID: 5, Name: "Massage", PriceCents: 4550}}
	rows := BuildRows(context.Background(), sampleAppointments(), users, services)

	from := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	var buf bytes.Buffer
	require.NoError(t, WriteAppointmentsXLSX(&buf, from, from.AddDate(0, 0, 7), rows, nil))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{sheetName}, f.GetSheetList())

	title, err := f.GetCellValue(sheetName, "A1")
	require.NoError(t, err)
	assert.Equal(t, "Period: 01.06.2026 - 08.06.2026", title)

	header, err := f.GetCellValue(sheetName, "D2")
	require.NoError(t, err)
	assert.Equal(t, "Status", header)

	got, err := f.GetRows(sheetName)
	require.NoError(t, err)
	require.Len(t, got, 4)
	assert.Equal(t, "1", got[2][0])
	assert.Equal(t, "03.06.2026 10:00", got[2][1])
	assert.Equal(t, "SCHEDULED", got[2][3])
	assert.Equal(t, "Bob", got[2][4])
	assert.Equal(t, "45.50", got[2][6])
	assert.Equal(t, "CANCELLED", got[3][3])
	assert.Equal(t, "sick", got[3][8])
}

func TestSaveAppointmentsXLSX(t *testing.T) {
	dir := t.TempDir()
	from := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	path, err := SaveAppointmentsXLSX(dir, from, from.AddDate(0, 0, 1), nil, time.UTC)
	require.NoError(t, err)
	assert.Contains(t, path, "appointments_2026-06-01_to_2026-06-02.xlsx")

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows(sheetName)
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}
