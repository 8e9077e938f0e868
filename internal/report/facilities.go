package report

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"

	"forecast-sender/internal/portal"
)

type facilityEntry struct {
	ID           int    `json:"id"`
	OriginalName string `json:"original_name"`
	CompanyID    int    `json:"company_id,omitempty"`
}

type facilityExport struct {
	GeneratedAt     string                   `json:"generated_at"`
	UserID          int                      `json:"user_id"`
	GroupID         int                      `json:"group_id"`
	TotalFacilities int                      `json:"total_facilities"`
	Facilities      map[string]facilityEntry `json:"facilities"`
}

// BuildFacilityJSON exports a login's facility map keyed by normalized name.
func BuildFacilityJSON(login *portal.LoginResult, generatedAt time.Time) ([]byte, error) {
	if login == nil {
		return nil, fmt.Errorf("report: nil login result")
	}
	entries := login.Facilities.Entries()
	out := facilityExport{
		GeneratedAt:     generatedAt.Format(time.RFC3339),
		UserID:          login.UserID,
		GroupID:         login.GroupID,
		TotalFacilities: len(entries),
		Facilities:      make(map[string]facilityEntry, len(entries)),
	}
	for _, f := range entries {
		out.Facilities[f.Key] = facilityEntry{ID: f.ID, OriginalName: f.Name, CompanyID: f.CompanyID}
	}
	return json.MarshalIndent(out, "", "  ")
}

// BuildFacilityXLSX exports the facility map in portal listing order.
func BuildFacilityXLSX(login *portal.LoginResult) ([]byte, error) {
	if login == nil {
		return nil, fmt.Errorf("report: nil login result")
	}
	f := excelize.NewFile()
	defer f.Close()
	sheet := "facilities"
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return nil, err
	}

	_ = f.SetCellValue(sheet, "A1", "Key")
	_ = f.SetCellValue(sheet, "B1", "Facility ID")
	_ = f.SetCellValue(sheet, "C1", "Name")
	_ = f.SetCellValue(sheet, "D1", "Company ID")
	for i, fac := range login.Facilities.Entries() {
		row := i + 2
		_ = f.SetCellValue(sheet, fmt.Sprintf("A%d", row), fac.Key)
		_ = f.SetCellValue(sheet, fmt.Sprintf("B%d", row), fac.ID)
		_ = f.SetCellValue(sheet, fmt.Sprintf("C%d", row), fac.Name)
		if fac.CompanyID != 0 {
			_ = f.SetCellValue(sheet, fmt.Sprintf("D%d", row), fac.CompanyID)
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
