package httpapi

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/xuri/excelize/v2"
)

// handleProgressExport renders a user's progress as an xlsx workbook.
func (s *Server) handleProgressExport(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	entries, err := s.progressEntries(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "loading progress failed")
		slog.Error("progress export failed", "user_id", userID, "error", err)
		return
	}

	f := excelize.NewFile()
	defer f.Close()

	const sheet = "Progress"
	idx, err := f.NewSheet(sheet)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "building report failed")
		return
	}
	f.SetActiveSheet(idx)
	_ = f.DeleteSheet("Sheet1")

	headers := []string{"Module", "Track", "Title", "Status", "Unlocked", "Quiz Score", "Completed At", "Certificate"}
	for col, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(col+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}

	for row, entry := range entries {
		mod, _ := s.cfg.Catalog.ModuleByID(entry.ModuleID)
		values := []any{
			entry.ModuleID,
			mod.Track,
			mod.Title,
			string(entry.Status),
			entry.Unlocked,
			"",
			"",
			entry.CertificateRef,
		}
		if entry.QuizScore != nil {
			values[5] = *entry.QuizScore
		}
		if entry.CompletedAt != nil {
			values[6] = entry.CompletedAt.Format(time.RFC3339)
		}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row+2)
			_ = f.SetCellValue(sheet, cell, v)
		}
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "progress-"+userID+".xlsx"))
	if err := f.Write(w); err != nil {
		slog.Error("writing xlsx export failed", "user_id", userID, "error", err)
	}
}
