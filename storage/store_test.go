package storage

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestNewStoreDrivers(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		driver  string
		wantErr bool
	}{
		{name: "default driver", driver: "", wantErr: false},
		{name: "explicit sqlite", driver: "sqlite", wantErr: false},
		{name: "sqlite3 alias", driver: "sqlite3", wantErr: false},
		{name: "modernc alias", driver: "modernc", wantErr: false},
		{name: "postgres not complete", driver: "postgres", wantErr: true},
		{name: "unknown driver", driver: "oracle", wantErr: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			store, err := NewStore(tt.driver, ":memory:")
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewStore(%q) err = %v, wantErr %v", tt.driver, err, tt.wantErr)
			}
			if store != nil {
				store.Close()
			}
		})
	}
}

func TestPrinterCRUD(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)

	id, err := store.CreatePrinter("/dev/ttyACM0", "Original Prusa MK4", "USB VID:PID=2C99:000D SER=A", "prusa-a")
	if err != nil {
		t.Fatal(err)
	}

	if _, err := store.CreatePrinter("/dev/ttyACM1", "Original Prusa MK4", "USB VID:PID=2C99:000D SER=A", "dup"); !errors.Is(err, ErrAlreadyRegistered) {
		t.Fatalf("duplicate hwid err = %v, want ErrAlreadyRegistered", err)
	}

	p, err := store.GetPrinter(id)
	if err != nil {
		t.Fatal(err)
	}
	if p.Name != "prusa-a" || p.Device != "/dev/ttyACM0" {
		t.Fatalf("printer row = %+v", p)
	}

	byHwid, err := store.GetPrinterByHwid("USB VID:PID=2C99:000D SER=A")
	if err != nil || byHwid.ID != id {
		t.Fatalf("GetPrinterByHwid = %+v, %v", byHwid, err)
	}

	if err := store.UpdatePrinterName(id, "left-rack"); err != nil {
		t.Fatal(err)
	}
	if err := store.UpdatePrinterDevice(id, "/dev/ttyACM5"); err != nil {
		t.Fatal(err)
	}
	p, _ = store.GetPrinter(id)
	if p.Name != "left-rack" || p.Device != "/dev/ttyACM5" {
		t.Fatalf("updated printer row = %+v", p)
	}

	if err := store.DeletePrinter(id); err != nil {
		t.Fatal(err)
	}
	if _, err := store.GetPrinter(id); !errors.Is(err, ErrNotFound) {
		t.Fatalf("get deleted printer err = %v, want ErrNotFound", err)
	}
}

func insertTestJob(t *testing.T, store *SQLiteStore, name, status string, printerID int64, favorite bool) int64 {
	t.Helper()
	id, err := store.InsertJob(&JobRow{
		File:             []byte("G28\nG1 X1\n"),
		Name:             name,
		Status:           status,
		PrinterID:        printerID,
		PrinterName:      "prusa-a",
		TdID:             77,
		FileNameOriginal: name + ".gcode",
		Favorite:         favorite,
	})
	if err != nil {
		t.Fatal(err)
	}
	return id
}

func TestInsertJobCompressesOnce(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)

	plain := []byte("G28\nG1 X1\n")
	id := insertTestJob(t, store, "cube", "inqueue", 1, false)

	row, err := store.GetJob(id)
	if err != nil {
		t.Fatal(err)
	}
	decompressed, err := Decompress(row.File)
	if err != nil {
		t.Fatalf("stored file is not gzip: %v", err)
	}
	if !bytes.Equal(decompressed, plain) {
		t.Fatalf("round trip = %q, want %q", decompressed, plain)
	}

	// Re-inserting the already compressed payload must not double-compress.
	id2, err := store.InsertJob(&JobRow{
		File:             row.File,
		Name:             "rerun",
		Status:           "inqueue",
		FileNameOriginal: "cube.gcode",
	})
	if err != nil {
		t.Fatal(err)
	}
	row2, _ := store.GetJob(id2)
	again, err := Decompress(row2.File)
	if err != nil || !bytes.Equal(again, plain) {
		t.Fatalf("double-compression guard failed: %q, %v", again, err)
	}
}

func TestUpdateJobStatus(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	id := insertTestJob(t, store, "cube", "inqueue", 1, false)

	if err := store.UpdateJobStatus(id, "complete"); err != nil {
		t.Fatal(err)
	}
	row, _ := store.GetJob(id)
	if row.Status != "complete" {
		t.Fatalf("status = %q, want complete", row.Status)
	}
	if err := store.UpdateJobStatus(9999, "error"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("update missing job err = %v, want ErrNotFound", err)
	}
}

func TestJobHistoryFilters(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)

	insertTestJob(t, store, "cube", "complete", 1, false)
	insertTestJob(t, store, "benchy", "error", 1, true)
	insertTestJob(t, store, "vase", "complete", 2, false)

	tests := []struct {
		name      string
		filter    JobFilter
		wantNames []string
		wantTotal int
	}{
		{
			name:      "from error only",
			filter:    JobFilter{FromError: true},
			wantNames: []string{"benchy"},
			wantTotal: 1,
		},
		{
			name:      "printer filter",
			filter:    JobFilter{PrinterIDs: []int64{2}},
			wantNames: []string{"vase"},
			wantTotal: 1,
		},
		{
			name:      "favorites only",
			filter:    JobFilter{FavoriteOnly: true},
			wantNames: []string{"benchy"},
			wantTotal: 1,
		},
		{
			name:      "search by job name",
			filter:    JobFilter{SearchJob: "cub", SearchCriteria: "searchByJobName"},
			wantNames: []string{"cube"},
			wantTotal: 1,
		},
		{
			name:      "search by file name",
			filter:    JobFilter{SearchJob: "vase", SearchCriteria: "searchByFileName"},
			wantNames: []string{"vase"},
			wantTotal: 1,
		},
		{
			name:      "ticket id",
			filter:    JobFilter{SearchTicketID: "77"},
			wantNames: []string{"cube", "benchy", "vase"},
			wantTotal: 3,
		},
		{
			name:      "count only",
			filter:    JobFilter{CountOnly: true},
			wantNames: nil,
			wantTotal: 3,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			items, total, err := store.JobHistory(tt.filter)
			if err != nil {
				t.Fatal(err)
			}
			if total != tt.wantTotal {
				t.Fatalf("total = %d, want %d", total, tt.wantTotal)
			}
			if len(items) != len(tt.wantNames) {
				t.Fatalf("items = %d, want %d", len(items), len(tt.wantNames))
			}
			for _, want := range tt.wantNames {
				found := false
				for _, it := range items {
					if it.Name == want {
						found = true
					}
				}
				if !found {
					t.Fatalf("missing %q in %+v", want, items)
				}
			}
		})
	}
}

func TestJobHistoryPagination(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	for i := 0; i < 5; i++ {
		insertTestJob(t, store, "job", "complete", 1, false)
	}

	items, total, err := store.JobHistory(JobFilter{Page: 2, PageSize: 2})
	if err != nil {
		t.Fatal(err)
	}
	if total != 5 {
		t.Fatalf("total = %d, want 5", total)
	}
	if len(items) != 2 {
		t.Fatalf("page size = %d, want 2", len(items))
	}
}

func TestIssueAssignment(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	jobID := insertTestJob(t, store, "cube", "error", 1, false)
	issueID, err := store.CreateIssue("nozzle clog")
	if err != nil {
		t.Fatal(err)
	}

	if err := store.SetJobIssue(jobID, issueID); err != nil {
		t.Fatal(err)
	}
	items, _, err := store.JobHistory(JobFilter{IssueIDs: []int64{issueID}})
	if err != nil || len(items) != 1 {
		t.Fatalf("issue filter items = %v, err %v", items, err)
	}
	if items[0].Error != "nozzle clog" {
		t.Fatalf("joined issue = %q, want nozzle clog", items[0].Error)
	}

	if err := store.ClearJobIssue(jobID); err != nil {
		t.Fatal(err)
	}
	items, _, _ = store.JobHistory(JobFilter{IssueIDs: []int64{issueID}})
	if len(items) != 0 {
		t.Fatalf("issue still assigned: %v", items)
	}
}

func TestIssueCRUD(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	id, err := store.CreateIssue("bed adhesion")
	if err != nil {
		t.Fatal(err)
	}
	if err := store.EditIssue(id, "bed adhesion failure"); err != nil {
		t.Fatal(err)
	}
	issues, err := store.Issues()
	if err != nil || len(issues) != 1 || issues[0].Issue != "bed adhesion failure" {
		t.Fatalf("issues = %v, err %v", issues, err)
	}
	if err := store.DeleteIssue(id); err != nil {
		t.Fatal(err)
	}
	issues, _ = store.Issues()
	if len(issues) != 0 {
		t.Fatalf("issues after delete = %v", issues)
	}
}

func TestNullifyPrinterID(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	id := insertTestJob(t, store, "cube", "complete", 3, false)

	if err := store.NullifyPrinterID(3); err != nil {
		t.Fatal(err)
	}
	row, _ := store.GetJob(id)
	if row.PrinterID != 0 {
		t.Fatalf("printer_id = %d, want 0", row.PrinterID)
	}
}

func TestClearSpace(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	oldID := insertTestJob(t, store, "ancient", "complete", 1, false)
	favID := insertTestJob(t, store, "keeper", "complete", 1, true)
	freshID := insertTestJob(t, store, "fresh", "complete", 1, false)

	// Age two of the rows past the 182-day horizon.
	aged := time.Now().UTC().AddDate(0, 0, -200).Format(dateFormat)
	for _, id := range []int64{oldID, favID} {
		if _, err := store.db.Exec(`UPDATE jobs SET date = ? WHERE id = ?`, aged, id); err != nil {
			t.Fatal(err)
		}
	}

	if err := store.ClearSpace(); err != nil {
		t.Fatal(err)
	}

	oldRow, _ := store.GetJob(oldID)
	if oldRow.File != nil {
		t.Fatal("old non-favorite file not purged")
	}
	if !strings.HasSuffix(oldRow.FileNameOriginal, ": Removed after 6 months") {
		t.Fatalf("file name not annotated: %q", oldRow.FileNameOriginal)
	}

	favRow, _ := store.GetJob(favID)
	if favRow.File == nil {
		t.Fatal("favorite file purged")
	}
	freshRow, _ := store.GetJob(freshID)
	if freshRow.File == nil {
		t.Fatal("fresh file purged")
	}

	// Running again must not re-annotate.
	if err := store.ClearSpace(); err != nil {
		t.Fatal(err)
	}
	again, _ := store.GetJob(oldID)
	if strings.Count(again.FileNameOriginal, "Removed after 6 months") != 1 {
		t.Fatalf("annotation duplicated: %q", again.FileNameOriginal)
	}
}

func TestFavoriteJobs(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	insertTestJob(t, store, "plain", "complete", 1, false)
	favID := insertTestJob(t, store, "fav", "complete", 1, false)
	if err := store.SetJobFavorite(favID, true); err != nil {
		t.Fatal(err)
	}

	favorites, err := store.FavoriteJobs()
	if err != nil {
		t.Fatal(err)
	}
	if len(favorites) != 1 || favorites[0].Name != "fav" {
		t.Fatalf("favorites = %v", favorites)
	}
}

func TestExportCSV(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	jobID := insertTestJob(t, store, "cube", "complete", 1, false)
	issueID, _ := store.CreateIssue("warped corner")
	store.SetJobIssue(jobID, issueID)
	insertTestJob(t, store, "excluded", "complete", 1, false)

	dir := t.TempDir()
	path, err := store.ExportCSV(dir, []int64{jobID})
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Dir(path) != dir {
		t.Fatalf("csv written to %q, want %q", path, dir)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	content := string(data)
	if !strings.Contains(content, "td_id,printer,name,file_name_original,status,date,issue,comments") {
		t.Fatalf("missing header: %q", content)
	}
	if !strings.Contains(content, "cube") || !strings.Contains(content, "warped corner") {
		t.Fatalf("missing row data: %q", content)
	}
	if strings.Contains(content, "excluded") {
		t.Fatalf("unselected job exported: %q", content)
	}
}
