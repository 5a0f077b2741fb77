package storage

import (
	"database/sql"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO required)
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	dbPath string
}

// NewSQLiteStore opens (and if necessary creates) the SQLite database at
// dbPath and initializes the schema.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dbPath != ":memory:" {
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create db directory: %w", err)
		}
	}

	connStr := dbPath
	if dbPath != ":memory:" {
		connStr += "?_journal_mode=WAL&_synchronous=NORMAL&_foreign_keys=ON"
	} else {
		connStr += "?_foreign_keys=ON"
	}

	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if Log != nil {
		Log.Info("Opened SQLite database", "path", dbPath)
	}

	store := &SQLiteStore{db: db, dbPath: dbPath}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to init schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS printers (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		device TEXT NOT NULL,
		description TEXT NOT NULL,
		hwid TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		date TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_printers_hwid ON printers(hwid);

	CREATE TABLE IF NOT EXISTS jobs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		file BLOB,
		name TEXT NOT NULL,
		status TEXT NOT NULL,
		date TEXT NOT NULL,
		printer_id INTEGER,
		printer_name TEXT,
		td_id INTEGER,
		error_id INTEGER,
		comments TEXT,
		file_name_original TEXT NOT NULL,
		favorite INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_jobs_printer_id ON jobs(printer_id);
	CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
	CREATE INDEX IF NOT EXISTS idx_jobs_date ON jobs(date);

	CREATE TABLE IF NOT EXISTS issues (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		issue TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const dateFormat = time.RFC3339

func nowString() string {
	return time.Now().UTC().Format(dateFormat)
}

func parseDate(raw string) time.Time {
	t, err := time.Parse(dateFormat, raw)
	if err != nil {
		return time.Time{}
	}
	return t
}

// ---- printers ----

// CreatePrinter registers a new printer, rejecting duplicates by hwid.
func (s *SQLiteStore) CreatePrinter(device, description, hwid, name string) (int64, error) {
	var existing int64
	err := s.db.QueryRow(`SELECT id FROM printers WHERE hwid = ?`, hwid).Scan(&existing)
	if err == nil {
		return 0, ErrAlreadyRegistered
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("check printer hwid: %w", err)
	}

	res, err := s.db.Exec(
		`INSERT INTO printers (device, description, hwid, name, date) VALUES (?, ?, ?, ?, ?)`,
		device, description, hwid, name, nowString(),
	)
	if err != nil {
		return 0, fmt.Errorf("insert printer: %w", err)
	}
	return res.LastInsertId()
}

func scanPrinter(row interface{ Scan(...interface{}) error }) (*PrinterRow, error) {
	var p PrinterRow
	var date string
	if err := row.Scan(&p.ID, &p.Device, &p.Description, &p.Hwid, &p.Name, &date); err != nil {
		return nil, err
	}
	p.Date = parseDate(date)
	return &p, nil
}

// GetPrinters returns all registered printers in id order.
func (s *SQLiteStore) GetPrinters() ([]PrinterRow, error) {
	rows, err := s.db.Query(`SELECT id, device, description, hwid, name, date FROM printers ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list printers: %w", err)
	}
	defer rows.Close()

	var printers []PrinterRow
	for rows.Next() {
		p, err := scanPrinter(rows)
		if err != nil {
			return nil, fmt.Errorf("scan printer: %w", err)
		}
		printers = append(printers, *p)
	}
	return printers, rows.Err()
}

// GetPrinter returns the printer with the given id.
func (s *SQLiteStore) GetPrinter(id int64) (*PrinterRow, error) {
	row := s.db.QueryRow(`SELECT id, device, description, hwid, name, date FROM printers WHERE id = ?`, id)
	p, err := scanPrinter(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get printer: %w", err)
	}
	return p, nil
}

// GetPrinterByHwid returns the printer registered under hwid, or ErrNotFound.
func (s *SQLiteStore) GetPrinterByHwid(hwid string) (*PrinterRow, error) {
	row := s.db.QueryRow(`SELECT id, device, description, hwid, name, date FROM printers WHERE hwid = ?`, hwid)
	p, err := scanPrinter(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get printer by hwid: %w", err)
	}
	return p, nil
}

// DeletePrinter removes the printer row.
func (s *SQLiteStore) DeletePrinter(id int64) error {
	_, err := s.db.Exec(`DELETE FROM printers WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete printer: %w", err)
	}
	return nil
}

// UpdatePrinterName renames the printer row.
func (s *SQLiteStore) UpdatePrinterName(id int64, name string) error {
	_, err := s.db.Exec(`UPDATE printers SET name = ? WHERE id = ?`, name, id)
	if err != nil {
		return fmt.Errorf("update printer name: %w", err)
	}
	return nil
}

// UpdatePrinterDevice records the port path the printer is currently
// attached to. Ports shuffle between boots, so this is rewritten whenever
// port repair finds a moved printer.
func (s *SQLiteStore) UpdatePrinterDevice(id int64, device string) error {
	_, err := s.db.Exec(`UPDATE printers SET device = ? WHERE id = ?`, device, id)
	if err != nil {
		return fmt.Errorf("update printer device: %w", err)
	}
	return nil
}

// ---- jobs ----

// InsertJob stores a new job row. The file payload is gzip-compressed unless
// it already is.
func (s *SQLiteStore) InsertJob(job *JobRow) (int64, error) {
	file, err := EnsureCompressed(job.File)
	if err != nil {
		return 0, err
	}
	res, err := s.db.Exec(
		`INSERT INTO jobs (file, name, status, date, printer_id, printer_name, td_id, error_id, comments, file_name_original, favorite)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		file, job.Name, job.Status, nowString(), job.PrinterID, job.PrinterName,
		job.TdID, nullableID(job.ErrorID), job.Comments, job.FileNameOriginal, boolToInt(job.Favorite),
	)
	if err != nil {
		return 0, fmt.Errorf("insert job: %w", err)
	}
	return res.LastInsertId()
}

func nullableID(id int64) interface{} {
	if id == 0 {
		return nil
	}
	return id
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// GetJob returns the job with the given id, including its file payload.
func (s *SQLiteStore) GetJob(id int64) (*JobRow, error) {
	row := s.db.QueryRow(
		`SELECT id, file, name, status, date, printer_id, printer_name, td_id, error_id, comments, file_name_original, favorite
		 FROM jobs WHERE id = ?`, id)

	var j JobRow
	var date string
	var printerID, tdID, errorID sql.NullInt64
	var printerName, comments sql.NullString
	var favorite int
	err := row.Scan(&j.ID, &j.File, &j.Name, &j.Status, &date, &printerID, &printerName,
		&tdID, &errorID, &comments, &j.FileNameOriginal, &favorite)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	j.Date = parseDate(date)
	j.PrinterID = printerID.Int64
	j.PrinterName = printerName.String
	j.TdID = tdID.Int64
	j.ErrorID = errorID.Int64
	j.Comments = comments.String
	j.Favorite = favorite != 0
	return &j, nil
}

// UpdateJobStatus rewrites a job's status.
func (s *SQLiteStore) UpdateJobStatus(id int64, status string) error {
	res, err := s.db.Exec(`UPDATE jobs SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return fmt.Errorf("update job status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteJob removes the job row entirely.
func (s *SQLiteStore) DeleteJob(id int64) error {
	_, err := s.db.Exec(`DELETE FROM jobs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	return nil
}

// JobHistory lists jobs matching the filter, joined with the owning
// printer's current name and the assigned issue. Returns the page of items
// and the total match count.
func (s *SQLiteStore) JobHistory(f JobFilter) ([]JobHistoryItem, int, error) {
	var where []string
	var args []interface{}

	if f.FromError {
		where = append(where, `j.status = 'error'`)
	}
	if len(f.PrinterIDs) > 0 {
		where = append(where, `j.printer_id IN (`+placeholders(len(f.PrinterIDs))+`)`)
		for _, id := range f.PrinterIDs {
			args = append(args, id)
		}
	}
	if len(f.IssueIDs) > 0 {
		where = append(where, `j.error_id IN (`+placeholders(len(f.IssueIDs))+`)`)
		for _, id := range f.IssueIDs {
			args = append(args, id)
		}
	}
	if f.SearchJob != "" {
		pattern := "%" + f.SearchJob + "%"
		switch {
		case strings.Contains(f.SearchCriteria, "searchByJobName"):
			where = append(where, `j.name LIKE ?`)
			args = append(args, pattern)
		case strings.Contains(f.SearchCriteria, "searchByFileName"):
			where = append(where, `j.file_name_original LIKE ?`)
			args = append(args, pattern)
		default:
			where = append(where, `(j.name LIKE ? OR j.file_name_original LIKE ?)`)
			args = append(args, pattern, pattern)
		}
	}
	if f.SearchTicketID != "" {
		where = append(where, `j.td_id = ?`)
		args = append(args, f.SearchTicketID)
	}
	if f.FavoriteOnly {
		where = append(where, `j.favorite = 1`)
	}
	if f.StartDate != "" && f.EndDate != "" {
		where = append(where, `j.date BETWEEN ? AND ?`)
		args = append(args, f.StartDate, f.EndDate)
	} else if f.StartDate != "" {
		where = append(where, `j.date >= ?`)
		args = append(args, f.StartDate)
	} else if f.EndDate != "" {
		where = append(where, `j.date <= ?`)
		args = append(args, f.EndDate)
	}

	whereClause := ""
	if len(where) > 0 {
		whereClause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM jobs j`+whereClause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count jobs: %w", err)
	}
	if f.CountOnly {
		return nil, total, nil
	}

	order := " ORDER BY j.date DESC, j.id DESC"
	if f.OldestFirst {
		order = " ORDER BY j.date ASC, j.id ASC"
	}

	page := f.Page
	if page < 1 {
		page = 1
	}
	pageSize := f.PageSize
	if pageSize < 1 {
		pageSize = 10
	}
	limitArgs := append(args, pageSize, (page-1)*pageSize)

	rows, err := s.db.Query(
		`SELECT j.id, j.name, j.status, j.date, j.printer_id, j.error_id, j.file_name_original,
		        j.comments, j.td_id, j.printer_name, j.favorite,
		        COALESCE(p.name, 'None'), COALESCE(i.issue, 'None')
		 FROM jobs j
		 LEFT JOIN printers p ON p.id = j.printer_id
		 LEFT JOIN issues i ON i.id = j.error_id`+whereClause+order+` LIMIT ? OFFSET ?`,
		limitArgs...,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	items, err := scanHistoryItems(rows)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func scanHistoryItems(rows *sql.Rows) ([]JobHistoryItem, error) {
	var items []JobHistoryItem
	for rows.Next() {
		var it JobHistoryItem
		var date string
		var printerID, errorID, tdID sql.NullInt64
		var comments, printerName sql.NullString
		var favorite int
		if err := rows.Scan(&it.ID, &it.Name, &it.Status, &date, &printerID, &errorID,
			&it.FileNameOriginal, &comments, &tdID, &printerName, &favorite,
			&it.Printer, &it.Error); err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		it.Date = parseDate(date)
		it.PrinterID = printerID.Int64
		it.ErrorID = errorID.Int64
		it.TdID = tdID.Int64
		it.Comments = comments.String
		it.PrinterName = printerName.String
		it.Favorite = favorite != 0
		items = append(items, it)
	}
	return items, rows.Err()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

// NullifyPrinterID detaches all jobs from a deregistered printer.
func (s *SQLiteStore) NullifyPrinterID(printerID int64) error {
	_, err := s.db.Exec(`UPDATE jobs SET printer_id = 0 WHERE printer_id = ?`, printerID)
	if err != nil {
		return fmt.Errorf("nullify printer id: %w", err)
	}
	return nil
}

// ClearSpace drops the file payload of non-favorite jobs older than 182
// days. The job row itself survives; the original file name is annotated so
// the UI can explain the missing download.
func (s *SQLiteStore) ClearSpace() error {
	cutoff := time.Now().UTC().AddDate(0, 0, -182).Format(dateFormat)
	_, err := s.db.Exec(
		`UPDATE jobs
		 SET file = NULL,
		     file_name_original = CASE
		         WHEN file_name_original LIKE '%: Removed after 6 months' THEN file_name_original
		         ELSE file_name_original || ': Removed after 6 months'
		     END
		 WHERE date < ? AND favorite = 0 AND file IS NOT NULL`,
		cutoff,
	)
	if err != nil {
		return fmt.Errorf("clear space: %w", err)
	}
	return nil
}

// FavoriteJobs returns all jobs the user marked as favorites.
func (s *SQLiteStore) FavoriteJobs() ([]JobHistoryItem, error) {
	rows, err := s.db.Query(
		`SELECT j.id, j.name, j.status, j.date, j.printer_id, j.error_id, j.file_name_original,
		        j.comments, j.td_id, j.printer_name, j.favorite,
		        COALESCE(p.name, 'None'), COALESCE(i.issue, 'None')
		 FROM jobs j
		 LEFT JOIN printers p ON p.id = j.printer_id
		 LEFT JOIN issues i ON i.id = j.error_id
		 WHERE j.favorite = 1
		 ORDER BY j.date DESC`)
	if err != nil {
		return nil, fmt.Errorf("list favorite jobs: %w", err)
	}
	defer rows.Close()
	return scanHistoryItems(rows)
}

// SetJobFavorite toggles a job's favorite flag.
func (s *SQLiteStore) SetJobFavorite(id int64, favorite bool) error {
	_, err := s.db.Exec(`UPDATE jobs SET favorite = ? WHERE id = ?`, boolToInt(favorite), id)
	if err != nil {
		return fmt.Errorf("set job favorite: %w", err)
	}
	return nil
}

// SetJobIssue assigns an issue to a job.
func (s *SQLiteStore) SetJobIssue(id, issueID int64) error {
	_, err := s.db.Exec(`UPDATE jobs SET error_id = ? WHERE id = ?`, issueID, id)
	if err != nil {
		return fmt.Errorf("set job issue: %w", err)
	}
	return nil
}

// ClearJobIssue removes the issue assignment from a job.
func (s *SQLiteStore) ClearJobIssue(id int64) error {
	_, err := s.db.Exec(`UPDATE jobs SET error_id = NULL WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("clear job issue: %w", err)
	}
	return nil
}

// SetJobComments saves user comments on a job.
func (s *SQLiteStore) SetJobComments(id int64, comments string) error {
	_, err := s.db.Exec(`UPDATE jobs SET comments = ? WHERE id = ?`, comments, id)
	if err != nil {
		return fmt.Errorf("set job comments: %w", err)
	}
	return nil
}

// ExportCSV writes the selected jobs (all jobs when jobIDs is empty) to a
// CSV file under dir and returns the file path.
func (s *SQLiteStore) ExportCSV(dir string, jobIDs []int64) (string, error) {
	query := `SELECT j.td_id, j.printer_name, j.name, j.file_name_original, j.status, j.date,
	                 COALESCE(i.issue, ''), j.comments
	          FROM jobs j
	          LEFT JOIN issues i ON i.id = j.error_id`
	var args []interface{}
	if len(jobIDs) > 0 {
		query += ` WHERE j.id IN (` + placeholders(len(jobIDs)) + `)`
		for _, id := range jobIDs {
			args = append(args, id)
		}
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return "", fmt.Errorf("export csv: %w", err)
	}
	defer rows.Close()

	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("export csv: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("jobs_%s.csv", time.Now().Format("01022006")))
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("export csv: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"td_id", "printer", "name", "file_name_original", "status", "date", "issue", "comments"}); err != nil {
		return "", fmt.Errorf("export csv: %w", err)
	}
	for rows.Next() {
		var tdID sql.NullInt64
		var printerName, name, fileName, status, date, issue, comments sql.NullString
		if err := rows.Scan(&tdID, &printerName, &name, &fileName, &status, &date, &issue, &comments); err != nil {
			return "", fmt.Errorf("export csv: %w", err)
		}
		record := []string{
			fmt.Sprintf("%d", tdID.Int64), printerName.String, name.String,
			fileName.String, status.String, date.String, issue.String, comments.String,
		}
		if err := w.Write(record); err != nil {
			return "", fmt.Errorf("export csv: %w", err)
		}
	}
	if err := rows.Err(); err != nil {
		return "", fmt.Errorf("export csv: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("export csv: %w", err)
	}
	return path, nil
}

// ---- issues ----

// Issues returns all issue labels.
func (s *SQLiteStore) Issues() ([]Issue, error) {
	rows, err := s.db.Query(`SELECT id, issue FROM issues ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list issues: %w", err)
	}
	defer rows.Close()

	var issues []Issue
	for rows.Next() {
		var i Issue
		if err := rows.Scan(&i.ID, &i.Issue); err != nil {
			return nil, fmt.Errorf("scan issue: %w", err)
		}
		issues = append(issues, i)
	}
	return issues, rows.Err()
}

// CreateIssue adds a new issue label.
func (s *SQLiteStore) CreateIssue(text string) (int64, error) {
	res, err := s.db.Exec(`INSERT INTO issues (issue) VALUES (?)`, text)
	if err != nil {
		return 0, fmt.Errorf("create issue: %w", err)
	}
	return res.LastInsertId()
}

// DeleteIssue removes an issue label.
func (s *SQLiteStore) DeleteIssue(id int64) error {
	_, err := s.db.Exec(`DELETE FROM issues WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete issue: %w", err)
	}
	return nil
}

// EditIssue rewrites an issue label's text.
func (s *SQLiteStore) EditIssue(id int64, text string) error {
	_, err := s.db.Exec(`UPDATE issues SET issue = ? WHERE id = ?`, text, id)
	if err != nil {
		return fmt.Errorf("edit issue: %w", err)
	}
	return nil
}
