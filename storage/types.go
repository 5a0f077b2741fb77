package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("storage: not found")

// ErrAlreadyRegistered is returned when a printer with the same hardware id
// is already registered.
var ErrAlreadyRegistered = errors.New("storage: printer already registered")

// PrinterRow is a registered printer as stored in the database. Runtime
// state (status, temperatures, queue) lives on the fleet's in-memory
// printer, not here.
type PrinterRow struct {
	ID          int64     `json:"id"`
	Device      string    `json:"device"`
	Description string    `json:"description"`
	Hwid        string    `json:"hwid"`
	Name        string    `json:"name"`
	Date        time.Time `json:"date"`
}

// JobRow is a print job as stored in the job history table. File holds the
// gzip-compressed G-code bytes.
type JobRow struct {
	ID               int64     `json:"id"`
	File             []byte    `json:"-"`
	Name             string    `json:"name"`
	Status           string    `json:"status"`
	Date             time.Time `json:"date"`
	PrinterID        int64     `json:"printerid"`
	PrinterName      string    `json:"printer_name"`
	TdID             int64     `json:"td_id"`
	ErrorID          int64     `json:"errorid"`
	Comments         string    `json:"comments"`
	FileNameOriginal string    `json:"file_name_original"`
	Favorite         bool      `json:"favorite"`
}

// JobHistoryItem is one row of the job history listing, joined with the
// owning printer's current name and the assigned issue text.
type JobHistoryItem struct {
	ID               int64     `json:"id"`
	Name             string    `json:"name"`
	Status           string    `json:"status"`
	Date             time.Time `json:"-"`
	PrinterID        int64     `json:"printerid"`
	ErrorID          int64     `json:"errorid"`
	FileNameOriginal string    `json:"file_name_original"`
	Comments         string    `json:"comments"`
	TdID             int64     `json:"td_id"`
	Printer          string    `json:"printer"`
	Error            string    `json:"error"`
	PrinterName      string    `json:"printer_name"`
	Favorite         bool      `json:"favorite"`
}

// JobFilter selects and pages the job history listing.
type JobFilter struct {
	Page           int
	PageSize       int
	PrinterIDs     []int64
	OldestFirst    bool
	SearchJob      string
	SearchCriteria string
	SearchTicketID string
	FavoriteOnly   bool
	IssueIDs       []int64
	StartDate      string
	EndDate        string
	FromError      bool
	CountOnly      bool
}

// Issue is an error label the user can assign to a job.
type Issue struct {
	ID    int64  `json:"id"`
	Issue string `json:"issue"`
}

// Store is the persistence interface consumed by the fleet core and the
// HTTP handlers.
type Store interface {
	CreatePrinter(device, description, hwid, name string) (int64, error)
	GetPrinters() ([]PrinterRow, error)
	GetPrinter(id int64) (*PrinterRow, error)
	GetPrinterByHwid(hwid string) (*PrinterRow, error)
	DeletePrinter(id int64) error
	UpdatePrinterName(id int64, name string) error
	UpdatePrinterDevice(id int64, device string) error

	InsertJob(job *JobRow) (int64, error)
	GetJob(id int64) (*JobRow, error)
	UpdateJobStatus(id int64, status string) error
	DeleteJob(id int64) error
	JobHistory(f JobFilter) ([]JobHistoryItem, int, error)
	NullifyPrinterID(printerID int64) error
	ClearSpace() error
	FavoriteJobs() ([]JobHistoryItem, error)
	SetJobFavorite(id int64, favorite bool) error
	SetJobIssue(id, issueID int64) error
	ClearJobIssue(id int64) error
	SetJobComments(id int64, comments string) error
	ExportCSV(dir string, jobIDs []int64) (string, error)

	Issues() ([]Issue, error)
	CreateIssue(text string) (int64, error)
	DeleteIssue(id int64) error
	EditIssue(id int64, text string) error

	Close() error
}
