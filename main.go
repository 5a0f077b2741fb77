// PrintVista Server - job coordinator for a fleet of USB-serial 3D printers.
// Accepts submitted print jobs, assigns them to per-printer queues, and
// drives each printer through release, G-code streaming, telemetry, and
// recovery, pushing live state to UI clients over websockets.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"printvista/server/config"
	"printvista/server/fleet"
	"printvista/server/logger"
	"printvista/server/serial"
	"printvista/server/storage"
	"printvista/server/ws"

	"github.com/kardianos/service"
)

var (
	serverConfig   *config.Config
	serverLogger   *logger.Logger
	serverStore    storage.Store
	serverHub      *ws.Hub
	fleetRegistry  *fleet.Registry
	portResolver   *serial.Resolver
	httpServer     *http.Server
	serverShutdown = make(chan struct{})
)

// hubSink bridges the fleet's event sink onto the websocket hub.
type hubSink struct {
	hub *ws.Hub
}

func (s hubSink) Emit(event string, data map[string]interface{}) {
	s.hub.Broadcast(ws.Message{Type: event, Data: data})
}

// printerDirectory adapts the store and registry to the port resolver's
// view of registered printers.
type printerDirectory struct{}

func (printerDirectory) PrinterByHwid(hwid string) (int64, string, bool) {
	row, err := serverStore.GetPrinterByHwid(hwid)
	if err != nil {
		return 0, "", false
	}
	return row.ID, row.Device, true
}

func (printerDirectory) UpdateDevice(id int64, device string) error {
	if err := serverStore.UpdatePrinterDevice(id, device); err != nil {
		return err
	}
	if p := fleetRegistry.FindByID(id); p != nil {
		p.SetDevice(device)
	}
	serverHub.Broadcast(ws.Message{
		Type: fleet.EventPortRepair,
		Data: map[string]interface{}{"printer_id": id, "device": device},
	})
	serverLogger.Info("Printer port repaired", "printer_id", id, "device", device)
	return nil
}

func main() {
	configPath := flag.String("config", "", "path to printvista.toml (default: search standard locations)")
	svcAction := flag.String("service", "", "service action: install, uninstall, start, stop")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "printvista: %v\n", err)
		os.Exit(1)
	}
	serverConfig = cfg

	svcConfig := &service.Config{
		Name:        "printvista",
		DisplayName: "PrintVista Server",
		Description: "Multi-printer job coordinator for serial-attached 3D printers",
	}
	prg := &program{}
	s, err := service.New(prg, svcConfig)
	if err != nil {
		fmt.Fprintf(os.Stderr, "printvista: %v\n", err)
		os.Exit(1)
	}

	if *svcAction != "" {
		if err := service.Control(s, *svcAction); err != nil {
			fmt.Fprintf(os.Stderr, "printvista: service %s: %v\n", *svcAction, err)
			os.Exit(1)
		}
		return
	}

	if !service.Interactive() {
		if err := s.Run(); err != nil {
			fmt.Fprintf(os.Stderr, "printvista: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := runServer(); err != nil {
		fmt.Fprintf(os.Stderr, "printvista: %v\n", err)
		os.Exit(1)
	}
}

// program adapts the server to the system service manager.
type program struct{}

func (p *program) Start(s service.Service) error {
	go func() {
		if err := runServer(); err != nil && serverLogger != nil {
			serverLogger.Error("Server exited", "error", err)
		}
	}()
	return nil
}

func (p *program) Stop(s service.Service) error {
	close(serverShutdown)
	if httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		httpServer.Shutdown(ctx)
	}
	return nil
}

func runServer() error {
	cfg := serverConfig

	serverLogger = logger.New(logger.ParseLevel(cfg.LogLevel), cfg.LogDir)
	defer serverLogger.Close()
	storage.SetLogger(serverLogger)

	store, err := storage.NewStore("sqlite", cfg.ResolveDatabasePath())
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	serverStore = store
	defer store.Close()

	// The scratch directories hold only in-flight artifacts; start empty.
	for _, dir := range []string{cfg.UploadsDir(), cfg.TempCSVDir()} {
		if err := os.RemoveAll(dir); err != nil {
			return fmt.Errorf("reset scratch dir %s: %w", dir, err)
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create scratch dir %s: %w", dir, err)
		}
	}

	serverHub = ws.NewHub()
	defer serverHub.Stop()
	sink := hubSink{hub: serverHub}

	portResolver = serial.NewResolver()
	directory := printerDirectory{}

	deps := fleet.Deps{
		Sink:  sink,
		Log:   serverLogger,
		Store: store,
		OpenPort: func(device string) (fleet.SerialPort, error) {
			return serial.Open(device)
		},
		RepairPorts: func() error {
			return portResolver.Repair(directory)
		},
		ProbeDevice: deviceIsPresent,
		UploadsDir:  cfg.UploadsDir(),
	}
	fleetRegistry = fleet.NewRegistry(deps)

	rows, err := store.GetPrinters()
	if err != nil {
		return fmt.Errorf("load printers: %w", err)
	}
	descriptors := make([]fleet.Descriptor, 0, len(rows))
	for _, row := range rows {
		descriptors = append(descriptors, fleet.Descriptor{
			ID:          row.ID,
			Device:      row.Device,
			Description: row.Description,
			Hwid:        row.Hwid,
			Name:        row.Name,
		})
	}
	fleetRegistry.CreateFromDescriptors(descriptors, fleet.StatusConfiguring)
	serverLogger.Info("Fleet booted", "printers", len(descriptors))

	registerRoutes()

	httpServer = &http.Server{Addr: cfg.Listen}
	errCh := make(chan error, 1)
	go func() {
		serverLogger.Info("HTTP server listening", "addr", cfg.Listen)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case <-sigCh:
	case <-serverShutdown:
	}

	serverLogger.Info("Shutting down")
	fleetRegistry.StopAll()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return httpServer.Shutdown(ctx)
}

// deviceIsPresent reports whether the device path exists among the system's
// serial ports.
func deviceIsPresent(device string) bool {
	ports, err := serial.EnumeratePorts()
	if err != nil {
		return false
	}
	for _, port := range ports {
		if port.Device == device {
			return true
		}
	}
	return false
}

func registerRoutes() {
	// Printer / port routes
	http.HandleFunc("/getports", handleGetPorts)
	http.HandleFunc("/getprinters", handleGetPrinters)
	http.HandleFunc("/register", handleRegisterPrinter)
	http.HandleFunc("/deleteprinter", handleDeletePrinter)
	http.HandleFunc("/editname", handleEditPrinterName)
	http.HandleFunc("/diagnose", handleDiagnosePrinter)
	http.HandleFunc("/movehead", handleMoveHead)
	http.HandleFunc("/moveprinterlist", handleMovePrinterList)
	http.HandleFunc("/repairports", handleRepairPorts)

	// Job routes
	http.HandleFunc("/getjobs", handleGetJobs)
	http.HandleFunc("/addjobtoqueue", handleAddJobToQueue)
	http.HandleFunc("/autoqueue", handleAutoQueue)
	http.HandleFunc("/rerunjob", handleRerunJob)
	http.HandleFunc("/canceljob", handleCancelFromQueue)
	http.HandleFunc("/cancelfromqueue", handleCancelFromQueue)
	http.HandleFunc("/releasejob", handleReleaseJob)
	http.HandleFunc("/bumpjob", handleBumpJob)
	http.HandleFunc("/movejob", handleMoveJob)
	http.HandleFunc("/updatejobstatus", handleUpdateJobStatus)
	http.HandleFunc("/assigntoerror", handleAssignToError)
	http.HandleFunc("/deletejob", handleDeleteJob)
	http.HandleFunc("/setstatus", handleSetPrinterStatus)
	http.HandleFunc("/getfile", handleGetFile)
	http.HandleFunc("/nullifyjobs", handleNullifyJobs)
	http.HandleFunc("/clearspace", handleClearSpace)
	http.HandleFunc("/getfavoritejobs", handleGetFavoriteJobs)
	http.HandleFunc("/favoritejob", handleFavoriteJob)
	http.HandleFunc("/assignissue", handleAssignIssue)
	http.HandleFunc("/removeissue", handleRemoveIssue)
	http.HandleFunc("/startprint", handleStartPrint)
	http.HandleFunc("/savecomment", handleSaveComment)
	http.HandleFunc("/downloadcsv", handleDownloadCSV)
	http.HandleFunc("/removeCSV", handleRemoveCSV)
	http.HandleFunc("/refetchtimedata", handleRefetchTimeData)

	// Status / registry routes
	http.HandleFunc("/getprinterinfo", handleGetPrinterInfo)
	http.HandleFunc("/hardreset", handleHardReset)
	http.HandleFunc("/hardresetqueue", handleHardResetQueue)
	http.HandleFunc("/removethread", handleRemoveWorker)
	http.HandleFunc("/editNameInThread", handleEditNameInMemory)
	http.HandleFunc("/health", handleHealth)

	// Issue routes
	http.HandleFunc("/getissues", handleGetIssues)
	http.HandleFunc("/createissue", handleCreateIssue)
	http.HandleFunc("/deleteissue", handleDeleteIssue)
	http.HandleFunc("/editissue", handleEditIssue)

	// UI event stream
	http.HandleFunc("/ws", handleUIWebSocket)
}
