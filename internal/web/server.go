package web

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"image-shrinker-go/internal/codec"
	"image-shrinker-go/internal/config"
	"image-shrinker-go/internal/statistics"
	"image-shrinker-go/internal/walker"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// Server exposes the compression run over HTTP with live websocket progress.
type Server struct {
	cfg        *config.Config
	log        *logrus.Logger
	codec      codec.Codec
	router     *mux.Router
	httpServer *http.Server
	wsUpgrader websocket.Upgrader
	wsClients  map[*websocket.Conn]bool
	wsMutex    sync.RWMutex

	// Current operation state
	operationMutex sync.RWMutex
	isRunning      bool
	currentStats   *statistics.Statistics
}

type APIResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

type CompressRequest struct {
	Directory      string `json:"directory"`
	MaxFileSize    int64  `json:"max_file_size,omitempty"`
	AllowPNGToWebP *bool  `json:"allow_png_to_webp,omitempty"`
	DryRun         bool   `json:"dry_run"`
}

type DirectoryInfo struct {
	Path         string `json:"path"`
	Name         string `json:"name"`
	IsDirectory  bool   `json:"is_directory"`
	Size         int64  `json:"size"`
	ModifiedTime string `json:"modified_time"`
}

type WSMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// NewServer returns a configured web server.
func NewServer(cfg *config.Config, log *logrus.Logger, c codec.Codec) *Server {
	s := &Server{
		cfg:       cfg,
		log:       log,
		codec:     c,
		router:    mux.NewRouter(),
		wsClients: make(map[*websocket.Conn]bool),
		wsUpgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins in development
			},
		},
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	// API routes
	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/status", s.handleStatus).Methods("GET")
	api.HandleFunc("/config", s.handleGetConfig).Methods("GET")
	api.HandleFunc("/scan", s.handleScan).Methods("POST")
	api.HandleFunc("/compress", s.handleCompress).Methods("POST")
	api.HandleFunc("/directories", s.handleListDirectories).Methods("GET")
	api.HandleFunc("/statistics", s.handleGetStatistics).Methods("GET")

	// WebSocket endpoint
	s.router.HandleFunc("/ws", s.handleWebSocket)

	// Static files
	s.router.PathPrefix("/static/").Handler(
		http.StripPrefix("/static/", http.FileServer(http.Dir("web/static/"))),
	)

	// Main page
	s.router.HandleFunc("/", s.handleIndex).Methods("GET")
}

func (s *Server) Start(port int) error {
	addr := fmt.Sprintf(":%d", port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	s.log.Infof("Starting web server on http://localhost%s", addr)
	return s.httpServer.ListenAndServe()
}

func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	http.ServeFile(w, r, "web/templates/index.html")
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.operationMutex.RLock()
	running := s.isRunning
	stats := s.currentStats
	s.operationMutex.RUnlock()

	s.writeJSON(w, APIResponse{
		Success: true,
		Data: map[string]interface{}{
			"running":    running,
			"statistics": statsPayload(stats),
		},
	})
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, APIResponse{
		Success: true,
		Data: map[string]interface{}{
			"source_directory":     s.cfg.SourceDirectory,
			"supported_extensions": s.cfg.SupportedExtensions,
			"max_file_size":        s.cfg.Compression.MaxFileSize,
			"min_quality":          s.cfg.Compression.MinQuality,
			"quality_step":         s.cfg.Compression.QualityStep,
			"start_quality":        s.cfg.Compression.StartQuality,
			"downscale_ratio":      s.cfg.Compression.DownscaleRatio,
			"allow_png_to_webp":    s.cfg.Compression.AllowPNGToWebP,
		},
	})
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	var req CompressRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if req.Directory == "" {
		s.writeError(w, "Directory is required", http.StatusBadRequest)
		return
	}

	if _, err := os.Stat(req.Directory); os.IsNotExist(err) {
		s.writeError(w, "Directory does not exist", http.StatusBadRequest)
		return
	}

	req.DryRun = true
	stats, ok := s.tryStart()
	if !ok {
		s.writeError(w, "Operation already in progress", http.StatusConflict)
		return
	}
	go s.runCompressAsync(req, "scan", stats)

	s.writeJSON(w, APIResponse{
		Success: true,
		Message: "Scan started",
	})
}

func (s *Server) handleCompress(w http.ResponseWriter, r *http.Request) {
	var req CompressRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if req.Directory == "" {
		s.writeError(w, "Directory is required", http.StatusBadRequest)
		return
	}

	if _, err := os.Stat(req.Directory); os.IsNotExist(err) {
		s.writeError(w, "Directory does not exist", http.StatusBadRequest)
		return
	}

	stats, ok := s.tryStart()
	if !ok {
		s.writeError(w, "Operation already in progress", http.StatusConflict)
		return
	}
	go s.runCompressAsync(req, "compress", stats)

	s.writeJSON(w, APIResponse{
		Success: true,
		Message: "Compression started",
	})
}

func (s *Server) handleListDirectories(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		path = "."
	}

	// Security check - prevent directory traversal
	path = filepath.Clean(path)
	if strings.Contains(path, "..") {
		s.writeError(w, "Invalid path", http.StatusBadRequest)
		return
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		s.writeError(w, fmt.Sprintf("Failed to read directory: %v", err), http.StatusInternalServerError)
		return
	}

	var directories []DirectoryInfo
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			continue
		}

		fullPath := filepath.Join(path, entry.Name())
		directories = append(directories, DirectoryInfo{
			Path:         fullPath,
			Name:         entry.Name(),
			IsDirectory:  entry.IsDir(),
			Size:         info.Size(),
			ModifiedTime: info.ModTime().Format(time.RFC3339),
		})
	}

	s.writeJSON(w, APIResponse{
		Success: true,
		Data:    directories,
	})
}

func (s *Server) handleGetStatistics(w http.ResponseWriter, r *http.Request) {
	s.operationMutex.RLock()
	stats := s.currentStats
	s.operationMutex.RUnlock()

	s.writeJSON(w, APIResponse{
		Success: true,
		Data:    statsPayload(stats),
	})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Errorf("WebSocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	s.wsMutex.Lock()
	s.wsClients[conn] = true
	s.wsMutex.Unlock()

	s.log.Debug("WebSocket client connected")

	// Remove client on disconnect
	defer func() {
		s.wsMutex.Lock()
		delete(s.wsClients, conn)
		s.wsMutex.Unlock()
		s.log.Debug("WebSocket client disconnected")
	}()

	// Keep connection alive
	for {
		_, _, err := conn.ReadMessage()
		if err != nil {
			break
		}
	}
}

// tryStart claims the single operation slot and installs a fresh statistics
// object. It fails when another scan or compression is already in flight.
func (s *Server) tryStart() (*statistics.Statistics, bool) {
	s.operationMutex.Lock()
	defer s.operationMutex.Unlock()
	if s.isRunning {
		return nil, false
	}
	s.isRunning = true
	s.currentStats = statistics.NewStatistics()
	return s.currentStats, true
}

func (s *Server) finishRun() {
	s.operationMutex.Lock()
	s.isRunning = false
	s.operationMutex.Unlock()
}

func (s *Server) runCompressAsync(req CompressRequest, operation string, stats *statistics.Statistics) {
	s.broadcastWSMessage(operation+"_started", map[string]interface{}{
		"directory": req.Directory,
		"dry_run":   req.DryRun,
	})

	// Per-request config copy; the shared config stays untouched.
	cfg := *s.cfg
	cfg.SourceDirectory = req.Directory
	cfg.Security.DryRun = req.DryRun
	if req.MaxFileSize > 0 {
		cfg.Compression.MaxFileSize = req.MaxFileSize
	}
	if req.AllowPNGToWebP != nil {
		cfg.Compression.AllowPNGToWebP = *req.AllowPNGToWebP
	}

	wlk := walker.NewWithProgress(&cfg, s.log, stats, s.codec, func(res walker.FileResult) {
		s.broadcastWSMessage("file_processed", map[string]interface{}{
			"path":          res.Path,
			"output_path":   res.OutputPath,
			"original_size": res.OriginalSize,
			"final_size":    res.FinalSize,
			"format":        res.Format,
			"converted":     res.Converted,
			"within_budget": res.WithinBudget,
			"skipped":       res.Skipped,
			"success":       res.Success,
			"message":       res.Message,
		})
	})

	err := wlk.Run()

	s.finishRun()

	if err != nil {
		s.broadcastWSMessage(operation+"_error", map[string]interface{}{
			"error": err.Error(),
		})
	} else {
		s.broadcastWSMessage(operation+"_completed", map[string]interface{}{
			"statistics": stats.GetSummary(),
		})
	}
}

func (s *Server) broadcastWSMessage(messageType string, data interface{}) {
	message := WSMessage{
		Type: messageType,
		Data: data,
	}

	msgBytes, err := json.Marshal(message)
	if err != nil {
		s.log.Errorf("Failed to marshal WebSocket message: %v", err)
		return
	}

	s.wsMutex.RLock()
	defer s.wsMutex.RUnlock()

	for conn := range s.wsClients {
		err := conn.WriteMessage(websocket.TextMessage, msgBytes)
		if err != nil {
			s.log.Errorf("Failed to write WebSocket message: %v", err)
			// Remove failed connection
			go func(c *websocket.Conn) {
				s.wsMutex.Lock()
				delete(s.wsClients, c)
				s.wsMutex.Unlock()
				c.Close()
			}(conn)
		}
	}
}

func statsPayload(stats *statistics.Statistics) interface{} {
	if stats == nil {
		return nil
	}
	return map[string]interface{}{
		"summary": stats.GetSummary(),
		"files": map[string]interface{}{
			"total_found":     atomic.LoadInt64(&stats.TotalFilesFound),
			"total_processed": atomic.LoadInt64(&stats.TotalFilesProcessed),
			"compressed":      atomic.LoadInt64(&stats.FilesCompressed),
			"converted":       atomic.LoadInt64(&stats.FilesConverted),
			"skipped":         atomic.LoadInt64(&stats.FilesSkipped),
			"over_budget":     atomic.LoadInt64(&stats.FilesOverBudget),
			"errors":          atomic.LoadInt64(&stats.FilesWithErrors),
		},
		"bytes": map[string]interface{}{
			"before": atomic.LoadInt64(&stats.BytesBefore),
			"after":  atomic.LoadInt64(&stats.BytesAfter),
		},
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func (s *Server) writeError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(APIResponse{
		Success: false,
		Error:   message,
	})
}
