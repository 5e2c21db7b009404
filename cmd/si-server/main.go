// SI Driver: host-side driver for SportIdent timing stations
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
package main

import (
	"context"
	"encoding/base64"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"sidriver/internal/discovery"
	"sidriver/internal/driver/station"
	"sidriver/internal/export"
	"sidriver/internal/tracelog"
)

var (
	listen   = flag.String("listen", ":8477", "HTTP API listen address")
	device   = flag.String("device", "", "serial port (empty = auto-discover)")
	ttys     = flag.Bool("ttys", false, "also scan /dev/ttyS* ports during discovery")
	lowspeed = flag.Bool("lowspeed", false, "connect at 4800 baud")
	debug    = flag.Bool("debug", false, "hex-dump frames to the log")
	trace    = flag.String("trace", "", "append wire traffic to this file")
)

// server owns the single station session. The protocol is strictly
// request/response, so every handler takes the session lock.
type server struct {
	mu      sync.Mutex
	session *station.Session
	readout *station.Readout
	poller  *station.Poller
}

func main() {
	flag.Parse()

	opts := station.Options{Debug: *debug, LowSpeed: *lowspeed}
	if *trace != "" {
		sink, err := tracelog.Open(*trace)
		if err != nil {
			log.Fatalf("Failed to open trace log: %v", err)
		}
		defer sink.Close()
		opts.Trace = sink
	}

	sess, err := openStation(opts)
	if err != nil {
		log.Fatalf("Failed to connect to a station: %v", err)
	}
	defer sess.Disconnect()
	log.Printf("Connected to station %d (serial %d) on %s at %d baud",
		sess.StationCode(), sess.SerialNumber(), sess.Port(), sess.Baud())

	srv := &server{session: sess}
	runAPIServer(srv)
}

// openStation connects to the configured port, or scans candidates.
func openStation(opts station.Options) (*station.Session, error) {
	if *device != "" {
		return station.Open(*device, opts)
	}
	if !discovery.BridgePresent() {
		log.Printf("No SportIdent USB bridge enumerated; scanning serial ports anyway")
	}
	ports, err := discovery.CandidatePorts(discovery.Config{IncludeTTYS: *ttys})
	if err != nil {
		return nil, err
	}
	for _, p := range ports {
		log.Printf("Trying %s", p)
	}
	return station.OpenAny(ports, opts)
}

// runAPIServer starts the REST API server
func runAPIServer(srv *server) {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	api := router.Group("/api/v1")
	{
		api.GET("/info", srv.handleInfo)
		api.GET("/time", srv.handleGetTime)
		api.POST("/time", srv.handleSetTime)
		api.POST("/beep", srv.handleBeep)
		api.POST("/mode", srv.handleSetMode)
		api.POST("/code", srv.handleSetCode)
		api.GET("/sysval", srv.handleSysval)
		api.POST("/sysval/save", srv.handleSaveSysval)
		api.GET("/backup", srv.handleBackup)
		api.POST("/backup/erase", srv.handleEraseBackup)
		api.GET("/punches", srv.handlePunches)
		api.GET("/card", srv.handleCard)
	}
	router.GET("/healthz", srv.handleHealth)

	httpSrv := &http.Server{Addr: *listen, Handler: router}
	go func() {
		log.Printf("API server listening on %s", *listen)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("API server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(ctx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}
	log.Println("Server stopped")
}

func (s *server) handleInfo(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	model, _ := s.session.SysModelName()
	firmware, _ := s.session.SysFirmwareVersion()
	voltage, _ := s.session.SysBatteryVoltage()
	usedBattery, _ := s.session.SysUsedBatteryPercent()
	memKB, _ := s.session.SysMemSizeKB()
	cfg := s.session.Config()

	c.JSON(http.StatusOK, gin.H{
		"port":          s.session.Port(),
		"baud":          s.session.Baud(),
		"station_code":  s.session.StationCode(),
		"serial_number": s.session.SerialNumber(),
		"model":         model,
		"firmware":      firmware,
		"battery_volt":  voltage,
		"battery_used":  usedBattery,
		"memory_kb":     memKB,
		"mode":          cfg.Mode.String(),
		"extended":      cfg.Extended,
		"autosend":      cfg.AutoSend,
		"handshake":     cfg.Handshake,
	})
}

func (s *server) handleGetTime(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok, err := s.session.GetTime()
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	if !ok {
		c.JSON(http.StatusOK, gin.H{"time": nil})
		return
	}
	host := time.Now()
	c.JSON(http.StatusOK, gin.H{
		"time":         t,
		"host_time":    host,
		"drift_millis": host.Sub(t).Milliseconds(),
	})
}

func (s *server) handleSetTime(c *gin.Context) {
	var req struct {
		// RFC 3339; empty means "host now".
		Time string `json:"time"`
	}
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	when := time.Now()
	if req.Time != "" {
		parsed, err := time.Parse(time.RFC3339, req.Time)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid time"})
			return
		}
		when = parsed
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.session.SetTime(when); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"time": when})
}

func (s *server) handleBeep(c *gin.Context) {
	var req struct {
		Count int `json:"count"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.Count == 0 {
		req.Count = 1
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.session.Beep(req.Count); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"beeps": req.Count})
}

var modeByName = map[string]station.Mode{
	"control": station.ModeControl,
	"start":   station.ModeStart,
	"finish":  station.ModeFinish,
	"readout": station.ModeReadout,
	"clear":   station.ModeClear,
	"check":   station.ModeCheck,
}

func (s *server) handleSetMode(c *gin.Context) {
	var req struct {
		Mode string `json:"mode"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	mode, ok := modeByName[req.Mode]
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("unknown mode %q", req.Mode)})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.session.SetOperatingMode(mode); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"mode": mode.String()})
}

func (s *server) handleSetCode(c *gin.Context) {
	var req struct {
		Code uint16 `json:"code"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.session.SetStationCode(req.Code); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": req.Code})
}

func (s *server) handleSysval(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	img, err := s.session.SysvalImage()
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"image": base64.StdEncoding.EncodeToString(img)})
}

func (s *server) handleSaveSysval(c *gin.Context) {
	var req struct {
		Filename string `json:"filename"`
	}
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	s.mu.Lock()
	img, err := s.session.SysvalImage()
	code := s.session.StationCode()
	s.mu.Unlock()
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	name, err := export.SaveSysval(img, code, req.Filename)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"filename": name})
}

func (s *server) handleBackup(c *gin.Context) {
	s.mu.Lock()
	records, err := s.session.ReadBackup()
	code := s.session.StationCode()
	serial := s.session.SerialNumber()
	mode := s.session.Config().Mode.String()
	s.mu.Unlock()
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	if filename := c.Query("csv"); filename != "" {
		meta := export.Meta{Code: code, SerialNo: serial, Mode: mode, ReadTime: time.Now()}
		name, err := export.WriteBackupCSV(records, meta, filename)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"records": len(records), "filename": name})
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": records})
}

func (s *server) handleEraseBackup(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.session.EraseBackup(); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"erased": true})
}

func (s *server) handlePunches(c *gin.Context) {
	timeout := time.Duration(0)
	if ms := c.Query("timeout_ms"); ms != "" {
		var v int
		if _, err := fmt.Sscanf(ms, "%d", &v); err != nil || v < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid timeout_ms"})
			return
		}
		timeout = time.Duration(v) * time.Millisecond
	}

	s.mu.Lock()
	if s.poller == nil {
		s.poller = station.NewPoller(s.session)
	}
	punches, err := s.poller.Poll(timeout)
	s.mu.Unlock()
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"punches": punches})
}

func (s *server) handleCard(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.readout == nil {
		s.readout = station.NewReadout(s.session)
	}
	if _, err := s.readout.Poll(); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	family, id, present := s.readout.Card()
	if !present {
		c.JSON(http.StatusOK, gin.H{"present": false})
		return
	}
	rec, err := s.readout.Read(time.Time{})
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	if err := s.readout.Ack(); err != nil {
		log.Printf("Warning: card acknowledge failed: %v", err)
	}
	c.JSON(http.StatusOK, gin.H{
		"present": true,
		"family":  family.String(),
		"card_id": id,
		"card":    rec,
	})
}

func (s *server) handleHealth(c *gin.Context) {
	cpuPercent, _ := cpu.Percent(0, false)
	vm, _ := mem.VirtualMemory()

	health := gin.H{"status": "ok"}
	if len(cpuPercent) > 0 {
		health["cpu_percent"] = cpuPercent[0]
	}
	if vm != nil {
		health["mem_percent"] = vm.UsedPercent
	}
	s.mu.Lock()
	health["station_code"] = s.session.StationCode()
	s.mu.Unlock()
	c.JSON(http.StatusOK, health)
}
