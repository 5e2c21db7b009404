// SI Driver: host-side driver for SportIdent timing stations
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"sidriver/internal/discovery"
	"sidriver/internal/driver/station"
	"sidriver/internal/export"
	"sidriver/internal/tracelog"
)

var (
	mode     = flag.String("mode", "info", "operation mode: scan, info, backup, readout, settime, beep")
	device   = flag.String("device", "", "serial port (empty = auto-discover)")
	ttys     = flag.Bool("ttys", false, "also scan /dev/ttyS* ports")
	lowspeed = flag.Bool("lowspeed", false, "connect at 4800 baud")
	debug    = flag.Bool("debug", false, "hex-dump frames to the log")
	trace    = flag.String("trace", "", "append wire traffic to this file")
	csvFile  = flag.String("csv", "", "CSV output filename (backup mode; empty = derived)")
	beeps    = flag.Int("beeps", 1, "number of beeps (beep mode)")
)

func main() {
	flag.Parse()

	if *mode == "scan" {
		runScan()
		return
	}

	opts := station.Options{Debug: *debug, LowSpeed: *lowspeed}
	if *trace != "" {
		sink, err := tracelog.Open(*trace)
		if err != nil {
			log.Fatalf("Failed to open trace log: %v", err)
		}
		defer sink.Close()
		opts.Trace = sink
	}

	sess := connect(opts)
	defer sess.Disconnect()

	switch *mode {
	case "info":
		runInfo(sess)
	case "backup":
		runBackup(sess)
	case "readout":
		runReadout(sess)
	case "settime":
		runSetTime(sess)
	case "beep":
		if err := sess.Beep(*beeps); err != nil {
			log.Fatalf("Beep failed: %v", err)
		}
	default:
		log.Fatalf("Unknown mode %q", *mode)
	}
}

func connect(opts station.Options) *station.Session {
	if *device != "" {
		sess, err := station.Open(*device, opts)
		if err != nil {
			log.Fatalf("Failed to connect: %v", err)
		}
		return sess
	}
	ports, err := discovery.CandidatePorts(discovery.Config{IncludeTTYS: *ttys})
	if err != nil {
		log.Fatalf("Port discovery failed: %v", err)
	}
	sess, err := station.OpenAny(ports, opts)
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	return sess
}

func runScan() {
	ports, err := discovery.CandidatePorts(discovery.Config{IncludeTTYS: *ttys})
	if err != nil {
		log.Fatalf("Port discovery failed: %v", err)
	}
	if len(ports) == 0 {
		fmt.Println("no candidate serial ports found")
		return
	}
	found := station.ScanStations(ports, *lowspeed)
	if len(found) == 0 {
		fmt.Println("no stations found")
		return
	}
	for _, hit := range found {
		fmt.Printf("%s\tstation %d\n", hit.Port, hit.Code)
	}
}

func runInfo(sess *station.Session) {
	model, _ := sess.SysModelName()
	firmware, _ := sess.SysFirmwareVersion()
	build, _ := sess.SysBuildDate()
	voltage, _ := sess.SysBatteryVoltage()
	used, _ := sess.SysUsedBatteryPercent()
	memKB, _ := sess.SysMemSizeKB()
	active, _ := sess.SysActiveTime()
	cfg := sess.Config()

	fmt.Printf("port:          %s (%d baud)\n", sess.Port(), sess.Baud())
	fmt.Printf("station code:  %d\n", sess.StationCode())
	fmt.Printf("serial number: %d\n", sess.SerialNumber())
	fmt.Printf("model:         %s\n", model)
	fmt.Printf("firmware:      %s (built %s)\n", firmware, build)
	fmt.Printf("mode:          %s\n", cfg.Mode)
	fmt.Printf("protocol:      extended=%v autosend=%v handshake=%v\n",
		cfg.Extended, cfg.AutoSend, cfg.Handshake)
	fmt.Printf("battery:       %.2f V, %.1f%% used\n", voltage, used*100)
	fmt.Printf("memory:        %d kB\n", memKB)
	fmt.Printf("active time:   %d min\n", active)

	if t, ok, err := sess.GetTime(); err == nil && ok {
		fmt.Printf("station time:  %s (host %s)\n",
			t.Format("2006-01-02 15:04:05"), time.Now().Format("15:04:05"))
	}
}

func runBackup(sess *station.Session) {
	records, err := sess.ReadBackup()
	if err != nil {
		log.Fatalf("Backup read failed: %v", err)
	}
	log.Printf("Read %d punches from backup memory", len(records))

	meta := export.Meta{
		Code:     sess.StationCode(),
		SerialNo: sess.SerialNumber(),
		Mode:     sess.Config().Mode.String(),
		ReadTime: time.Now(),
	}
	name, err := export.WriteBackupCSV(records, meta, *csvFile)
	if err != nil {
		log.Fatalf("CSV write failed: %v", err)
	}
	log.Printf("Wrote %s", name)
}

func runReadout(sess *station.Session) {
	readout := station.NewReadout(sess)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	log.Printf("Waiting for cards, ctrl-c to stop")

	for {
		select {
		case <-quit:
			return
		default:
		}

		changed, err := readout.Poll()
		if err != nil {
			log.Fatalf("Poll failed: %v", err)
		}
		if !changed {
			time.Sleep(200 * time.Millisecond)
			continue
		}
		family, id, present := readout.Card()
		if !present {
			log.Printf("Card removed")
			continue
		}
		log.Printf("Card %d inserted (%s)", id, family)

		rec, err := readout.Read(time.Time{})
		if err != nil {
			log.Printf("Readout failed: %v", err)
			continue
		}
		if err := readout.Ack(); err != nil {
			log.Printf("Warning: acknowledge failed: %v", err)
		}

		fmt.Printf("card %d: %d punches\n", rec.CardNumber, len(rec.Punches))
		if rec.Start != nil {
			fmt.Printf("  start  %s\n", rec.Start.Format("15:04:05"))
		}
		for _, p := range rec.Punches {
			fmt.Printf("  %4d   %s\n", p.Code, p.Time.Format("15:04:05"))
		}
		if rec.Finish != nil {
			fmt.Printf("  finish %s\n", rec.Finish.Format("15:04:05"))
		}
	}
}

func runSetTime(sess *station.Session) {
	now := time.Now()
	if err := sess.SetTime(now); err != nil {
		log.Fatalf("Set time failed: %v", err)
	}
	if t, ok, err := sess.GetTime(); err == nil && ok {
		log.Printf("Station time set, now reads %s (drift %v)",
			t.Format("15:04:05.000"), time.Since(t).Round(time.Millisecond))
	}
}
