// internal/export/export.go
// Package export writes station data to CSV files compatible with the
// ones SPORTident Config+ produces.
package export

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"time"

	"sidriver/internal/driver/station"
)

// Meta describes the station a backup was read from.
type Meta struct {
	Code     uint16
	SerialNo uint32
	Mode     string
	ReadTime time.Time
}

var weekdayShort = []string{"Su", "Mo", "Tu", "We", "Th", "Fr", "Sa"}

// backupHeader mirrors the Config+ column set, including the SIAC
// columns this driver never fills.
var backupHeader = []string{
	"No", "Read on", "SIID", "Control time", "Battery voltage",
	"Serial number", "Code number", "DayOfWeek", "Punch DateTime",
	"Operating mode", "SIAC number", "SIAC Count", "SIAC radio mode",
	"SIAC is battery low", "SIAC is card full", "SIAC beacon mode",
	"SIAC is gate mode", "",
}

// WriteBackupCSV writes backup records to a CSV file. An empty filename
// derives one as <code>_<mode>_<serial>.csv. Returns the filename used.
func WriteBackupCSV(records []station.BackupRecord, meta Meta, filename string) (string, error) {
	if filename == "" {
		filename = fmt.Sprintf("%d_%s_%d.csv", meta.Code, meta.Mode, meta.SerialNo)
	}
	f, err := os.Create(filename)
	if err != nil {
		return "", fmt.Errorf("export: create %q: %w", filename, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	w.Comma = ';'
	if err := w.Write(backupHeader); err != nil {
		return "", fmt.Errorf("export: write header: %w", err)
	}

	readTime := meta.ReadTime
	if readTime.IsZero() {
		readTime = time.Now()
	}
	readStr := readTime.Format("2006-01-02 15:04:05")
	codeStr := strconv.Itoa(int(meta.Code))

	for i, rec := range records {
		dateStr := rec.Time.Format("2006-01-02   15:04:05.000")
		var dayName, timeStr string
		if rec.Error == "" {
			dayName = weekdayShort[int(rec.Time.Weekday())]
			timeStr = rec.Time.Format("15:04:05.000")
		} else {
			dateStr = rec.Time.Format("2006-01-02   ") + rec.Error
			timeStr = "00:00:00"
		}
		row := []string{
			strconv.Itoa(i + 1), readStr, strconv.Itoa(int(rec.CardNumber)),
			dateStr, "", "", codeStr, dayName, timeStr, meta.Mode,
			"0", "1", "", "", "", "", "", "",
		}
		if err := w.Write(row); err != nil {
			return "", fmt.Errorf("export: write row %d: %w", i+1, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("export: flush: %w", err)
	}
	return filename, nil
}

// SaveSysval writes a raw system-value image to a CSV file, one
// offset/value pair per row in decimal. An empty filename derives one
// from the station code and the current time. Returns the filename.
func SaveSysval(image []byte, code uint16, filename string) (string, error) {
	if filename == "" {
		filename = fmt.Sprintf("%d_%s_sysval.csv", code, time.Now().Format("2006-01-02_15.04.05"))
	}
	f, err := os.Create(filename)
	if err != nil {
		return "", fmt.Errorf("export: create %q: %w", filename, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	w.Comma = ';'
	if err := w.Write([]string{"Offset", "Value"}); err != nil {
		return "", fmt.Errorf("export: write header: %w", err)
	}
	for off, b := range image {
		if err := w.Write([]string{strconv.Itoa(off), strconv.Itoa(int(b))}); err != nil {
			return "", fmt.Errorf("export: write offset %d: %w", off, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("export: flush: %w", err)
	}
	return filename, nil
}
