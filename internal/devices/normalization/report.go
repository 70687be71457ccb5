package normalization

import (
	"time"

	"github.com/lvonguyen/mistsync/internal/devices"
)

// Pass names.
const (
	PassInventory = "inventory"
	PassDetail    = "detail"
)

// SkippedItem records one item that produced no record, or only part of one.
type SkippedItem struct {
	Index  int    `json:"index"`
	Serial string `json:"serial,omitempty"`
	Reason string `json:"reason"`
}

// PassReport summarizes one class pass.
type PassReport struct {
	Pass       string             `json:"pass"`
	DeviceType devices.DeviceType `json:"device_type"`
	Items      int                `json:"items"`
	Produced   int                `json:"produced"`
	Skipped    []SkippedItem      `json:"skipped,omitempty"`
	Err        error              `json:"-"`
	Duration   time.Duration      `json:"duration"`
}

// Failed reports whether the stream behind the pass failed.
func (r *PassReport) Failed() bool {
	return r.Err != nil
}

func (r *PassReport) skip(index int, serial string, err error) {
	r.Skipped = append(r.Skipped, SkippedItem{Index: index, Serial: serial, Reason: err.Error()})
}

// Result is the outcome of one engine run.
type Result struct {
	// Devices holds the records that passed the visibility gate.
	Devices map[string]*devices.Device
	// Held counts records kept internally but not emitted.
	Held    int
	Reports []PassReport
}

// Skipped returns the total number of skipped items across passes.
func (r *Result) Skipped() int {
	n := 0
	for _, rep := range r.Reports {
		n += len(rep.Skipped)
	}
	return n
}

// FailedPasses returns the reports whose stream failed.
func (r *Result) FailedPasses() []PassReport {
	var failed []PassReport
	for _, rep := range r.Reports {
		if rep.Failed() {
			failed = append(failed, rep)
		}
	}
	return failed
}
