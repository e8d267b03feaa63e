package alert

import (
	"fmt"
	"strings"
	"time"
)

// SourceKind distinguishes alert producers.
type SourceKind string

const (
	SourceHardware SourceKind = "hardware"
	SourceKatSys   SourceKind = "katsys"
	SourceManual   SourceKind = "manual"
)

// Source is a producer of alert candidates: a hardware interface site, a
// KatSys feed or the manual trigger. Several sources may report on the same unit.
type Source struct {
	ID          string     `json:"id"`
	Kind        SourceKind `json:"kind"`
	Description string     `json:"description"`
	LastAlert   time.Time  `json:"last_alert"`
	LastStatus  time.Time  `json:"last_status"`
}

// Candidate is an ephemeral, not yet deduplicated signal from a source.
// Timestamp is the producer clock and may be skewed.
type Candidate struct {
	UnitCode  int                `json:"unit_code"`
	Timestamp time.Time          `json:"timestamp"`
	Info      InformationContent `json:"information_content"`
	Keyword   string             `json:"keyword"`
	Location  string             `json:"location"`
	Message   string             `json:"message"`
	SourceID  string             `json:"source_id"`
}

// Validate rejects candidates the pipeline cannot reason about.
func (c Candidate) Validate() error {
	if c.UnitCode <= 0 {
		return fmt.Errorf("candidate: invalid unit code %d", c.UnitCode)
	}
	if c.Timestamp.IsZero() {
		return fmt.Errorf("candidate: missing timestamp")
	}
	if !c.Info.Valid() {
		return fmt.Errorf("candidate: invalid information content %d", int(c.Info))
	}
	if strings.TrimSpace(c.SourceID) == "" {
		return fmt.Errorf("candidate: missing source")
	}
	return nil
}
