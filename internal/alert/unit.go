// Package alert holds the data model shared by the alerting pipeline:
// units and sources, alert candidates and canonical alerts, groups and sinks,
// and acknowledgement responses.
package alert

import (
	"fmt"
	"strings"
)

// AllAlertsUnitCode is the pseudo unit that subscribes to every alert.
// Oversight and debugging groups use it as a wildcard.
const AllAlertsUnitCode = 10

// InformationContent is how much detail a source could decode from a signal.
// Levels are ordered: NONE < ID < KEYWORD < COMPLETE.
type InformationContent int

const (
	InfoNone InformationContent = iota
	InfoID
	InfoKeyword
	InfoComplete
)

func (i InformationContent) String() string {
	switch i {
	case InfoNone:
		return "NONE"
	case InfoID:
		return "ID"
	case InfoKeyword:
		return "KEYWORD"
	case InfoComplete:
		return "COMPLETE"
	default:
		return fmt.Sprintf("InformationContent(%d)", int(i))
	}
}

// Valid reports whether i is one of the four defined levels.
func (i InformationContent) Valid() bool { return i >= InfoNone && i <= InfoComplete }

// ParseInformationContent accepts level names (case-insensitive) or 0..3.
func ParseInformationContent(s string) (InformationContent, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "NONE", "0":
		return InfoNone, nil
	case "ID", "1":
		return InfoID, nil
	case "KEYWORD", "2":
		return InfoKeyword, nil
	case "COMPLETE", "3", "":
		return InfoComplete, nil
	}
	return InfoNone, fmt.Errorf("invalid information content %q", s)
}

// Unit is an alertable competence, e.g. a response team, identified by an
// externally assigned radio code. The code is immutable once created.
type Unit struct {
	Code      int          `json:"code"`
	Name      string       `json:"name"`
	ShortName string       `json:"short_name"`
	Silent    SilentConfig `json:"silent"`
}

// SyntheticUnit returns the placeholder used when a candidate references a
// code nobody configured yet.
func SyntheticUnit(code int) Unit {
	return Unit{
		Code:      code,
		Name:      fmt.Sprintf("Unit %d", code),
		ShortName: fmt.Sprintf("%d", code),
		Silent:    SilentConfig{Kind: SilentNever},
	}
}

// DisplayName prefers the short name.
func (u Unit) DisplayName() string {
	if strings.TrimSpace(u.ShortName) != "" {
		return u.ShortName
	}
	if strings.TrimSpace(u.Name) != "" {
		return u.Name
	}
	return fmt.Sprintf("%d", u.Code)
}
