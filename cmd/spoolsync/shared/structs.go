package shared

import "fmt"

// TagRecord is the decoded content of a spool tag. A nil field means the tag
// did not carry that record; zero is a valid value and is never used to signal
// absence.
type TagRecord struct {
	SpoolID    *int
	FilamentID *int
}

func (r TagRecord) String() string {
	s := "unset"
	if r.SpoolID != nil {
		s = fmt.Sprintf("%d", *r.SpoolID)
	}
	f := "unset"
	if r.FilamentID != nil {
		f = fmt.Sprintf("%d", *r.FilamentID)
	}
	return fmt.Sprintf("spool=%s filament=%s", s, f)
}

// Complete reports whether both records were present on the tag.
func (r TagRecord) Complete() bool {
	return r.SpoolID != nil && r.FilamentID != nil
}

// Vendor is the manufacturer of a filament, as reported by spoolman.
type Vendor struct {
	Name string `json:"name"`
}

// Filament is a filament type registered in spoolman.
type Filament struct {
	ID       int    `json:"id"`
	Name     string `json:"name"`
	Material string `json:"material"`
	Vendor   Vendor `json:"vendor"`
}

// Spool is a single spool entry from the spoolman inventory.
type Spool struct {
	ID       int      `json:"id"`
	Archived bool     `json:"archived"`
	Filament Filament `json:"filament"`
}
