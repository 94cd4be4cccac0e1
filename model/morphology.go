package model

import "github.com/signalsfoundry/lfp-tracker/core"

// SectionDefinition is one unbranched cable section.
type SectionDefinition struct {
	Name     string
	Start    core.Vec3 // µm
	End      core.Vec3 // µm
	Diameter float64   // µm
	NSeg     int       // number of segments; at least 1
}

// DriveDefinition parameterises the synthetic membrane current of a cell:
// a sinusoid travelling along the cell's path length.
type DriveDefinition struct {
	AmplitudeNA  float64 // peak segment current, nA
	FrequencyHz  float64
	WavelengthUm float64 // 0 means all segments in phase
	PhaseRad     float64
}

// CellDefinition is a multicompartment cell made of sections listed in
// traversal order.
type CellDefinition struct {
	ID       string
	Sections []SectionDefinition
	Drive    DriveDefinition
}

// ElectrodeDefinition describes one recording site and the tracker that
// reads it.
type ElectrodeDefinition struct {
	Name           string
	Position       core.Vec3 // µm
	Sigma          float64   // S/m
	Scheme         string    // PSA | LSA | RC
	Mode           string    // areaScaled | fastImem
	SamplePeriodMs float64
	Verbose        bool
	AxialFallback  bool
	// Cells restricts the tracker to these cell IDs; empty means all.
	Cells []string
}
