package dto

// ConnectRequest selects a serial port to connect to.
type ConnectRequest struct {
	Port string `json:"port" validate:"required"`
}

// InjectRequest feeds a simulated protocol line into the pipeline.
type InjectRequest struct {
	Line string `json:"line" validate:"required"`
}

// RosterUpdateRequest carries the roster text block, one entry per line,
// formatted "123456" or "123456:Display Name".
type RosterUpdateRequest struct {
	Roster string `json:"roster"`
}

// LogFilterRequest toggles visibility of one log category.
type LogFilterRequest struct {
	Category string `json:"category" validate:"required"`
	Enabled  bool   `json:"enabled"`
}

// ExportRequest selects the artifact format for a stored log export.
type ExportRequest struct {
	Format string `json:"format" validate:"omitempty,oneof=txt pdf"`
}
