package dto

import "github.com/qubelab/qube-monitor/internal/models"

// BoardRow is one student row on the teacher's board: the status record plus
// the waiting duration when the status is an active one.
type BoardRow struct {
	models.StatusRecord
	Duration *models.StatusDuration `json:"duration,omitempty"`
}

// BoardView is the full ordered board with roster counters.
type BoardView struct {
	Rows   []BoardRow          `json:"rows"`
	Counts models.RosterCounts `json:"counts"`
}
