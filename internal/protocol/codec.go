// Package protocol decodes the line protocol spoken by the classroom bridge
// device. One line carries one status broadcast:
//
//	<role>,<studentId>,<statusCode>[,<ignored...>]
//
// Decoding is pure and side-effect free; invalid lines yield a classified
// rejection so the caller can log and drop them without stopping the stream.
package protocol

import (
	"strconv"
	"strings"
	"time"

	"github.com/qubelab/qube-monitor/internal/models"
)

const (
	// MinStudentID and MaxStudentID bound the 6-digit student identifiers.
	MinStudentID = 100000
	MaxStudentID = 999999

	// rolePrefix marks broadcasts originating from student devices. The
	// firmware appends variant suffixes, so only the prefix is checked.
	rolePrefix = "L"

	minFields = 3
)

// RejectReason classifies why a line was dropped.
type RejectReason string

const (
	RejectMalformedLine     RejectReason = "malformed_line"
	RejectUnrecognizedRole  RejectReason = "unrecognized_role"
	RejectInvalidStudentID  RejectReason = "invalid_student_id"
	RejectUnknownStatusCode RejectReason = "unknown_status_code"
)

// RejectError reports a dropped line together with its classification.
type RejectError struct {
	Reason RejectReason
	Line   string
}

func (e *RejectError) Error() string {
	return string(e.Reason) + ": " + e.Line
}

// Decode validates one raw line and produces a typed event stamped with the
// given receive time. Checks run in order and the first failure wins.
func Decode(line string, receivedAt time.Time) (models.DecodedEvent, error) {
	parts := strings.Split(line, ",")
	if len(parts) < minFields {
		return models.DecodedEvent{}, &RejectError{Reason: RejectMalformedLine, Line: line}
	}

	role := strings.TrimSpace(parts[0])
	if !strings.HasPrefix(role, rolePrefix) {
		return models.DecodedEvent{}, &RejectError{Reason: RejectUnrecognizedRole, Line: line}
	}

	id, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil || id < MinStudentID || id > MaxStudentID {
		return models.DecodedEvent{}, &RejectError{Reason: RejectInvalidStudentID, Line: line}
	}

	code := models.StatusCode(strings.TrimSpace(parts[2]))
	switch code {
	case models.StatusAvailable, models.StatusQuestion, models.StatusHelpNeeded:
	default:
		return models.DecodedEvent{}, &RejectError{Reason: RejectUnknownStatusCode, Line: line}
	}

	return models.DecodedEvent{StudentID: id, Code: code, ReceivedAt: receivedAt}, nil
}
