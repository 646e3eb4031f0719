package protocol

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qubelab/qube-monitor/internal/models"
)

func TestDecodeAcceptsValidLine(t *testing.T) {
	now := time.Now()
	event, err := Decode("L,123456,R", now)
	require.NoError(t, err)
	assert.Equal(t, 123456, event.StudentID)
	assert.Equal(t, models.StatusHelpNeeded, event.Code)
	assert.Equal(t, now, event.ReceivedAt)
}

func TestDecodeAcceptsRoleVariantsAndExtraFields(t *testing.T) {
	event, err := Decode("L2,234567,G,rssi=-42,seq=9", time.Now())
	require.NoError(t, err)
	assert.Equal(t, 234567, event.StudentID)
	assert.Equal(t, models.StatusAvailable, event.Code)
}

func TestDecodeTrimsFieldWhitespace(t *testing.T) {
	event, err := Decode(" L , 345678 , V ", time.Now())
	require.NoError(t, err)
	assert.Equal(t, 345678, event.StudentID)
	assert.Equal(t, models.StatusQuestion, event.Code)
}

func TestDecodeRejections(t *testing.T) {
	cases := []struct {
		name   string
		line   string
		reason RejectReason
	}{
		{"too few fields", "L,123456", RejectMalformedLine},
		{"empty line", "", RejectMalformedLine},
		{"bad role", "X,123456,R", RejectUnrecognizedRole},
		{"id too short", "L,42,R", RejectInvalidStudentID},
		{"id too long", "L,1000000,R", RejectInvalidStudentID},
		{"id not numeric", "L,abcdef,R", RejectInvalidStudentID},
		{"unknown code", "L,123456,Z", RejectUnknownStatusCode},
		{"lowercase code", "L,123456,g", RejectUnknownStatusCode},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Decode(tc.line, time.Now())
			require.Error(t, err)
			var reject *RejectError
			require.True(t, errors.As(err, &reject))
			assert.Equal(t, tc.reason, reject.Reason)
		})
	}
}

func TestDecodeBoundaryStudentIDs(t *testing.T) {
	for _, id := range []string{"100000", "999999"} {
		_, err := Decode("L,"+id+",G", time.Now())
		assert.NoError(t, err, id)
	}
	for _, id := range []string{"99999", "1000000"} {
		_, err := Decode("L,"+id+",G", time.Now())
		assert.Error(t, err, id)
	}
}
