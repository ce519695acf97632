package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrorRecord is the durable trace of a failed processing attempt. Its
// timestamps mark the failure, not the original ingress.
type ErrorRecord struct {
	ID           string `json:"id"`
	UnixTS       int64  `json:"unix_ts"`
	ISOTS        string `json:"iso_ts"`
	InputData    string `json:"input_data"`
	ErrorMessage string `json:"error_message"`
}

// NewErrorRecord captures the in-flight message and the error. The error is
// formatted with %+v so errors carrying a stack trace render it.
func NewErrorRecord(input string, err error) *ErrorRecord {
	now := time.Now().UTC()
	msg := ""
	if err != nil {
		msg = fmt.Sprintf("%+v", err)
	}
	return &ErrorRecord{
		ID:           uuid.NewString(),
		UnixTS:       now.Unix(),
		ISOTS:        now.Format(time.RFC3339Nano),
		InputData:    input,
		ErrorMessage: msg,
	}
}
