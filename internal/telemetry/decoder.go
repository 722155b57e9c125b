// Package telemetry decodes the line-oriented status frames emitted by the
// rig microcontroller.
//
// A data frame has exactly seven comma separated fields in fixed order:
//
//	L:<level>,P:<psi>,F:<lpm>,S1:<0|1>,S2:<0|1>,S3:<0|1>,S4:<0|1>
//
// S1..S4 are pump 1, pump 2, valve 1 and valve 2.
package telemetry

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/speedwagon-io/tankgate/internal/model"
)

type Kind int

const (
	KindEmpty Kind = iota
	KindData
	KindInformational
	KindMalformed
)

func (k Kind) String() string {
	switch k {
	case KindEmpty:
		return "empty"
	case KindData:
		return "data"
	case KindInformational:
		return "informational"
	case KindMalformed:
		return "malformed"
	default:
		return "unknown"
	}
}

const (
	PrefixAck   = "CMD_ACK:"
	PrefixErr   = "CMD_ERR:"
	BootBanner  = "TANK CONTROLLER READY"
	fieldsCount = 7
)

var ErrMalformed = errors.New("malformed telemetry frame")

// Numeric fields are plain fixed-point decimals; exponent, explicit plus,
// hex and named values are rejected.
var decimalRe = regexp.MustCompile(`^-?[0-9]+(\.[0-9]+)?$`)

var fieldTags = [fieldsCount]string{"L", "P", "F", "S1", "S2", "S3", "S4"}

// Result is the classification of one line. Reading is set only for
// KindData, Err only for KindMalformed.
type Result struct {
	Kind    Kind
	Reading model.Reading
	Line    string
	Err     error
}

// Decode classifies a single line. It holds no state.
func Decode(line string) Result {
	return decodeAt(line, time.Now())
}

func decodeAt(line string, now time.Time) Result {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return Result{Kind: KindEmpty}
	}

	if isInformational(trimmed) {
		return Result{Kind: KindInformational, Line: trimmed}
	}

	reading, err := parseFrame(trimmed)
	if err != nil {
		return Result{Kind: KindMalformed, Line: trimmed, Err: err}
	}
	reading.CapturedAt = now

	return Result{Kind: KindData, Reading: reading, Line: trimmed}
}

func isInformational(line string) bool {
	return strings.HasPrefix(line, PrefixAck) ||
		strings.HasPrefix(line, PrefixErr) ||
		strings.EqualFold(line, BootBanner)
}

func parseFrame(line string) (model.Reading, error) {
	parts := strings.Split(line, ",")
	if len(parts) != fieldsCount {
		return model.Reading{}, fmt.Errorf("%w: expected %d fields, got %d", ErrMalformed, fieldsCount, len(parts))
	}

	values := make([]string, fieldsCount)
	for i, part := range parts {
		tag, value, ok := strings.Cut(part, ":")
		if !ok || tag != fieldTags[i] {
			return model.Reading{}, fmt.Errorf("%w: field %d: expected tag %q in %q", ErrMalformed, i+1, fieldTags[i], part)
		}
		values[i] = value
	}

	var (
		r   model.Reading
		err error
	)

	if r.WaterLevelPercent, err = toFloat(fieldTags[0], values[0]); err != nil {
		return model.Reading{}, err
	}
	if r.PressurePSI, err = toFloat(fieldTags[1], values[1]); err != nil {
		return model.Reading{}, err
	}
	if r.FlowRateLPM, err = toFloat(fieldTags[2], values[2]); err != nil {
		return model.Reading{}, err
	}
	if r.Pump1On, err = toFlag(fieldTags[3], values[3]); err != nil {
		return model.Reading{}, err
	}
	if r.Pump2On, err = toFlag(fieldTags[4], values[4]); err != nil {
		return model.Reading{}, err
	}
	if r.Valve1Open, err = toFlag(fieldTags[5], values[5]); err != nil {
		return model.Reading{}, err
	}
	if r.Valve2Open, err = toFlag(fieldTags[6], values[6]); err != nil {
		return model.Reading{}, err
	}

	return r, nil
}

func toFloat(tag, v string) (float64, error) {
	if !decimalRe.MatchString(v) {
		return 0, fmt.Errorf("%w: %s: expected fixed-point decimal, got %q", ErrMalformed, tag, v)
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrMalformed, tag, err)
	}
	return f, nil
}

func toFlag(tag, v string) (bool, error) {
	switch v {
	case "0":
		return false, nil
	case "1":
		return true, nil
	default:
		return false, fmt.Errorf("%w: %s: expected 0 or 1, got %q", ErrMalformed, tag, v)
	}
}
