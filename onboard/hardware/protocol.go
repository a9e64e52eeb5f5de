package hardware

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Line protocol spoken by the motor MCU. Every request is a single line and is
// answered by a single line that starts with the request's first token, so a late
// reply can never be taken for the answer to a later request.
//
//	V              -> V <semver> | V DEV
//	E<i>           -> E<i> <cumulative count>
//	M<i> <d> <p>   -> M<i> OK     (d is F, R or C; p is duty in permille)
//	any            -> <tag> ERR <reason>
const (
	MCU_CMD_VERSION = "V"
	MCU_CMD_ENCODER = "E"
	MCU_CMD_MOTOR   = "M"
	MCU_RESP_OK     = "OK"
	MCU_RESP_ERR    = "ERR"

	MCU_MAX_RETRIES     = 5
	MCU_CONNECT_RETRIES = 50
	MCU_READ_TIMEOUT    = time.Millisecond
	// each cycle makes four queries, so 4*(budget+read timeout) stays inside a 20 ms period
	MCU_QUERY_BUDGET   = 3 * time.Millisecond
	MCU_CONNECT_BUDGET = 250 * time.Millisecond
	MCU_PERMILLE       = 1000
)

var (
	ERR_MCU_MAX_RETRIES = errors.New("MCU_MAX_RETRIES reached while waiting for a response")
	ERR_MCU_BUDGET      = errors.New("motor mcu did not answer within the query budget")
	ERR_MCU_EMPTY       = errors.New("empty response from motor mcu")
)

type MCUError struct {
	Request string
	Reason  string
}

func (err MCUError) Error() string {
	return fmt.Sprintf("motor mcu rejected %q: %s", err.Request, err.Reason)
}

func encoderRequest(index int) string {
	return fmt.Sprintf("%s%d", MCU_CMD_ENCODER, index)
}

func motorRequest(index int, cmd OutputCommand) string {
	var dir string
	switch cmd.Direction {
	case Forward:
		dir = "F"
	case Reverse:
		dir = "R"
	default:
		dir = "C"
	}

	permille := int(math.Round(cmd.Duty * MCU_PERMILLE))
	if dir == "C" {
		permille = 0
	}

	return fmt.Sprintf("%s%d %s %d", MCU_CMD_MOTOR, index, dir, permille)
}

func requestTag(request string) string {
	if i := strings.IndexByte(request, ' '); i >= 0 {
		return request[:i]
	}
	return request
}

// parseResponse checks whether line answers request. A line for another request is
// reported as unmatched. An ERR reply becomes an MCUError.
func parseResponse(request, line string) (resp string, matched bool, err error) {
	line = strings.TrimSpace(line)
	if requestTag(line) != requestTag(request) {
		return "", false, nil
	}

	resp = strings.TrimSpace(strings.TrimPrefix(line, requestTag(line)))
	if len(resp) == 0 {
		return "", true, ERR_MCU_EMPTY
	}

	if strings.HasPrefix(resp, MCU_RESP_ERR) {
		return "", true, MCUError{
			Request: request,
			Reason:  strings.TrimSpace(strings.TrimPrefix(resp, MCU_RESP_ERR)),
		}
	}

	return resp, true, nil
}

func parseCount(resp string) (uint64, error) {
	count, err := strconv.ParseUint(resp, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid encoder count %q: %v", resp, err)
	}
	return count, nil
}
