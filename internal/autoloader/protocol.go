package autoloader

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"autorip/internal/config"
	"autorip/internal/services"
)

const (
	// ESC prefixes every outbound command and decodes to '+'.
	ESC byte = 0x1B
	// EOT terminates a response frame and decodes to '='.
	EOT byte = 0x04

	// StatusProbe asks the robot for its fault state.
	StatusProbe = "!e1C"

	statusReady       = "+!e1000000C"
	statusBayDoor     = "+!e1005000C"
	statusDoorOpen    = "+!e1006000C"
	pickAck           = "+!f11C"
	noDiscCode        = "+!f10C"
	binEmptySentinel  = "+!f01036000C"
	binErrorSentinel  = "+!f01365534C"
	offsetStart       = 6
	offsetEnd         = 10
	binProbePrefix    = "!f020"
	binTransferPrefix = "!f120"
)

// Status is the classified result of a status probe.
type Status int

const (
	StatusUnexpected Status = iota
	StatusReady
	StatusBayDoorFault
	StatusDoorOpenFault
)

func (s Status) String() string {
	switch s {
	case StatusReady:
		return "ready"
	case StatusBayDoorFault:
		return "bay_door"
	case StatusDoorOpenFault:
		return "door_open"
	default:
		return "unexpected"
	}
}

// IsFault reports whether the status blocks command execution.
func (s Status) IsFault() bool {
	return s == StatusBayDoorFault || s == StatusDoorOpenFault
}

// ClassifyStatus maps a decoded status response to a Status. A trailing EOT
// marker is ignored; anything other than the three known literals is
// unexpected.
func ClassifyStatus(response string) Status {
	switch strings.TrimSuffix(strings.TrimSpace(response), "=") {
	case statusReady:
		return StatusReady
	case statusBayDoor:
		return StatusBayDoorFault
	case statusDoorOpen:
		return StatusDoorOpenFault
	default:
		return StatusUnexpected
	}
}

// Decode converts a raw frame to its printable form: ESC becomes '+', EOT
// becomes '=', and surrounding whitespace is trimmed.
func Decode(raw []byte) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, c := range raw {
		switch c {
		case ESC:
			b.WriteByte('+')
		case EOT:
			b.WriteByte('=')
		default:
			b.WriteByte(c)
		}
	}
	return strings.TrimSpace(b.String())
}

// Encode frames a command for the wire.
func Encode(command string) []byte {
	frame := make([]byte, 0, len(command)+1)
	frame = append(frame, ESC)
	return append(frame, command...)
}

// Wire commands. Bins and bays are zero-based on the wire; callers pass
// one-based bin indices and configured bay addresses.

// BinProbeCommand queries the stack offset of a bin.
func BinProbeCommand(bin int) string { return fmt.Sprintf("!f020%dC", bin-1) }

// BinPickCommand grabs the top disc from a bin.
func BinPickCommand(bin int) string { return fmt.Sprintf("!f120%d2C", bin-1) }

// BinPlaceCommand drops the held disc into a bin.
func BinPlaceCommand(bin int) string { return fmt.Sprintf("!f120%d1C", bin-1) }

// MoveToDriveCommand positions the arm at a drive bay.
func MoveToDriveCommand(bay int) string { return fmt.Sprintf("!f124%d0C", bay) }

// DrivePlaceCommand drops the held disc into an open drive tray.
func DrivePlaceCommand(bay int) string { return fmt.Sprintf("!f124%d1C", bay) }

// DrivePickCommand grabs the disc from an open drive tray.
func DrivePickCommand(bay int) string { return fmt.Sprintf("!f124%d2C", bay) }

// binFromCommand returns the one-based bin a probe or pick command targets.
// Place commands are excluded because the arm holds a disc while they fault.
func binFromCommand(command string) (int, bool) {
	var digits string
	switch {
	case strings.HasPrefix(command, binProbePrefix) && len(command) == len(binProbePrefix)+2:
		digits = command[len(binProbePrefix) : len(binProbePrefix)+1]
	case strings.HasPrefix(command, binTransferPrefix) && strings.HasSuffix(command, "2C") && len(command) == len(binTransferPrefix)+3:
		digits = command[len(binTransferPrefix) : len(binTransferPrefix)+1]
	default:
		return 0, false
	}
	n, err := strconv.Atoi(digits)
	if err != nil {
		return 0, false
	}
	return n + 1, true
}

// PickAcknowledged reports the outcome of a bin pick. It returns false only
// when the no-disc code is present without the pick acknowledgement.
func PickAcknowledged(response string) bool {
	if strings.Contains(response, pickAck) {
		return true
	}
	return !strings.Contains(response, noDiscCode)
}

// IsBinErrorSentinel reports whether a probe response is the bin error code.
func IsBinErrorSentinel(response string) bool {
	return strings.HasPrefix(strings.TrimSpace(response), binErrorSentinel)
}

// ParseOffset extracts the four-digit stack offset from a probe response.
func ParseOffset(response string) (int, error) {
	response = strings.TrimSpace(response)
	if len(response) < offsetEnd {
		return 0, services.Wrap(services.ErrParseFault, "inventory", "parse offset",
			fmt.Sprintf("response %q too short", response), nil)
	}
	offset, err := strconv.Atoi(response[offsetStart:offsetEnd])
	if err != nil {
		return 0, services.Wrap(services.ErrParseFault, "inventory", "parse offset",
			fmt.Sprintf("response %q", response), err)
	}
	return offset, nil
}

// CountDiscs converts a bin probe response into a disc count.
//
// The empty sentinel yields zero and the error sentinel yields an inventory
// fault. Otherwise the count is capacity minus the whole number of disc
// heights the offset sits above the calibrated empty-stack offset, clamped
// to [0, capacity].
func CountDiscs(response string, capacity int, cal config.Calibration) (int, error) {
	response = strings.TrimSpace(response)
	if strings.HasPrefix(response, binEmptySentinel) {
		return 0, nil
	}
	if strings.HasPrefix(response, binErrorSentinel) {
		return 0, services.Wrap(services.ErrInventoryFault, "inventory", "count", "bin reported error code", nil)
	}
	if cal.DiscHeight <= 0 {
		return 0, services.Wrap(services.ErrConfiguration, "inventory", "count", "disc height must be positive", nil)
	}
	offset, err := ParseOffset(response)
	if err != nil {
		return 0, err
	}
	return countFromOffset(offset, capacity, cal), nil
}

func countFromOffset(offset, capacity int, cal config.Calibration) int {
	above := math.Floor((float64(offset) - cal.DefaultOffset) / cal.DiscHeight)
	if above < 0 {
		above = 0
	}
	count := capacity - int(math.Min(above, float64(capacity)))
	if count < 0 {
		return 0
	}
	if count > capacity {
		return capacity
	}
	return count
}
