package serialmux

import "strings"

// Line kinds emitted by the hardware monitor.
const (
	LineFrame   = "frame"   // one JSON telemetry frame
	LineAck     = "ack"     // command acknowledgement ("OK ...")
	LineError   = "error"   // command rejection ("ERR ...")
	LineUnknown = "unknown" // banners, debug chatter
)

// ClassifyLine returns the kind of a monitor line without decoding it.
func ClassifyLine(line string) string {
	line = strings.TrimSpace(line)
	switch {
	case strings.HasPrefix(line, "{") && strings.HasSuffix(line, "}"):
		return LineFrame
	case line == "OK" || strings.HasPrefix(line, "OK "):
		return LineAck
	case strings.HasPrefix(line, "ERR"):
		return LineError
	default:
		return LineUnknown
	}
}
