// Package testutil provides shared test helpers and monitor-line fixtures.
package testutil

import (
	"fmt"
	"strings"
	"testing"

	"github.com/banshee-data/comfort.gate/internal/monitoring"
)

// TickDt is the frame interval of the fixtures, one tick at 90 Hz.
const TickDt = 0.0111

// QuietLogs mutes monitoring.Logf for the duration of the test.
func QuietLogs(t testing.TB) {
	t.Helper()
	prev := monitoring.Logf
	monitoring.SetLogger(nil)
	t.Cleanup(func() { monitoring.Logf = prev })
}

// CaptureLogs routes monitoring.Logf into the returned slice until the test
// ends.
func CaptureLogs(t testing.TB) *[]string {
	t.Helper()
	prev := monitoring.Logf
	lines := &[]string{}
	monitoring.SetLogger(func(format string, v ...interface{}) {
		*lines = append(*lines, fmt.Sprintf(format, v...))
	})
	t.Cleanup(func() { monitoring.Logf = prev })
	return lines
}

// Hardware is the hw object of a monitor frame.
type Hardware struct {
	GPU, CPU, Thermal, Battery float64
}

// CalmHardware is a lightly loaded headset well below every bottleneck.
var CalmHardware = Hardware{GPU: 0.1, CPU: 0.1, Thermal: 0.2, Battery: 0.1}

// FrameLine formats one monitor frame with an explicit dt and a phase array.
func FrameLine(seq int, dt float64, phase [6]float64, hw Hardware) string {
	p := make([]string, len(phase))
	for i, v := range phase {
		p[i] = fmt.Sprint(v)
	}
	return fmt.Sprintf(`{"seq":%d,"dt":%v,"phase":[%s],"hw":{"gpu":%v,"cpu":%v,"thermal":%v,"battery":%v}}`,
		seq, dt, strings.Join(p, ","), hw.GPU, hw.CPU, hw.Thermal, hw.Battery)
}

// CalmFrame is a frame with a still phase vector and calm hardware.
func CalmFrame(seq int) string {
	return FrameLine(seq, TickDt, [6]float64{}, CalmHardware)
}

// CalmFrames returns frames seq 1..n joined by newlines, as read from a
// replay file.
func CalmFrames(n int) string {
	var b strings.Builder
	for i := 1; i <= n; i++ {
		b.WriteString(CalmFrame(i))
		b.WriteByte('\n')
	}
	return b.String()
}

// AssertStatusCode checks that the response status code matches expected.
func AssertStatusCode(t testing.TB, got, want int) {
	t.Helper()
	if got != want {
		t.Errorf("status code = %d, want %d", got, want)
	}
}
