package authlog

import (
	"regexp"
	"strings"

	"github.com/invisible-tech/hostauth-sensor/internal/types"
)

const (
	sudoMarker    = "sudo:"
	commandMarker = "COMMAND="
)

var (
	sudoUserPattern    = regexp.MustCompile(`^(\w+)`)
	sudoCommandPattern = regexp.MustCompile(`COMMAND=([^;]+)`)
)

// ExtractSudoEvents returns the last limit sudo command records in file order.
// Lines that qualify but miss a sub-pattern keep a nil user or command.
func ExtractSudoEvents(lines []string, limit int) []types.SudoEvent {
	events := []types.SudoEvent{}
	for _, line := range lines {
		if !strings.Contains(line, sudoMarker) || !strings.Contains(line, commandMarker) {
			continue
		}
		trimmed := strings.TrimSpace(line)
		events = append(events, types.SudoEvent{
			Timestamp: syslogTimestamp(line),
			User:      sudoUser(trimmed),
			Command:   sudoCommand(trimmed),
			Message:   trimmed,
		})
	}
	return lastN(events, limit)
}

// sudoUser reads the identifier that follows the last "sudo:" marker.
func sudoUser(line string) *string {
	idx := strings.LastIndex(line, sudoMarker)
	rest := strings.TrimSpace(line[idx+len(sudoMarker):])
	m := sudoUserPattern.FindStringSubmatch(rest)
	if m == nil {
		return nil
	}
	return &m[1]
}

func sudoCommand(line string) *string {
	m := sudoCommandPattern.FindStringSubmatch(line)
	if m == nil {
		return nil
	}
	cmd := strings.TrimSpace(m[1])
	if cmd == "" {
		return nil
	}
	return &cmd
}
