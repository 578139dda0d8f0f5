package authlog

import (
	"regexp"
	"sort"
	"strings"

	"github.com/invisible-tech/hostauth-sensor/internal/types"
)

// TopIPCount is the number of source addresses reported in the ranking.
const TopIPCount = 5

// Lines are only matched against the patterns when they contain one of these.
var failedLoginMarkers = []string{"Failed password", "Invalid user"}

// failedLoginPatterns are tried in order; the first match wins.
var failedLoginPatterns = []*regexp.Regexp{
	regexp.MustCompile(`Failed password for (?:invalid user )?(?P<user>\S+) from (?P<ip>\S+)`),
	regexp.MustCompile(`Invalid user (?P<user>\S+) from (?P<ip>\S+)`),
}

type failedLoginMatch struct {
	user string
	ip   string
}

func matchFailedLogin(line string) (failedLoginMatch, bool) {
	for _, re := range failedLoginPatterns {
		m := re.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		return failedLoginMatch{
			user: m[re.SubexpIndex("user")],
			ip:   m[re.SubexpIndex("ip")],
		}, true
	}
	return failedLoginMatch{}, false
}

// ExtractFailedLogins returns the last limit failed login events in file order
// and the top source addresses ranked over every match in lines.
func ExtractFailedLogins(lines []string, limit int) ([]types.FailedLoginEvent, []types.IPFrequency) {
	events := []types.FailedLoginEvent{}
	counter := newIPCounter()

	for _, line := range lines {
		if !containsAny(line, failedLoginMarkers) {
			continue
		}
		m, ok := matchFailedLogin(line)
		if !ok {
			continue
		}
		counter.add(m.ip)
		events = append(events, types.FailedLoginEvent{
			Timestamp: syslogTimestamp(line),
			User:      m.user,
			IP:        m.ip,
			Message:   strings.TrimSpace(line),
		})
	}

	return lastN(events, limit), counter.top(TopIPCount)
}

// ipCounter counts addresses while remembering the order they were first seen.
type ipCounter struct {
	order  []string
	counts map[string]int
}

func newIPCounter() *ipCounter {
	return &ipCounter{counts: make(map[string]int)}
}

func (c *ipCounter) add(ip string) {
	if _, ok := c.counts[ip]; !ok {
		c.order = append(c.order, ip)
	}
	c.counts[ip]++
}

// top ranks by count descending; equal counts keep first-seen order.
func (c *ipCounter) top(n int) []types.IPFrequency {
	ranked := make([]types.IPFrequency, 0, len(c.order))
	for _, ip := range c.order {
		ranked = append(ranked, types.IPFrequency{IP: ip, Count: c.counts[ip]})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Count > ranked[j].Count
	})
	if len(ranked) > n {
		ranked = ranked[:n]
	}
	return ranked
}

// syslogTimestamp returns the first three whitespace tokens of a syslog line.
func syslogTimestamp(line string) *string {
	parts := strings.Fields(line)
	if len(parts) < 3 {
		return nil
	}
	ts := parts[0] + " " + parts[1] + " " + parts[2]
	return &ts
}

func containsAny(s string, substrs []string) bool {
	for _, sub := range substrs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// lastN returns the trailing n elements of s. n <= 0 yields an empty slice.
func lastN[T any](s []T, n int) []T {
	if n <= 0 {
		return s[:0]
	}
	if len(s) > n {
		return s[len(s)-n:]
	}
	return s
}
