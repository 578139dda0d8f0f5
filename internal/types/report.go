// Package types defines the security report returned by the sensor API and
// the normalized authentication events it is built from.
package types

// FailedLoginEvent is one failed authentication attempt found in the auth log.
// Timestamp is the first three whitespace tokens of the syslog line, unparsed.
type FailedLoginEvent struct {
	Timestamp *string `json:"timestamp"`
	User      string  `json:"user"`
	IP        string  `json:"ip"`
	Message   string  `json:"message"`
}

// SudoEvent is one privilege-escalation command record. User and Command are
// nil when the line qualified but the sub-pattern did not match.
type SudoEvent struct {
	Timestamp *string `json:"timestamp"`
	User      *string `json:"user"`
	Command   *string `json:"command"`
	Message   string  `json:"message"`
}

// IPFrequency counts failed attempts from one source address.
type IPFrequency struct {
	IP    string `json:"ip"`
	Count int    `json:"count"`
}

// FailedLoginSummary accompanies the failed login detail list.
// Total is the length of the returned list; TopIPs is ranked over the whole
// scanned tail window.
type FailedLoginSummary struct {
	Total  int           `json:"total"`
	TopIPs []IPFrequency `json:"top_ips"`
}

// Session is an active login reported by the current-sessions command.
type Session struct {
	User      string  `json:"user"`
	TTY       string  `json:"tty"`
	LoginTime string  `json:"login_time"`
	Host      *string `json:"host"`
}

// LoginHistoryEntry is one record of the login-history command. An entry is
// either fully parsed or raw-only; raw-only entries leave every typed field nil.
type LoginHistoryEntry struct {
	User          *string `json:"user"`
	TTY           *string `json:"tty"`
	Host          *string `json:"host"`
	Login         *string `json:"login"`
	Logout        *string `json:"logout"`
	Duration      *string `json:"duration"`
	StillLoggedIn *bool   `json:"still_logged_in"`
	Raw           *string `json:"raw"`
}

// RawLoginEntry wraps a line that could not be parsed with confidence.
func RawLoginEntry(line string) LoginHistoryEntry {
	return LoginHistoryEntry{Raw: &line}
}

// IsRaw reports whether the entry only carries the original text.
func (e LoginHistoryEntry) IsRaw() bool {
	return e.User == nil && e.Raw != nil
}

// SecurityReport aggregates every source. It is rebuilt on each collection.
type SecurityReport struct {
	CurrentSessions    []Session           `json:"current_sessions"`
	RecentLogins       []LoginHistoryEntry `json:"recent_logins"`
	FailedLogins       []FailedLoginEvent  `json:"failed_logins"`
	FailedLoginSummary FailedLoginSummary  `json:"failed_login_summary"`
	SudoEvents         []SudoEvent         `json:"sudo_events"`
	AuthLogPath        *string             `json:"auth_log_path"`
	Errors             []string            `json:"errors"`
}

// NewSecurityReport returns a report with every collection initialized empty
// so that it encodes lists as [] rather than null.
func NewSecurityReport() *SecurityReport {
	return &SecurityReport{
		CurrentSessions: []Session{},
		RecentLogins:    []LoginHistoryEntry{},
		FailedLogins:    []FailedLoginEvent{},
		FailedLoginSummary: FailedLoginSummary{
			TopIPs: []IPFrequency{},
		},
		SudoEvents: []SudoEvent{},
		Errors:     []string{},
	}
}

// StringPtr returns a pointer to s.
func StringPtr(s string) *string {
	return &s
}
