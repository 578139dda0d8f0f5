package types

import (
	"strings"
	"testing"

	"github.com/goccy/go-json"
)

func TestNewSecurityReport_EncodesEmptyLists(t *testing.T) {
	data, err := json.Marshal(NewSecurityReport())
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	body := string(data)
	for _, want := range []string{
		`"current_sessions":[]`,
		`"recent_logins":[]`,
		`"failed_logins":[]`,
		`"failed_login_summary":{"total":0,"top_ips":[]}`,
		`"sudo_events":[]`,
		`"auth_log_path":null`,
		`"errors":[]`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("encoded report missing %s: %s", want, body)
		}
	}
}

func TestRawLoginEntry(t *testing.T) {
	e := RawLoginEntry("alice pts/0 Mon Jan 1")
	if !e.IsRaw() {
		t.Fatal("raw entry should report IsRaw")
	}
	data, err := json.Marshal(e)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	want := `{"user":null,"tty":null,"host":null,"login":null,"logout":null,"duration":null,"still_logged_in":null,"raw":"alice pts/0 Mon Jan 1"}`
	if string(data) != want {
		t.Errorf("raw entry JSON:\n got %s\nwant %s", data, want)
	}
}

func TestLoginHistoryEntry_ParsedIsNotRaw(t *testing.T) {
	still := true
	e := LoginHistoryEntry{User: StringPtr("alice"), TTY: StringPtr("pts/0"), StillLoggedIn: &still, Raw: StringPtr("x")}
	if e.IsRaw() {
		t.Error("parsed entry should not report IsRaw")
	}
}
