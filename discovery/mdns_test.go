package discovery

import (
	"net"
	"testing"

	"github.com/grandcat/zeroconf"
)

func TestAnnounceBuildsExpectedTXTRecords(t *testing.T) {
	var (
		gotInstance string
		gotService  string
		gotDomain   string
		gotPort     int
		gotTXT      []string
	)

	cfg := Config{
		SelfAccountID: "alice@example.com",
		DisplayName:   "Alice",
		Port:          9999,
		registerFn: func(instance, service, domain string, port int, text []string, ifaces []net.Interface) (*zeroconf.Server, error) {
			gotInstance = instance
			gotService = service
			gotDomain = domain
			gotPort = port
			gotTXT = append([]string(nil), text...)
			return nil, nil
		},
	}

	announcer, err := Announce(cfg)
	if err != nil {
		t.Fatalf("Announce failed: %v", err)
	}
	if announcer == nil {
		t.Fatalf("expected announcer instance")
	}
	announcer.Stop()

	if gotInstance != "Alice" {
		t.Fatalf("unexpected instance name: %q", gotInstance)
	}
	if gotService != DefaultService || gotDomain != DefaultDomain {
		t.Fatalf("unexpected service/domain: %q %q", gotService, gotDomain)
	}
	if gotPort != 9999 {
		t.Fatalf("unexpected port: %d", gotPort)
	}

	want := map[string]bool{
		"account_id=alice@example.com": false,
		"version=1":                    false,
		"network=standard":             false,
	}
	for _, record := range gotTXT {
		if _, ok := want[record]; ok {
			want[record] = true
		}
	}
	for record, found := range want {
		if !found {
			t.Fatalf("expected TXT record %q in %v", record, gotTXT)
		}
	}
}

func TestAnnounceRequiresAccountAndPort(t *testing.T) {
	if _, err := Announce(Config{DisplayName: "Alice", Port: 1}); err == nil {
		t.Fatalf("expected error without account ID")
	}
	if _, err := Announce(Config{SelfAccountID: "alice", DisplayName: "Alice"}); err == nil {
		t.Fatalf("expected error without port")
	}
}
