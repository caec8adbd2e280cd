package protocol

import (
	"encoding/json"
	"testing"
)

func TestEncodeDecodeRoundTripsDataType(t *testing.T) {
	payload := ClientInfoPayload{ClientID: "host-1", LastSeen: 1000}
	line, err := Encode(TypeClientInfo, payload)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	typ, raw, err := Decode(line)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if typ != TypeClientInfo {
		t.Fatalf("Decode type = %q, want %q", typ, TypeClientInfo)
	}
	var got ClientInfoPayload
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got.ClientID != "host-1" || got.LastSeen != 1000 {
		t.Fatalf("round trip = %+v, want ClientID=host-1 LastSeen=1000", got)
	}
}

func TestEncodeAuthUsesAuthTypeTag(t *testing.T) {
	line, err := EncodeAuth(TypeAuthChallenge, AuthChallengePayload{Nonce: "abc", Timestamp: 42})
	if err != nil {
		t.Fatalf("EncodeAuth: %v", err)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(line, &fields); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if _, ok := fields["data_type"]; ok {
		t.Fatal("auth frame must not carry a data_type tag")
	}
	var tag string
	if err := json.Unmarshal(fields["auth_type"], &tag); err != nil {
		t.Fatalf("auth_type not a string: %v", err)
	}
	if tag != "challenge" {
		t.Fatalf("auth_type = %q, want %q", tag, "challenge")
	}

	typ, _, err := Decode(line)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if typ != TypeAuthChallenge {
		t.Fatalf("Decode type = %q, want %q", typ, TypeAuthChallenge)
	}
}

func TestDecodeRejectsLineWithoutATypeTag(t *testing.T) {
	if _, _, err := Decode([]byte(`{"foo":"bar"}`)); err == nil {
		t.Fatal("expected Decode to reject a line with neither data_type nor auth_type")
	}
}

func TestServiceStatusRoundTrip(t *testing.T) {
	cases := []struct {
		name string
		in   ServiceStatus
		want string
	}{
		{"running", NewRunningStatus("1234"), `{"Running":"1234"}`},
		{"stopped", StatusStopped, `"Stopped"`},
		{"unknown", StatusUnknown, `"Unknown"`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b, err := json.Marshal(tc.in)
			if err != nil {
				t.Fatalf("Marshal: %v", err)
			}
			if string(b) != tc.want {
				t.Fatalf("Marshal(%+v) = %s, want %s", tc.in, b, tc.want)
			}

			var got ServiceStatus
			if err := json.Unmarshal(b, &got); err != nil {
				t.Fatalf("Unmarshal: %v", err)
			}
			if got != tc.in {
				t.Fatalf("round trip = %+v, want %+v", got, tc.in)
			}
		})
	}
}

func TestServiceStatusEmbeddedInAppInfoRoundTrips(t *testing.T) {
	app := AppInfo{Name: "web", Version: "1.2.3", ServiceStatus: NewRunningStatus("555")}
	b, err := json.Marshal(app)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var got AppInfo
	if err := json.Unmarshal(b, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got.ServiceStatus.State != "Running" || got.ServiceStatus.PID != "555" {
		t.Fatalf("ServiceStatus = %+v, want Running/555", got.ServiceStatus)
	}
}
