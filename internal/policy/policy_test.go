package policy

import "testing"

func TestValidateAllowed(t *testing.T) {
	p := Default()
	cases := []string{"ps aux", "df -h", "hostname", "ls -la /var/log"}
	for _, c := range cases {
		if r := p.Validate(c); !r.Allowed {
			t.Errorf("Validate(%q) = blocked(%q), want allowed", c, r.Reason)
		}
	}
}

func TestValidateBlockedDangerous(t *testing.T) {
	p := Default()
	r := p.Validate("rm -rf /")
	if r.Allowed {
		t.Fatal("expected rm -rf to be blocked")
	}
	if r.Reason == "" {
		t.Fatal("expected a reason for the block")
	}
}

func TestValidateBlockedNotAllowed(t *testing.T) {
	p := Default()
	r := p.Validate("malicious_command")
	if r.Allowed {
		t.Fatal("expected an unknown command to be blocked")
	}
}

func TestValidateEmptyCommand(t *testing.T) {
	p := Default()
	if r := p.Validate("   "); r.Allowed {
		t.Fatal("expected an empty command to be blocked")
	}
}

func TestValidateTooLong(t *testing.T) {
	p := Default()
	long := make([]byte, MaxCommandLength+1)
	for i := range long {
		long[i] = 'a'
	}
	if r := p.Validate(string(long)); r.Allowed {
		t.Fatal("expected an over-length command to be blocked")
	}
}

func TestValidateScriptPath(t *testing.T) {
	p := Default()
	if r := p.Validate("/opt/ops-scripts/check.sh"); !r.Allowed {
		t.Fatalf("expected allowed script path, got blocked(%q)", r.Reason)
	}
	if r := p.Validate("/tmp/evil.sh"); r.Allowed {
		t.Fatal("expected a script outside the allowed dirs to be blocked")
	}
	if r := p.Validate("relative/path.sh"); r.Allowed {
		t.Fatal("expected a relative script path to be blocked")
	}
	if r := p.Validate("/opt/ops-scripts/../../etc/passwd.sh"); r.Allowed {
		t.Fatal("expected a path-traversal script path to be blocked")
	}
	if r := p.Validate("/opt/ops-scripts/tool.exe"); r.Allowed {
		t.Fatal("expected a disallowed script extension to be blocked")
	}
}

func TestValidateAppManagement(t *testing.T) {
	p := Default()
	if r := p.Validate("cd /tmp/apps/myapp && bash myapp.sh start"); !r.Allowed {
		t.Fatalf("expected app-management start to be allowed, got blocked(%q)", r.Reason)
	}
	if r := p.Validate("cd /tmp/apps/myapp && bash myapp.sh start; rm -rf /"); r.Allowed {
		t.Fatal("expected an app-management command smuggling a dangerous op to be blocked")
	}
}

func TestSanitizeCommand(t *testing.T) {
	p := Default()
	got := p.Sanitize("ps aux; rm -rf /")
	want := "ps aux  rm -rf /"
	if got != want {
		t.Fatalf("Sanitize() = %q, want %q", got, want)
	}
}
