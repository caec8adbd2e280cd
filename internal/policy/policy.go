// Package policy implements the command validator the server runs
// before dispatching any operator-issued command to an agent: an
// allow-list of safe commands, a blocked-pattern denylist, a
// script-path rule for anything that names a file, and a narrow
// fast path for application start/stop/status commands.
package policy

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"
)

// MaxCommandLength bounds how long a single command string may be.
const MaxCommandLength = 1000

// Result is the outcome of validating a command.
type Result struct {
	Allowed bool
	Reason  string
}

func allowed() Result   { return Result{Allowed: true} }
func blocked(reason string, args ...any) Result {
	return Result{Allowed: false, Reason: fmt.Sprintf(reason, args...)}
}

// Policy validates commands before they reach the tracker/registry
// dispatch path.
type Policy struct {
	allowedCommands       map[string]struct{}
	blockedPatterns       []string
	maxCommandLength      int
	allowedScriptDirs     []string
	allowedScriptExt      map[string]struct{}
}

// Default returns the policy carried over from the original
// implementation's CommandValidator::default(): a read-only/inspection
// command allow-list, a denylist of destructive or privilege-escalating
// patterns, and a fixed set of script directories.
func Default() *Policy {
	p := &Policy{
		allowedCommands:  make(map[string]struct{}),
		maxCommandLength: MaxCommandLength,
		allowedScriptDirs: []string{
			"/opt/ops-scripts",
			"/usr/local/bin/scripts",
			"/home/ops/scripts",
			"/tmp/ops-scripts",
			"/tmp/apps",
		},
		allowedScriptExt: map[string]struct{}{
			"sh": {}, "py": {}, "pl": {}, "rb": {},
		},
	}
	for _, c := range []string{
		// system info
		"ps", "ls", "pwd", "whoami", "id", "groups", "date", "uptime", "hostname", "uname",
		// resource monitoring
		"df", "free", "top", "htop", "iostat", "vmstat", "sar", "mpstat",
		// network inspection
		"netstat", "ss", "ip", "ifconfig", "ping",
		// read-only file inspection
		"cat", "head", "tail", "less", "more", "grep", "find", "wc", "sort", "uniq",
		// read-only service management
		"systemctl", "journalctl", "service",
		// environment and history
		"env", "history", "which", "whereis",
		// shells, used to run scripts
		"bash", "sh",
		// process management, used for app lifecycle
		"kill", "cd",
	} {
		p.allowedCommands[c] = struct{}{}
	}
	p.blockedPatterns = []string{
		// shutdown/reboot
		"shutdown", "reboot", "halt", "poweroff", "init 0", "init 6",
		"systemctl poweroff", "systemctl reboot", "systemctl halt",
		// destructive file operations
		"rm -rf", "rm -r", "rm /", "rmdir", "> /dev/", "dd if=", "dd of=",
		"mkfs", "fdisk", "parted", "format",
		// privilege escalation
		"sudo su", "su -", "su root", "sudo -i", "sudo bash", "sudo sh",
		"passwd", "usermod", "useradd", "userdel",
		"chmod 777", "chmod 4755", "chown root",
		// network fetch/exfiltration
		"curl", "wget", "nc -", "netcat", "telnet", "ftp", "sftp", "scp", "rsync",
		// dangerous shell execution patterns
		"bash -i", "sh -i", "exec", "eval", "source",
		"python -c", "perl -e", "ruby -e",
		// process/service control
		"kill -9", "killall", "pkill",
		"systemctl start", "systemctl stop", "systemctl restart",
		"systemctl enable", "systemctl disable",
		"service start", "service stop", "service restart",
		// package managers
		"apt install", "apt remove", "apt purge",
		"yum install", "yum remove", "dnf install", "dnf remove",
		"rpm -i", "rpm -e", "dpkg -i", "dpkg -r",
		"pip install", "npm install",
		// scheduled tasks
		"crontab", "at ", "batch",
		// mount/storage
		"mount", "umount", "fsck", "e2fsck",
		// command injection markers
		"`", "$(",
	}
	return p
}

// AddAllowedCommand grows the allow-list (used to extend the default
// policy with host-specific read-only tooling).
func (p *Policy) AddAllowedCommand(cmd string) {
	p.allowedCommands[cmd] = struct{}{}
}

// AddBlockedPattern grows the denylist.
func (p *Policy) AddBlockedPattern(pattern string) {
	p.blockedPatterns = append(p.blockedPatterns, pattern)
}

// AddAllowedScriptDir grows the set of directories a script path may
// live under.
func (p *Policy) AddAllowedScriptDir(dir string) {
	p.allowedScriptDirs = append(p.allowedScriptDirs, dir)
}

// Validate runs every rule against command and returns the first
// rejection, or Result{Allowed:true} if none fire.
func (p *Policy) Validate(command string) Result {
	if len(command) > p.maxCommandLength {
		return blocked("command length exceeds limit: %d > %d", len(command), p.maxCommandLength)
	}
	if strings.TrimSpace(command) == "" {
		return blocked("empty command")
	}
	if isAppManagementCommand(command) {
		return validateAppManagementCommand(command)
	}
	lower := strings.ToLower(command)
	for _, pattern := range p.blockedPatterns {
		if strings.Contains(lower, strings.ToLower(pattern)) {
			return blocked("contains blocked pattern: %s", pattern)
		}
	}
	parts := strings.Fields(command)
	if len(parts) == 0 {
		return blocked("unable to parse command")
	}
	base := parts[0]
	if p.isScriptPath(base) {
		if r := p.validateScriptPath(base); !r.Allowed {
			return r
		}
		return allowed()
	}
	if _, ok := p.allowedCommands[base]; !ok {
		return blocked("command not in allow-list: %s", base)
	}
	return allowed()
}

// Sanitize strips shell metacharacters commonly used for command
// injection. It is a defense-in-depth helper distinct from Validate —
// callers still run Validate first.
func (p *Policy) Sanitize(command string) string {
	replacer := strings.NewReplacer(
		";", " ",
		"&&", " ",
		"||", " ",
		"|", " ",
		"`", "",
		"$", "",
		"&", "",
	)
	return strings.TrimSpace(replacer.Replace(command))
}

func (p *Policy) isScriptPath(command string) bool {
	return strings.Contains(command, "/") || p.hasScriptExtension(command)
}

func (p *Policy) hasScriptExtension(pathStr string) bool {
	ext := strings.TrimPrefix(path.Ext(pathStr), ".")
	if ext == "" {
		return false
	}
	_, ok := p.allowedScriptExt[ext]
	return ok
}

func (p *Policy) validateScriptPath(scriptPath string) Result {
	if !filepath.IsAbs(scriptPath) {
		return blocked("only absolute script paths are allowed")
	}
	if strings.Contains(scriptPath, "../") || strings.Contains(scriptPath, "./") {
		return blocked("script path contains path-traversal characters")
	}
	var inAllowedDir bool
	for _, dir := range p.allowedScriptDirs {
		if strings.HasPrefix(scriptPath, dir) {
			inAllowedDir = true
			break
		}
	}
	if !inAllowedDir {
		return blocked("script is not in an allowed directory: %v", p.allowedScriptDirs)
	}
	ext := strings.TrimPrefix(path.Ext(scriptPath), ".")
	if ext == "" {
		return blocked("script file must have an extension")
	}
	if _, ok := p.allowedScriptExt[ext]; !ok {
		return blocked("disallowed script type: .%s", ext)
	}
	return allowed()
}

// isAppManagementCommand recognizes the narrow set of
// "cd /tmp/apps/<app> && bash <script>.sh <verb>" and pidfile-based
// lifecycle commands the fleet's application-management flow issues.
func isAppManagementCommand(command string) bool {
	hasScriptInvocation := strings.Contains(command, "cd /tmp/apps/") &&
		strings.Contains(command, "bash") &&
		strings.Contains(command, ".sh")
	hasPidLifecycle := strings.Contains(command, "/tmp/apps/") &&
		(strings.Contains(command, "kill") || strings.Contains(command, "if") || strings.Contains(command, "pid"))
	return hasScriptInvocation || hasPidLifecycle
}

func validateAppManagementCommand(command string) Result {
	if !strings.Contains(command, "/tmp/apps/") {
		return blocked("application-management commands must run under /tmp/apps/")
	}
	for _, dangerous := range []string{"rm -rf", "format", "dd", "curl", "wget", "nc ", "netcat", "telnet"} {
		if strings.Contains(command, dangerous) {
			return blocked("application-management command contains a dangerous operation")
		}
	}
	hasValidPattern := (strings.Contains(command, "bash") && strings.Contains(command, ".sh")) ||
		(strings.Contains(command, "kill") && strings.Contains(command, "cat") && strings.Contains(command, ".pid")) ||
		strings.Contains(command, "ps -p")
	if !hasValidPattern {
		return blocked("unsupported application-management command shape")
	}
	return allowed()
}
