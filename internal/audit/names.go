// Package audit resolves the identity facts attached to an execution.
package audit

import (
	"os"
	"os/user"
	"strings"
)

// Audit attribute keys.
const (
	AuthUsername    = "auth_username"
	ProxiedUsername = "proxied_username"
	Hostname        = "hostname"
	ProxiedHostname = "proxied_hostname"
	IP              = "ip"
	ProxiedIP       = "proxied_ip"
)

// UnknownHost is used when no hostname attribute is known.
const UnknownHost = "unknown-host"

// Names holds the audit attributes known for one execution.
type Names map[string]string

// firstExisting returns the first non-empty value among keys.
func (n Names) firstExisting(keys ...string) string {
	for _, k := range keys {
		if v := n[k]; v != "" {
			return v
		}
	}
	return ""
}

// Username prefers the authenticated user over a proxied one.
func (n Names) Username() string {
	return n.firstExisting(AuthUsername, ProxiedUsername)
}

// Hostname prefers the proxied host; it returns "" when neither is known.
func (n Names) Hostname() string {
	return n.firstExisting(ProxiedHostname, Hostname)
}

// IP prefers the proxied address.
func (n Names) IP() string {
	return n.firstExisting(ProxiedIP, IP)
}

// AuditName is the single most descriptive identity: username, then
// hostname, then IP.
func (n Names) AuditName() string {
	if u := n.Username(); u != "" {
		return u
	}
	if h := n.Hostname(); h != "" {
		return h
	}
	return n.IP()
}

// Local describes the user running this process.
func Local() Names {
	names := Names{IP: "127.0.0.1"}
	if u, err := user.Current(); err == nil {
		names[AuthUsername] = u.Username
	}
	if h, err := os.Hostname(); err == nil {
		// Remove domain part if present
		names[Hostname] = strings.Split(h, ".")[0]
	}
	return names
}
