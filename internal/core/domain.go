// Package core holds the domain model shared by every layer of the
// configuration client: config identities, server-returned records, change
// events, and the listener shapes the subscription machinery fans out to.
package core

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"time"
)

// DefaultGroup is the group applied when the caller leaves it blank.
const DefaultGroup = "DEFAULT_GROUP"

// ConfigKey identifies one configuration item. The zero tenant means the
// service's default ("public") tenant. Values are comparable, so a ConfigKey
// can be used directly as a map key.
type ConfigKey struct {
	DataID string
	Group  string
	Tenant string
}

// String renders the key in the dataId+group[+tenant] form used in logs.
func (k ConfigKey) String() string {
	if k.Tenant == "" {
		return fmt.Sprintf("%s+%s", k.DataID, k.Group)
	}
	return fmt.Sprintf("%s+%s+%s", k.DataID, k.Group, k.Tenant)
}

// TenantOrPublic returns the tenant, or "public" when it is empty. Local
// storage paths use this so the default tenant has a stable directory name.
func (k ConfigKey) TenantOrPublic() string {
	if k.Tenant == "" {
		return "public"
	}
	return k.Tenant
}

// ConfigData is a server-returned configuration record.
type ConfigData struct {
	Content          string
	ContentType      string
	MD5              string
	EncryptedDataKey string
}

// IsEmpty reports whether the record carries no content.
func (d *ConfigData) IsEmpty() bool {
	return d == nil || d.Content == ""
}

// LocalConfigData is a configuration record sourced from the local
// filesystem (failover or snapshot tier).
type LocalConfigData struct {
	Content      string
	LastModified time.Time
}

// IsEmpty reports whether the record carries no content.
func (d *LocalConfigData) IsEmpty() bool {
	return d == nil || d.Content == ""
}

// ConfigChangedEvent is delivered to subscribers when a watched
// configuration transitions to a new MD5.
type ConfigChangedEvent struct {
	Key         ConfigKey
	Content     string
	OldContent  string
	ContentType string
	Timestamp   time.Time
}

// Listener is a fire-and-forget change callback.
type Listener func(event ConfigChangedEvent)

// AsyncListener is a change callback returning a completion signal. The
// dispatcher waits for it (bounded by the per-listener timeout) and logs a
// returned error without affecting sibling listeners.
type AsyncListener func(event ConfigChangedEvent) error

// ContentMD5 computes the lowercase hex MD5 of the UTF-8 bytes of content.
// This is the digest the probe endpoint compares against.
func ContentMD5(content string) string {
	sum := md5.Sum([]byte(content))
	return hex.EncodeToString(sum[:])
}
