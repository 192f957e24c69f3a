// Package license holds the read-only view of the tenant/license record
// exposed by the admin surface. Nothing in the pipeline mutates it.
package license

import (
	"strings"
	"time"
)

// Feature names known to the pipeline.
const (
	FeatureChat         = "chat"
	FeatureTTS          = "tts"
	FeatureSTT          = "stt"
	FeaturePremiumVoice = "premium_voice"
)

// Features is the per-tenant feature flag set.
type Features struct {
	Chat         bool `json:"chat"`
	TTS          bool `json:"tts"`
	STT          bool `json:"stt"`
	PremiumVoice bool `json:"premium_voice,omitempty"`
}

// Payload is the license record handed to the pipeline on every request.
type Payload struct {
	LicenseKey  string   `json:"licenseKey"`
	CompanyID   string   `json:"companyId,omitempty"`
	CompanyName string   `json:"companyName,omitempty"`
	Features    Features `json:"features"`
	ExpiresAt   string   `json:"expiresAt"`
}

// TenantID returns the ledger key for this license. Licenses issued before
// company accounts existed carry no company id; the license key stands in.
func (p Payload) TenantID() string {
	if id := strings.TrimSpace(p.CompanyID); id != "" {
		return id
	}
	return strings.TrimSpace(p.LicenseKey)
}

// Feature reports whether the named feature is enabled.
func (p Payload) Feature(name string) bool {
	switch name {
	case FeatureChat:
		return p.Features.Chat
	case FeatureTTS:
		return p.Features.TTS
	case FeatureSTT:
		return p.Features.STT
	case FeaturePremiumVoice:
		return p.Features.PremiumVoice
	default:
		return false
	}
}

// Expired reports whether the license expiry predates now. A missing or
// unparsable expiry is treated as not expired; the admin surface owns
// enforcement and the pipeline must not lock tenants out on bad data.
func (p Payload) Expired(now time.Time) bool {
	raw := strings.TrimSpace(p.ExpiresAt)
	if raw == "" {
		return false
	}
	expires, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		if expires, err = time.Parse("2006-01-02", raw); err != nil {
			return false
		}
	}
	return expires.Before(now)
}
