package config

import "time"

// ChannelsConfig contains per-platform settings. Only WhatsApp is wired today.
type ChannelsConfig struct {
	WhatsApp WhatsAppConfig `json:"whatsapp"`
}

// WhatsAppConfig configures webhook verification and outbound delivery.
// Tokens are secrets and only come from env (META_* or CHATQUEUE_WHATSAPP_*).
type WhatsAppConfig struct {
	VerifyToken    string  `json:"-"`
	AccessToken    string  `json:"-"`
	PhoneNumberID  string  `json:"phone_number_id,omitempty"`
	Mode           string  `json:"mode,omitempty"` // "cloud" (default) or "bridge"
	BaseURL        string  `json:"base_url,omitempty"`
	APIVersion     string  `json:"api_version,omitempty"`
	BridgeURL      string  `json:"bridge_url,omitempty"`
	SendTimeoutSec int     `json:"send_timeout_sec,omitempty"`
	RatePerSecond  float64 `json:"rate_per_second,omitempty"` // outbound sends per second, 0 = unlimited
	Burst          int     `json:"burst,omitempty"`
}

// SendTimeout returns the per-request timeout for outbound sends.
func (w WhatsAppConfig) SendTimeout() time.Duration {
	return time.Duration(w.SendTimeoutSec) * time.Second
}
