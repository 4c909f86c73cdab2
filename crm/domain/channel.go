package domain

import "time"

// ChannelConnection is one WhatsApp number attached to the platform.
// AccessToken and VerifyToken are stored encrypted; repositories decrypt on
// read so in-memory values are plaintext. Neither is ever serialized to API
// responses.
type ChannelConnection struct {
	ID                    string     `json:"id"`
	Alias                 string     `json:"alias"`
	ProviderPhoneNumberID string     `json:"provider_phone_number_id"`
	DisplayNumber         string     `json:"display_number"`
	AccessToken           string     `json:"-"`
	VerifyToken           string     `json:"-"`
	IsActive              bool       `json:"is_active"`
	DefaultQueueID        string     `json:"default_queue_id,omitempty"`
	DefaultFlowID         string     `json:"default_flow_id,omitempty"`
	LastVerifiedAt        *time.Time `json:"last_verified_at,omitempty"`
	CreatedAt             time.Time  `json:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at"`
}
