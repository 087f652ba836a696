package domain

import (
	"encoding/json"
	"fmt"
)

// Platform identifies a tracking vendor family.
type Platform string

const (
	PlatformGA4          Platform = "Google Analytics 4"
	PlatformGTM          Platform = "Google Tag Manager"
	PlatformGoogleAds    Platform = "Google Ads"
	PlatformMetaPixel    Platform = "Facebook Pixel"
	PlatformUnrecognized Platform = "Unrecognized"
)

func (p Platform) IsValid() bool {
	switch p {
	case PlatformGA4, PlatformGTM, PlatformGoogleAds, PlatformMetaPixel, PlatformUnrecognized:
		return true
	}
	return false
}

// StatusClass is the coarse outcome of a tracking request.
type StatusClass string

const (
	StatusSuccess StatusClass = "success"
	StatusFailed  StatusClass = "failed"
)

// ClassifyStatus maps an HTTP status code to a StatusClass.
func ClassifyStatus(code int) StatusClass {
	if code < 400 {
		return StatusSuccess
	}
	return StatusFailed
}

// TrackingPayload is the vendor-specific part of a TrackingEvent.
// Implementations are GA4Payload, GTMPayload, GoogleAdsPayload,
// MetaPixelPayload and UnrecognizedPayload.
type TrackingPayload interface {
	Platform() Platform
}

// HashedUserData holds SHA-256 hashed enhanced-conversion fields.
type HashedUserData struct {
	Email     *string `json:"email_sha256"`
	Phone     *string `json:"phone_sha256"`
	FirstName *string `json:"first_name_sha256"`
	LastName  *string `json:"last_name_sha256"`
}

// IsEmpty reports whether no hashed field is present.
func (u HashedUserData) IsEmpty() bool {
	return u.Email == nil && u.Phone == nil && u.FirstName == nil && u.LastName == nil
}

type GA4Payload struct {
	EventName     *string         `json:"event_name"`
	EventSequence *string         `json:"event_sequence"`
	MeasurementID *string         `json:"measurement_id"`
	ClientID      *string         `json:"client_id"`
	SessionID     *string         `json:"session_id"`
	UserID        *string         `json:"user_id"`
	Currency      *string         `json:"currency"`
	EventValue    *string         `json:"event_value"`
	UserData      *HashedUserData `json:"user_data"`
}

func (GA4Payload) Platform() Platform { return PlatformGA4 }

type GTMPayload struct {
	ContainerID *string `json:"container_id"`
	DataLayer   *string `json:"data_layer"`
}

func (GTMPayload) Platform() Platform { return PlatformGTM }

type GoogleAdsPayload struct {
	Label        *string `json:"label"`
	ConversionID *string `json:"conversion_id"`
	Value        *string `json:"value"`
	CurrencyCode *string `json:"currency_code"`
}

func (GoogleAdsPayload) Platform() Platform { return PlatformGoogleAds }

type MetaPixelPayload struct {
	Event    *string         `json:"event"`
	PixelID  *string         `json:"pixel_id"`
	UserData *HashedUserData `json:"user_data"`
}

func (MetaPixelPayload) Platform() Platform { return PlatformMetaPixel }

// UnrecognizedPayload marks a call to a known tracking domain that matched
// no vendor rule.
type UnrecognizedPayload struct {
	Host string `json:"host"`
}

func (UnrecognizedPayload) Platform() Platform { return PlatformUnrecognized }

// TrackingEvent is one classified tracking call. Events are never mutated
// after creation.
type TrackingEvent struct {
	Platform  Platform        `json:"platform"`
	EventName string          `json:"event_name"`
	Details   string          `json:"details"`
	URL       string          `json:"url"`
	Status    StatusClass     `json:"status"`
	Payload   TrackingPayload `json:"payload"`
}

// UnmarshalJSON decodes the payload variant selected by Platform.
func (e *TrackingEvent) UnmarshalJSON(data []byte) error {
	type alias TrackingEvent
	aux := struct {
		*alias
		Payload json.RawMessage `json:"payload"`
	}{alias: (*alias)(e)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	var payload TrackingPayload
	switch e.Platform {
	case PlatformGA4:
		payload = &GA4Payload{}
	case PlatformGTM:
		payload = &GTMPayload{}
	case PlatformGoogleAds:
		payload = &GoogleAdsPayload{}
	case PlatformMetaPixel:
		payload = &MetaPixelPayload{}
	case PlatformUnrecognized:
		payload = &UnrecognizedPayload{}
	default:
		return fmt.Errorf("unknown tracking platform %q", e.Platform)
	}

	if len(aux.Payload) == 0 || string(aux.Payload) == "null" {
		e.Payload = nil
		return nil
	}
	if err := json.Unmarshal(aux.Payload, payload); err != nil {
		return fmt.Errorf("decoding %s payload: %w", e.Platform, err)
	}

	// Store values, not pointers, so decoded events compare equal to
	// classifier output.
	switch p := payload.(type) {
	case *GA4Payload:
		e.Payload = *p
	case *GTMPayload:
		e.Payload = *p
	case *GoogleAdsPayload:
		e.Payload = *p
	case *MetaPixelPayload:
		e.Payload = *p
	case *UnrecognizedPayload:
		e.Payload = *p
	}
	return nil
}
