package core

import (
	"strings"
	"time"
)

type InfoType string

const (
	InfoTypeVerifyTicket     InfoType = "component_verify_ticket"
	InfoTypeAuthorized       InfoType = "authorized"
	InfoTypeUpdateAuthorized InfoType = "updateauthorized"
	InfoTypeUnauthorized     InfoType = "unauthorized"
)

// Notification is a decrypted authorization notification.
type Notification struct {
	InfoType                     InfoType
	AppID                        string
	CreateTime                   int64
	ComponentVerifyTicket        string
	AuthorizerAppID              string
	AuthorizationCode            string
	AuthorizationCodeExpiredTime int64
	PreAuthCode                  string
}

func (n Notification) Known() bool {
	switch n.InfoType {
	case InfoTypeVerifyTicket, InfoTypeAuthorized, InfoTypeUpdateAuthorized, InfoTypeUnauthorized:
		return true
	}
	return false
}

func (n Notification) Validate() error {
	switch n.InfoType {
	case InfoTypeVerifyTicket:
		if strings.TrimSpace(n.ComponentVerifyTicket) == "" {
			return DecodeError(nil, "core: verify ticket notification without ticket", nil)
		}
	case InfoTypeAuthorized, InfoTypeUpdateAuthorized:
		if strings.TrimSpace(n.AuthorizerAppID) == "" || strings.TrimSpace(n.AuthorizationCode) == "" {
			return DecodeError(nil, "core: authorization notification requires authorizer app id and code",
				map[string]any{"info_type": string(n.InfoType)})
		}
	case InfoTypeUnauthorized:
		if strings.TrimSpace(n.AuthorizerAppID) == "" {
			return DecodeError(nil, "core: unauthorized notification requires authorizer app id", nil)
		}
	}
	return nil
}

func (n Notification) event(componentAppID string) AuthorizationEvent {
	event := AuthorizationEvent{
		Kind:              n.InfoType,
		ComponentAppID:    componentAppID,
		AuthorizerAppID:   n.AuthorizerAppID,
		VerifyTicket:      n.ComponentVerifyTicket,
		AuthorizationCode: n.AuthorizationCode,
		PreAuthCode:       n.PreAuthCode,
	}
	if n.CreateTime > 0 {
		event.CreateTime = time.Unix(n.CreateTime, 0).UTC()
	}
	if n.AuthorizationCodeExpiredTime > 0 {
		event.AuthorizationCodeExpiresAt = time.Unix(n.AuthorizationCodeExpiredTime, 0).UTC()
	}
	return event
}
