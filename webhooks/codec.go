package webhooks

import (
	"strconv"
	"strings"

	"github.com/clbanning/mxj/v2"
	"github.com/goliatone/go-wxopen/core"
)

// Envelope is the outer XML document of a delivery. Encrypt is empty when the
// platform sent the notification in plaintext mode.
type Envelope struct {
	AppID      string
	ToUserName string
	Encrypt    string
}

func (e Envelope) Encrypted() bool {
	return e.Encrypt != ""
}

func ParseEnvelope(body []byte) (Envelope, error) {
	mv, err := parseXML(body, "envelope")
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		AppID:      stringAt(mv, "xml.AppId"),
		ToUserName: stringAt(mv, "xml.ToUserName"),
		Encrypt:    stringAt(mv, "xml.Encrypt"),
	}, nil
}

// ParseNotification reads a decrypted or plaintext notification document.
func ParseNotification(plaintext []byte) (core.Notification, error) {
	mv, err := parseXML(plaintext, "notification")
	if err != nil {
		return core.Notification{}, err
	}
	n := core.Notification{
		InfoType:                     core.InfoType(stringAt(mv, "xml.InfoType")),
		AppID:                        stringAt(mv, "xml.AppId"),
		CreateTime:                   int64At(mv, "xml.CreateTime"),
		ComponentVerifyTicket:        stringAt(mv, "xml.ComponentVerifyTicket"),
		AuthorizerAppID:              stringAt(mv, "xml.AuthorizerAppid"),
		AuthorizationCode:            stringAt(mv, "xml.AuthorizationCode"),
		AuthorizationCodeExpiredTime: int64At(mv, "xml.AuthorizationCodeExpiredTime"),
		PreAuthCode:                  stringAt(mv, "xml.PreAuthCode"),
	}
	if n.InfoType == "" {
		return n, core.DecodeError(nil, "webhooks: notification has no InfoType", map[string]any{"app_id": n.AppID})
	}
	return n, nil
}

func parseXML(body []byte, what string) (mxj.Map, error) {
	if len(strings.TrimSpace(string(body))) == 0 {
		return nil, core.DecodeError(nil, "webhooks: empty "+what, nil)
	}
	mv, err := mxj.NewMapXml(body)
	if err != nil {
		return nil, core.DecodeError(err, "webhooks: parse "+what+" xml", nil)
	}
	return mv, nil
}

func stringAt(mv mxj.Map, path string) string {
	value, err := mv.ValueForPathString(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(value)
}

func int64At(mv mxj.Map, path string) int64 {
	raw := stringAt(mv, path)
	if raw == "" {
		return 0
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0
	}
	return value
}
