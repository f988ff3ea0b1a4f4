package devkit

import (
	"strconv"

	"github.com/clbanning/mxj/v2"
	"github.com/goliatone/go-wxopen/core"
)

// NotificationXML renders n the way the platform sends it before encryption.
func NotificationXML(n core.Notification) ([]byte, error) {
	fields := map[string]any{
		"AppId":      n.AppID,
		"CreateTime": strconv.FormatInt(n.CreateTime, 10),
		"InfoType":   string(n.InfoType),
	}
	optional := map[string]string{
		"ComponentVerifyTicket": n.ComponentVerifyTicket,
		"AuthorizerAppid":       n.AuthorizerAppID,
		"AuthorizationCode":     n.AuthorizationCode,
		"PreAuthCode":           n.PreAuthCode,
	}
	for key, value := range optional {
		if value != "" {
			fields[key] = value
		}
	}
	if n.AuthorizationCodeExpiredTime > 0 {
		fields["AuthorizationCodeExpiredTime"] = strconv.FormatInt(n.AuthorizationCodeExpiredTime, 10)
	}
	return mxj.Map{"xml": fields}.Xml()
}

// EncryptedDelivery builds the envelope body posted to the notify endpoint.
func EncryptedDelivery(crypter core.MessageCrypter, n core.Notification) ([]byte, string, error) {
	plaintext, err := NotificationXML(n)
	if err != nil {
		return nil, "", err
	}
	encrypted, err := crypter.Encrypt(plaintext)
	if err != nil {
		return nil, "", err
	}
	body, err := mxj.Map{"xml": map[string]any{
		"AppId":   n.AppID,
		"Encrypt": encrypted,
	}}.Xml()
	if err != nil {
		return nil, "", err
	}
	return body, encrypted, nil
}
