package webhooks

import (
	"testing"

	"github.com/goliatone/go-wxopen/core"
)

const testEncodingAESKey = "abcdefghijklmnopqrstuvwxyz0123456789ABCDEFG"

func TestParseEnvelope_ReadsEncryptAndAppID(t *testing.T) {
	envelope, err := ParseEnvelope([]byte(`<xml><AppId><![CDATA[wxcomponent]]></AppId><Encrypt><![CDATA[cipher]]></Encrypt></xml>`))
	if err != nil {
		t.Fatalf("parse envelope: %v", err)
	}
	if envelope.AppID != "wxcomponent" || envelope.Encrypt != "cipher" {
		t.Fatalf("unexpected envelope %+v", envelope)
	}
}

func TestParseEnvelope_PlaintextBody(t *testing.T) {
	envelope, err := ParseEnvelope([]byte(`<xml><AppId>wxcomponent</AppId><InfoType>component_verify_ticket</InfoType></xml>`))
	if err != nil {
		t.Fatalf("parse envelope: %v", err)
	}
	if envelope.Encrypted() || envelope.AppID != "wxcomponent" {
		t.Fatalf("unexpected envelope %+v", envelope)
	}
	if _, err := ParseEnvelope([]byte("not xml")); !core.IsDecodeError(err) {
		t.Fatalf("expected decode error for malformed body, got %v", err)
	}
}

func TestParseNotification_ReadsAuthorizationFields(t *testing.T) {
	n, err := ParseNotification([]byte(`<xml>
<AppId>wxcomponent</AppId>
<CreateTime>1413192760</CreateTime>
<InfoType>authorized</InfoType>
<AuthorizerAppid>wxauth</AuthorizerAppid>
<AuthorizationCode>code-1</AuthorizationCode>
<AuthorizationCodeExpiredTime>1413196360</AuthorizationCodeExpiredTime>
<PreAuthCode>preauth-1</PreAuthCode>
</xml>`))
	if err != nil {
		t.Fatalf("parse notification: %v", err)
	}
	if n.InfoType != core.InfoTypeAuthorized || n.AuthorizerAppID != "wxauth" || n.AuthorizationCode != "code-1" {
		t.Fatalf("unexpected notification %+v", n)
	}
	if n.CreateTime != 1413192760 || n.AuthorizationCodeExpiredTime != 1413196360 {
		t.Fatalf("unexpected timestamps %+v", n)
	}
	if n.PreAuthCode != "preauth-1" {
		t.Fatalf("expected pre auth code, got %q", n.PreAuthCode)
	}
}

func TestParseNotification_RequiresInfoType(t *testing.T) {
	if _, err := ParseNotification([]byte(`<xml><AppId>wxcomponent</AppId></xml>`)); !core.IsDecodeError(err) {
		t.Fatalf("expected decode error, got %v", err)
	}
}

