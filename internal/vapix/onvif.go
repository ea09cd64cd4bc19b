package vapix

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// onvifCreateUsersEnvelope is the SOAP body for CreateUsers: a
// Printf-formatted literal rather than a marshaled struct, since the
// wire format is fixed and small.
const onvifCreateUsersEnvelope = `<?xml version="1.0" encoding="UTF-8"?>
<soap:Envelope xmlns:soap="http://www.w3.org/2003/05/soap-envelope"
  xmlns:wsa="http://www.w3.org/2005/08/addressing"
  xmlns:tds="http://www.onvif.org/ver10/device/wsdl">
  <soap:Header>
    <wsa:MessageID>urn:uuid:%s</wsa:MessageID>
    <wsa:To>%s</wsa:To>
    <wsa:Action>http://www.onvif.org/ver10/device/wsdl/CreateUsers</wsa:Action>
  </soap:Header>
  <soap:Body>
    <tds:CreateUsers>
      <tds:User>
        <tds:Username>%s</tds:Username>
        <tds:Password>%s</tds:Password>
        <tds:UserLevel>Operator</tds:UserLevel>
      </tds:User>
    </tds:CreateUsers>
  </soap:Body>
</soap:Envelope>`

type onvifFault struct {
	XMLName xml.Name `xml:"Envelope"`
	Body    struct {
		Fault struct {
			Reason struct {
				Text string `xml:"Text"`
			} `xml:"Reason"`
		} `xml:"Fault"`
	} `xml:"Body"`
}

// CreateOnvifUserViaSOAP is the fallback path for devices whose VAPIX
// pwdgrp.cgi doesn't create the ONVIF account: it speaks the device's
// ONVIF service directly over SOAP. The request authenticates with HTTP
// digest through the same client used for VAPIX; the envelope carries no
// WS-Security UsernameToken header.
func (c *Client) CreateOnvifUserViaSOAP(ctx context.Context) (bool, string) {
	serviceURL := c.url("/onvif/device_service", nil)
	body := fmt.Sprintf(onvifCreateUsersEnvelope,
		uuid.New().String(), serviceURL, c.Credentials.OnvifUser, c.Credentials.OnvifPassword)

	return c.attempt(ctx, true, func() (*http.Request, error) {
		req, err := http.NewRequest(http.MethodPost, serviceURL, strings.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/soap+xml; charset=utf-8")
		return req, nil
	}, onvifClassifier())
}

func onvifClassifier() classifier {
	return func(status int, respBody []byte, _ http.Header, transportErr error) result {
		if r, transient := classifyTransient(status, transportErr); transient {
			return r
		}
		if status == http.StatusUnauthorized || status == http.StatusForbidden {
			return result{outcome: outcomeTerminal, message: "authentication failed", err: ErrAuth}
		}
		if status == http.StatusOK {
			return result{outcome: outcomeSuccess, message: "ok"}
		}

		var fault onvifFault
		if err := xml.Unmarshal(bytes.TrimSpace(respBody), &fault); err == nil && fault.Body.Fault.Reason.Text != "" {
			reason := strings.ToLower(fault.Body.Fault.Reason.Text)
			if strings.Contains(reason, "username already") || strings.Contains(reason, "already exist") {
				return result{outcome: outcomeSuccess, message: fmt.Sprintf("recognized idempotent response: %s", fault.Body.Fault.Reason.Text)}
			}
			return result{outcome: outcomeTerminal, message: fault.Body.Fault.Reason.Text, err: ErrDeviceState}
		}
		return result{outcome: outcomeTerminal, message: fmt.Sprintf("unexpected status %d", status), err: ErrProtocol}
	}
}
