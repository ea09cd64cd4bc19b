package vapix

import (
	"bytes"
	"fmt"
	"net/http"

	"github.com/pkg/errors"
)

// statusOnly builds a classifier for calls that signal success purely by
// HTTP status: 200 is success, 401/403 is auth failure (terminal), 5xx and
// transport errors are transient, anything else is an unrecognized
// terminal failure. Most VAPIX CGI endpoints behave this way.
func statusOnly() classifier {
	return func(status int, body []byte, _ http.Header, transportErr error) result {
		if r, transient := classifyTransient(status, transportErr); transient {
			return r
		}
		switch {
		case status == http.StatusOK:
			return result{outcome: outcomeSuccess, message: "ok"}
		case status == http.StatusUnauthorized || status == http.StatusForbidden:
			return result{outcome: outcomeTerminal, message: "authentication failed", err: ErrAuth}
		default:
			return result{outcome: outcomeTerminal, message: fmt.Sprintf("unexpected status %d", status), err: errors.Wrapf(ErrProtocol, "status %d", status)}
		}
	}
}

// bodyMarkers builds a classifier for calls whose 200-status body can still
// describe a failure (pwdgrp.cgi and friends write "Error: ..." into a
// 200 response instead of using the status line). idempotent markers, when
// found in a failing body, are normalized to success, with the device's
// text kept in the message; anything else failing is terminal.
func bodyMarkers(idempotent ...string) classifier {
	return func(status int, body []byte, _ http.Header, transportErr error) result {
		if r, transient := classifyTransient(status, transportErr); transient {
			return r
		}
		if status == http.StatusUnauthorized || status == http.StatusForbidden {
			return result{outcome: outcomeTerminal, message: "authentication failed", err: ErrAuth}
		}
		if status != http.StatusOK {
			return result{outcome: outcomeTerminal, message: fmt.Sprintf("unexpected status %d", status), err: errors.Wrapf(ErrProtocol, "status %d", status)}
		}
		if !bytes.Contains(bytes.ToLower(body), []byte("error")) {
			return result{outcome: outcomeSuccess, message: "ok"}
		}
		text := string(bytes.TrimSpace(body))
		for _, marker := range idempotent {
			if bytes.Contains(bytes.ToLower(body), []byte(marker)) {
				return result{outcome: outcomeSuccess, message: fmt.Sprintf("recognized idempotent response: %s", text)}
			}
		}
		return result{outcome: outcomeTerminal, message: text, err: errors.Wrap(ErrProtocol, text)}
	}
}

// bodyMarkersTerminal is bodyMarkers except a recognized marker is reported
// as a terminal failure carrying the marker text, rather than normalized
// to success on the spot. Some calls (create-onvif-user) need to see that
// the marker fired before deciding what to do next, rather than having it
// silently become a success.
func bodyMarkersTerminal(markers ...string) classifier {
	return func(status int, body []byte, _ http.Header, transportErr error) result {
		if r, transient := classifyTransient(status, transportErr); transient {
			return r
		}
		if status == http.StatusUnauthorized || status == http.StatusForbidden {
			return result{outcome: outcomeTerminal, message: "authentication failed", err: ErrAuth}
		}
		if status != http.StatusOK {
			return result{outcome: outcomeTerminal, message: fmt.Sprintf("unexpected status %d", status), err: errors.Wrapf(ErrProtocol, "status %d", status)}
		}
		text := string(bytes.TrimSpace(body))
		if !bytes.Contains(bytes.ToLower(body), []byte("error")) {
			return result{outcome: outcomeSuccess, message: "ok"}
		}
		for _, marker := range markers {
			if bytes.Contains(bytes.ToLower(body), []byte(marker)) {
				return result{outcome: outcomeTerminal, message: text, err: ErrDeviceState}
			}
		}
		return result{outcome: outcomeTerminal, message: text, err: errors.Wrap(ErrProtocol, text)}
	}
}
