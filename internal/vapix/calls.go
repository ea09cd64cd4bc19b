package vapix

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"camprovision/internal/hwaddr"
)

// CreateInitialAdmin creates the root account on a factory-fresh device.
// It is the one call in this package that never authenticates: a device
// with no admin account yet accepts its first pwdgrp.cgi write unauthed.
//
// A 401/403 here doesn't necessarily mean failure: it's also
// what a device that already has root configured returns to an
// unauthenticated write. Distinguish the two by following up with an
// authenticated liveness probe using the same password; if that
// succeeds, the account is already set up exactly as requested.
func (c *Client) CreateInitialAdmin(ctx context.Context) (bool, string) {
	query := url.Values{
		"action": {"add"},
		"user":   {"root"},
		"pwd":    {c.Credentials.RootPassword},
		"grp":    {"root"},
		"sgrp":   {"admin:operator:viewer:ptz"},
	}
	ok, msg, callErr := c.attemptErr(ctx, false, func() (*http.Request, error) {
		return http.NewRequest(http.MethodGet, c.url("/axis-cgi/pwdgrp.cgi", query), nil)
	}, bodyMarkers("account already exist"))
	if ok {
		return true, msg
	}
	if !errors.Is(callErr, ErrAuth) {
		return false, msg
	}

	probeOK, probeMsg := c.attempt(ctx, true, func() (*http.Request, error) {
		return http.NewRequest(http.MethodGet, c.url("/axis-cgi/usergroup.cgi", nil), nil)
	}, statusOnly())
	if probeOK {
		return true, fmt.Sprintf("already initialized: authenticated probe with supplied password succeeded (%s)", probeMsg)
	}
	return false, msg
}

// CreateSecondaryAdmin provisions the operator's own login alongside root,
// in group "users" with the same admin:operator:viewer:ptz secondary
// groups as root; only called when Credentials.HasSecondary().
func (c *Client) CreateSecondaryAdmin(ctx context.Context) (bool, string) {
	query := url.Values{
		"action": {"add"},
		"user":   {c.Credentials.SecondaryUser},
		"pwd":    {c.Credentials.SecondaryPassword},
		"grp":    {"users"},
		"sgrp":   {"admin:operator:viewer:ptz"},
	}
	return c.attempt(ctx, true, func() (*http.Request, error) {
		return http.NewRequest(http.MethodGet, c.url("/axis-cgi/pwdgrp.cgi", query), nil)
	}, bodyMarkers("account already exist"))
}

// CreateOnvifUser provisions an ONVIF account in group "users" with
// secondary groups "onvif" plus the admin/operator/viewer set its ONVIF
// surface needs; only called when Credentials.HasOnvif(). A
// conflict (the account already exists) is followed by an update call
// rather than treated as done outright, since an existing account may
// still need its password brought in line with this run's credentials;
// once the account is known to exist, the step reports success whether
// the update call succeeds or fails.
func (c *Client) CreateOnvifUser(ctx context.Context) (bool, string) {
	query := url.Values{
		"action": {"add"},
		"user":   {c.Credentials.OnvifUser},
		"pwd":    {c.Credentials.OnvifPassword},
		"grp":    {"users"},
		"sgrp":   {"onvif:admin:operator:viewer"},
	}
	ok, msg := c.attempt(ctx, true, func() (*http.Request, error) {
		return http.NewRequest(http.MethodGet, c.url("/axis-cgi/pwdgrp.cgi", query), nil)
	}, bodyMarkersTerminal("account already exist"))
	if ok {
		return true, msg
	}
	if !strings.Contains(strings.ToLower(msg), "account already exist") {
		return false, msg
	}

	updateQuery := url.Values{
		"action": {"update"},
		"user":   {c.Credentials.OnvifUser},
		"pwd":    {c.Credentials.OnvifPassword},
		"sgrp":   {"onvif:admin:operator:viewer"},
	}
	updateOK, updateMsg := c.attempt(ctx, true, func() (*http.Request, error) {
		return http.NewRequest(http.MethodGet, c.url("/axis-cgi/pwdgrp.cgi", updateQuery), nil)
	}, bodyMarkers("account already exist"))
	if updateOK {
		return true, fmt.Sprintf("account already existed, update applied: %s", updateMsg)
	}
	// Update failed but the account is confirmed to exist: that still
	// counts as success, since an ONVIF account under this name is the
	// end state this step wants.
	return true, fmt.Sprintf("account already existed, update not applied: %s", updateMsg)
}

// SetWDROff disables wide dynamic range, a param.cgi write.
func (c *Client) SetWDROff(ctx context.Context) (bool, string) {
	return c.setParam(ctx, "ImageSource.I0.Sensor.WDR", "off")
}

// SetReplayProtectionOff disables WS-UsernameToken replay protection.
// Older firmware that never shipped this parameter reports "No such
// parameter" in the body with a 200 status; that's treated as success
// (the capability is simply absent, not a failure to disable it).
func (c *Client) SetReplayProtectionOff(ctx context.Context) (bool, string) {
	query := url.Values{"action": {"update"}, "WebService.UsernameToken.ReplayAttackProtection": {"no"}}
	return c.attempt(ctx, true, func() (*http.Request, error) {
		return http.NewRequest(http.MethodGet, c.url("/axis-cgi/param.cgi", query), nil)
	}, bodyMarkers("no such parameter"))
}

func (c *Client) setParam(ctx context.Context, name, value string) (bool, string) {
	query := url.Values{"action": {"update"}, name: {value}}
	return c.attempt(ctx, true, func() (*http.Request, error) {
		return http.NewRequest(http.MethodGet, c.url("/axis-cgi/param.cgi", query), nil)
	}, statusOnly())
}

// staticAddressConfig is one address entry in the modern JSON payload.
type staticAddressConfig struct {
	Address      string `json:"address"`
	PrefixLength int    `json:"prefixLength"`
}

// staticAddressBody is the modern JSON payload accepted by
// network_settings.cgi.
type staticAddressBody struct {
	APIVersion string `json:"apiVersion"`
	Context    string `json:"context"`
	Method     string `json:"method"`
	Params     struct {
		DeviceName                  string                `json:"deviceName"`
		ConfigurationMode           string                `json:"configurationMode"`
		StaticDefaultRouter         string                `json:"staticDefaultRouter"`
		StaticAddressConfigurations []staticAddressConfig `json:"staticAddressConfigurations"`
	} `json:"params"`
}

// SetStaticAddress assigns the device's final static IPv4 address. It
// tries the JSON network_settings.cgi surface first and falls back to the
// legacy param.cgi form on failure; both forms are the same logical step.
func (c *Client) SetStaticAddress(ctx context.Context, addr, mask, gateway string) (bool, string) {
	prefix, err := PrefixLength(mask)
	if err != nil {
		return false, err.Error()
	}

	var payload staticAddressBody
	payload.APIVersion = "1.0"
	payload.Context = uuid.New().String()
	payload.Method = "setIPv4AddressConfiguration"
	payload.Params.DeviceName = "eth0"
	payload.Params.ConfigurationMode = "static"
	payload.Params.StaticDefaultRouter = gateway
	payload.Params.StaticAddressConfigurations = []staticAddressConfig{
		{Address: addr, PrefixLength: prefix},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return false, err.Error()
	}

	ok, msg := c.attempt(ctx, true, func() (*http.Request, error) {
		req, err := http.NewRequest(http.MethodPost, c.url("/axis-cgi/network_settings.cgi", nil), strings.NewReader(string(body)))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	}, jsonNetworkSettingsClassifier())
	if ok {
		return true, msg
	}

	// Legacy fallback: older firmware exposes this as discrete param.cgi
	// writes rather than one JSON document. BootProto "none" is the
	// legacy surface's spelling of "static".
	query := url.Values{
		"action":                     {"update"},
		"Network.eth0.IPAddress":     {addr},
		"Network.eth0.SubnetMask":    {mask},
		"Network.eth0.DefaultRouter": {gateway},
		"Network.BootProto":          {"none"},
	}
	return c.attempt(ctx, true, func() (*http.Request, error) {
		return http.NewRequest(http.MethodGet, c.url("/axis-cgi/admin/param.cgi", query), nil)
	}, statusOnly())
}

type networkSettingsResponse struct {
	APIVersion string `json:"apiVersion"`
	Data       struct {
		PropertyList map[string]interface{} `json:"propertyList"`
	} `json:"data"`
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func jsonNetworkSettingsClassifier() classifier {
	return func(status int, body []byte, _ http.Header, transportErr error) result {
		if r, transient := classifyTransient(status, transportErr); transient {
			return r
		}
		if status == http.StatusNotFound {
			return result{outcome: outcomeTerminal, message: "network_settings.cgi not present", err: ErrProtocol}
		}
		if status == http.StatusUnauthorized || status == http.StatusForbidden {
			return result{outcome: outcomeTerminal, message: "authentication failed", err: ErrAuth}
		}
		var parsed networkSettingsResponse
		if err := json.Unmarshal(body, &parsed); err != nil {
			return result{outcome: outcomeTerminal, message: "malformed JSON response", err: ErrProtocol}
		}
		if parsed.Error.Code != 0 {
			return result{outcome: outcomeTerminal, message: parsed.Error.Message, err: ErrProtocol}
		}
		return result{outcome: outcomeSuccess, message: "ok"}
	}
}

// DeviceInfo is the identity returned by GetMACAndSerial.
type DeviceInfo struct {
	HWAddr hwaddr.HardwareAddress
	Serial string
}

type basicDeviceInfoXML struct {
	XMLName xml.Name `xml:"root"`
	Data    struct {
		PropertyList struct {
			SerialNumber string `xml:"SerialNumber"`
		} `xml:"propertyList"`
	} `xml:"data"`
}

// GetMACAndSerial reads back the device's hardware address and serial
// number, used to confirm identity after an address change. It tries
// param.cgi's flat key=value form first and falls back to
// basicdeviceinfo.cgi's XML document; either value alone is enough to
// count as success.
func (c *Client) GetMACAndSerial(ctx context.Context) (DeviceInfo, bool, string) {
	var info DeviceInfo

	if hw, serial, found := c.fetchParamIdentity(ctx); found {
		info.HWAddr = hw
		info.Serial = serial
		return info, true, "ok"
	}

	// XML fallback via basicdeviceinfo.cgi.
	var doc basicDeviceInfoXML
	ok, msg := c.attempt(ctx, true, func() (*http.Request, error) {
		return http.NewRequest(http.MethodGet, c.url("/axis-cgi/basicdeviceinfo.cgi", url.Values{"action": {"list"}}), nil)
	}, xmlDeviceInfoClassifier(&doc))
	if !ok {
		return info, false, msg
	}
	info.Serial = strings.TrimSpace(doc.Data.PropertyList.SerialNumber)
	if info.Serial == "" {
		return info, false, "no MAC address or serial number in device response"
	}
	return info, true, msg
}

func xmlDeviceInfoClassifier(doc *basicDeviceInfoXML) classifier {
	return func(status int, body []byte, _ http.Header, transportErr error) result {
		if r, transient := classifyTransient(status, transportErr); transient {
			return r
		}
		if status == http.StatusUnauthorized || status == http.StatusForbidden {
			return result{outcome: outcomeTerminal, message: "authentication failed", err: ErrAuth}
		}
		if status != http.StatusOK {
			return result{outcome: outcomeTerminal, message: fmt.Sprintf("unexpected status %d", status), err: ErrProtocol}
		}
		if err := xml.Unmarshal(body, doc); err != nil {
			return result{outcome: outcomeTerminal, message: "malformed XML response", err: ErrProtocol}
		}
		return result{outcome: outcomeSuccess, message: "ok"}
	}
}

// fetchParamIdentity reads param.cgi's eth0 MAC and system serial so
// GetMACAndSerial can return a parsed hwaddr.HardwareAddress rather than
// a bare ok/fail pair. Partial results count: either value alone makes
// the read a success.
func (c *Client) fetchParamIdentity(ctx context.Context) (hwaddr.HardwareAddress, string, bool) {
	var hw hwaddr.HardwareAddress
	var serial string
	var found bool

	query := url.Values{"action": {"list"}, "group": {"root.Network.eth0.MACAddress,root.Properties.System.SerialNumber"}}
	c.attempt(ctx, true, func() (*http.Request, error) {
		return http.NewRequest(http.MethodGet, c.url("/axis-cgi/param.cgi", query), nil)
	}, func(status int, body []byte, _ http.Header, transportErr error) result {
		if r, transient := classifyTransient(status, transportErr); transient {
			return r
		}
		if status != http.StatusOK {
			return result{outcome: outcomeTerminal, message: fmt.Sprintf("unexpected status %d", status), err: ErrProtocol}
		}
		for _, line := range strings.Split(string(body), "\n") {
			line = strings.TrimSpace(line)
			k, v, ok := strings.Cut(line, "=")
			if !ok {
				continue
			}
			switch {
			case strings.HasSuffix(k, "MACAddress"):
				if parsed, err := hwaddr.Parse(v); err == nil {
					hw = parsed
					found = true
				}
			case strings.HasSuffix(k, "SerialNumber"):
				serial = strings.TrimSpace(v)
				if serial != "" {
					found = true
				}
			}
		}
		return result{outcome: outcomeSuccess, message: "ok"}
	})
	return hw, serial, found
}
