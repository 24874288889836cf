package epc

import (
	"fmt"
	"strconv"

	"github.com/oktetlabs/test-environment-sub007/internal/models"
)

// acsField accesses one configuration field of an ACS. A nil set makes the
// field read-only.
type acsField struct {
	get func(a *models.Acs) string
	set func(d *Dispatcher, a *models.Acs, v string) error
}

type cpeField struct {
	get func(d *Dispatcher, c *models.Cpe) string
	set func(d *Dispatcher, c *models.Cpe, v string) error
}

func formatBool(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func parseBool(v string) (bool, error) {
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%w: boolean %q", models.ErrInvalid, v)
	}
	return b, nil
}

func setBool(dst *bool, v string) error {
	b, err := parseBool(v)
	if err != nil {
		return err
	}
	*dst = b
	return nil
}

var acsFields = map[string]acsField{
	"url": {
		get: func(a *models.Acs) string { return a.URL },
		set: func(_ *Dispatcher, a *models.Acs, v string) error { a.URL = v; return nil },
	},
	"http_root": {
		get: func(a *models.Acs) string { return a.HTTPRoot },
		set: func(_ *Dispatcher, a *models.Acs, v string) error { a.HTTPRoot = v; return nil },
	},
	"auth_mode": {
		get: func(a *models.Acs) string { return a.AuthMode.String() },
		set: func(_ *Dispatcher, a *models.Acs, v string) error {
			m, err := models.ParseAuthMode(v)
			if err != nil {
				return err
			}
			a.AuthMode = m
			return nil
		},
	},
	"cert": {
		get: func(a *models.Acs) string { return a.Cert },
		set: func(_ *Dispatcher, a *models.Acs, v string) error {
			if a.Listening && v != a.Cert {
				return fmt.Errorf("acs %s is listening: %w", a.Name, models.ErrConfigConflict)
			}
			a.Cert = v
			return nil
		},
	},
	"ssl": {
		get: func(a *models.Acs) string { return formatBool(a.SSL) },
		set: func(_ *Dispatcher, a *models.Acs, v string) error {
			on, err := parseBool(v)
			if err != nil {
				return err
			}
			if a.Listening && on != a.SSL {
				return fmt.Errorf("acs %s is listening: %w", a.Name, models.ErrConfigConflict)
			}
			a.SSL = on
			return nil
		},
	},
	"traffic_log": {
		get: func(a *models.Acs) string { return formatBool(a.TrafficLog) },
		set: func(_ *Dispatcher, a *models.Acs, v string) error { return setBool(&a.TrafficLog, v) },
	},
	"port": {
		get: func(a *models.Acs) string { return strconv.Itoa(a.Port) },
		set: func(_ *Dispatcher, a *models.Acs, v string) error {
			port, err := strconv.Atoi(v)
			if err != nil || port < 0 || port > 65535 {
				return fmt.Errorf("%w: port %q", models.ErrInvalid, v)
			}
			if a.Listening && port != a.Port {
				return fmt.Errorf("acs %s is listening on %d: %w", a.Name, a.Port, models.ErrConfigConflict)
			}
			a.Port = port
			return nil
		},
	},
	"enabled": {
		get: func(a *models.Acs) string { return formatBool(a.Listening) },
		set: func(d *Dispatcher, a *models.Acs, v string) error {
			on, err := parseBool(v)
			if err != nil {
				return err
			}
			switch {
			case on && !a.Listening:
				return d.ctl.EnableAcs(a)
			case !on && a.Listening:
				return d.ctl.DisableAcs(a)
			}
			return nil
		},
	},
	"http_response": {
		get: func(a *models.Acs) string { return a.HTTPResponse.String() },
		set: func(_ *Dispatcher, a *models.Acs, v string) error {
			r, err := models.ParseHTTPResponse(v)
			if err != nil {
				return err
			}
			a.HTTPResponse = r
			return nil
		},
	},
}

var cpeFields = map[string]cpeField{
	"cr_url": {
		get: func(_ *Dispatcher, c *models.Cpe) string { return c.URL },
		set: func(_ *Dispatcher, c *models.Cpe, v string) error { c.URL = v; return nil },
	},
	"cert": {
		get: func(_ *Dispatcher, c *models.Cpe) string { return c.Cert },
		set: func(_ *Dispatcher, c *models.Cpe, v string) error { c.Cert = v; return nil },
	},
	"cr_login": {
		get: func(_ *Dispatcher, c *models.Cpe) string { return c.CRAuth.Login },
		set: func(_ *Dispatcher, c *models.Cpe, v string) error { c.CRAuth.Login = v; return nil },
	},
	"cr_passwd": {
		get: func(_ *Dispatcher, c *models.Cpe) string { return c.CRAuth.Password },
		set: func(_ *Dispatcher, c *models.Cpe, v string) error { c.CRAuth.Password = v; return nil },
	},
	"login": {
		get: func(_ *Dispatcher, c *models.Cpe) string { return c.AcsAuth.Login },
		set: func(_ *Dispatcher, c *models.Cpe, v string) error { c.AcsAuth.Login = v; return nil },
	},
	"passwd": {
		get: func(_ *Dispatcher, c *models.Cpe) string { return c.AcsAuth.Password },
		set: func(_ *Dispatcher, c *models.Cpe, v string) error { c.AcsAuth.Password = v; return nil },
	},
	"manufacturer": {
		get: func(_ *Dispatcher, c *models.Cpe) string { return c.DeviceID.Manufacturer },
	},
	"oui": {
		get: func(_ *Dispatcher, c *models.Cpe) string { return c.DeviceID.OUI },
	},
	"product_class": {
		get: func(_ *Dispatcher, c *models.Cpe) string { return c.DeviceID.ProductClass },
	},
	"serial_number": {
		get: func(_ *Dispatcher, c *models.Cpe) string { return c.DeviceID.SerialNumber },
	},
	"cwmp_state": {
		get: func(d *Dispatcher, c *models.Cpe) string { return strconv.Itoa(int(d.ctl.SessionState(c))) },
	},
	"cr_state": {
		get: func(_ *Dispatcher, c *models.Cpe) string { return strconv.Itoa(int(takeCRState(c))) },
	},
	"sync_mode": {
		get: func(_ *Dispatcher, c *models.Cpe) string { return formatBool(c.SyncMode) },
		set: func(d *Dispatcher, c *models.Cpe, v string) error {
			on, err := parseBool(v)
			if err != nil {
				return err
			}
			d.setSyncMode(c, on)
			return nil
		},
	},
	"chunk_mode": {
		get: func(_ *Dispatcher, c *models.Cpe) string { return formatBool(c.ChunkMode) },
		set: func(_ *Dispatcher, c *models.Cpe, v string) error { return setBool(&c.ChunkMode, v) },
	},
	"traffic_log": {
		get: func(_ *Dispatcher, c *models.Cpe) string { return formatBool(c.TrafficLog) },
		set: func(_ *Dispatcher, c *models.Cpe, v string) error { return setBool(&c.TrafficLog, v) },
	},
	"hold_requests": {
		get: func(_ *Dispatcher, c *models.Cpe) string { return formatBool(c.HoldRequests) },
		set: func(_ *Dispatcher, c *models.Cpe, v string) error { return setBool(&c.HoldRequests, v) },
	},
	"enabled": {
		get: func(_ *Dispatcher, c *models.Cpe) string { return formatBool(c.Enabled) },
		set: func(d *Dispatcher, c *models.Cpe, v string) error {
			on, err := parseBool(v)
			if err != nil {
				return err
			}
			switch {
			case on:
				c.Enabled = true
			case c.Enabled:
				d.ctl.DisableCpe(c)
			}
			return nil
		},
	},
}
