package models

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oktetlabs/test-environment-sub007/internal/arena"
	"github.com/oktetlabs/test-environment-sub007/pkg/cwmp"
)

func TestInformIDsIncrease(t *testing.T) {
	assert := require.New(t)
	base := arena.LiveBytes()

	acs := NewAcs("a1")
	cpe, err := acs.AddCpe("c1")
	assert.NoError(err)

	_, err = cpe.InformByID(0)
	assert.ErrorIs(err, ErrNotReady)

	var last uint32
	for i := 0; i < 3; i++ {
		rec, err := cpe.AddInform(&cwmp.Inform{RetryCount: uint32(i)}, 100)
		assert.NoError(err)
		assert.Greater(rec.RequestID, last)
		last = rec.RequestID
	}

	latest, err := cpe.InformByID(0)
	assert.NoError(err)
	assert.Equal(last, latest.RequestID)
	assert.Equal(uint32(2), latest.Inform.RetryCount)

	first, err := cpe.InformByID(1)
	assert.NoError(err)
	assert.Equal(uint32(0), first.Inform.RetryCount)

	_, err = cpe.InformByID(42)
	assert.ErrorIs(err, ErrNoSuchRpc)

	cpe.Reset()
	assert.Empty(cpe.Informs)
	assert.Equal(base, arena.LiveBytes())

	rec, err := cpe.AddInform(&cwmp.Inform{}, 1)
	assert.NoError(err)
	assert.Equal(uint32(4), rec.RequestID)
	cpe.Reset()
}

func TestAcsCpes(t *testing.T) {
	assert := require.New(t)

	acs := NewAcs("a1")
	assert.Equal(AuthDigest, acs.AuthMode)

	_, err := acs.AddCpe("c1")
	assert.NoError(err)
	_, err = acs.AddCpe("c1")
	assert.ErrorIs(err, ErrConfigConflict)
	_, err = acs.AddCpe("")
	assert.ErrorIs(err, ErrInvalid)

	c, err := acs.Cpe("c1")
	assert.NoError(err)
	assert.Equal("a1/c1", c.FullName())
	assert.True(c.Enabled)

	assert.NoError(acs.RemoveCpe("c1"))
	assert.ErrorIs(acs.RemoveCpe("c1"), ErrNoSuchCpe)
	_, err = acs.Cpe("c1")
	assert.ErrorIs(err, ErrNoSuchCpe)
}

func TestHTTPResponseOverride(t *testing.T) {
	assert := require.New(t)

	r, err := ParseHTTPResponse("302 http://elsewhere/")
	assert.NoError(err)
	assert.Equal(302, r.Code)
	assert.Equal("http://elsewhere/", r.Location)
	assert.Equal("302 http://elsewhere/", r.String())

	r, err = ParseHTTPResponse("")
	assert.NoError(err)
	assert.Nil(r)

	_, err = ParseHTTPResponse("abc")
	assert.ErrorIs(err, ErrInvalid)
	_, err = NewHTTPResponse("302", strings.Repeat("x", MaxLocationLen+1))
	assert.ErrorIs(err, ErrInvalid)

	acs := NewAcs("a1")
	cpe, _ := acs.AddCpe("c1")
	acs.HTTPResponse = &HTTPResponse{Code: 302, Location: "http://acs/"}
	cpe.HTTPResponse = &HTTPResponse{Code: 307, Location: "http://cpe/"}

	assert.Equal(307, acs.TakeHTTPResponse(cpe).Code)
	assert.Equal(302, acs.TakeHTTPResponse(cpe).Code)
	assert.Nil(acs.TakeHTTPResponse(cpe))
}

func TestParseAuthMode(t *testing.T) {
	assert := require.New(t)

	for s, want := range map[string]AuthMode{"noauth": AuthNone, "Basic": AuthBasic, "digest": AuthDigest} {
		got, err := ParseAuthMode(s)
		assert.NoError(err)
		assert.Equal(want, got)
	}
	_, err := ParseAuthMode("kerberos")
	assert.ErrorIs(err, ErrInvalid)
	assert.Equal("noauth", AuthNone.String())
}

func TestVariablesScan(t *testing.T) {
	assert := require.New(t)

	var v Variables
	assert.NoError(v.Scan(nil))
	assert.Empty(v)
	assert.NoError(v.Scan([]byte(`{"state":"serve"}`)))
	assert.Equal("serve", v["state"])
	assert.NoError(v.Scan(`{"peer":"10.0.0.1"}`))
	assert.Equal("10.0.0.1", v["peer"])

	assert.Error(v.Scan(42))

	data, err := Variables{"a": "b"}.Value()
	assert.NoError(err)
	assert.JSONEq(`{"a":"b"}`, string(data.([]byte)))
}
