package validation

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type sample struct {
	Acs    string `json:"acs" validate:"required,max=8"`
	Port   int    `json:"port" validate:"min=1,max=65535"`
	Mode   string `json:"mode" validate:"oneof=noauth basic digest"`
	Ignore string
}

func TestValidate(t *testing.T) {
	assert := require.New(t)
	v := NewValidator()

	assert.NoError(v.Validate(&sample{Acs: "a1", Port: 7547, Mode: "digest"}))
	assert.NoError(v.Validate(sample{Acs: "a1", Port: 1}))

	err := v.Validate(&sample{Port: 1})
	assert.ErrorContains(err, "acs: field is required")

	err = v.Validate(&sample{Acs: "toolongname", Port: 1})
	assert.ErrorContains(err, "maximum is 8")

	err = v.Validate(&sample{Acs: "a1", Port: 0})
	assert.ErrorContains(err, "port: minimum is 1")

	err = v.Validate(&sample{Acs: "a1", Port: 1, Mode: "kerberos"})
	assert.ErrorContains(err, "mode")

	assert.Error(v.Validate(42))
}
