// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package errs

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWrapNilReturnsNil(t *testing.T) {
	assert.Nil(t, Wrap(nil, KindInternal, "x"))
	assert.Nil(t, Wrapf(nil, KindInternal, "x %d", 1))
	assert.Nil(t, Attr(nil, "k", "v"))
}

func TestGetKind(t *testing.T) {
	err := New(KindPathLoop, "loop detected")
	assert.Equal(t, KindPathLoop, GetKind(err))
	assert.Equal(t, KindUnknown, GetKind(assert.AnError))
}

func TestAttrChain(t *testing.T) {
	err := Wrap(assert.AnError, KindNamespaceOp, "ip link add failed")
	err = Attr(err, "router", "r1")
	err = Attr(err, "cmd", "ip link add veth0")

	attrs := GetAttributes(err)
	assert.Equal(t, "r1", attrs["router"])
	assert.Equal(t, "ip link add veth0", attrs["cmd"])
	assert.Equal(t, KindNamespaceOp, GetKind(err))
}

func TestErrorStringIncludesUnderlying(t *testing.T) {
	err := Wrap(assert.AnError, KindValidation, "bad input")
	assert.Contains(t, err.Error(), "bad input")
	assert.Contains(t, err.Error(), assert.AnError.Error())
}
