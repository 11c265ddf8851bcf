// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"golang.org/x/text/language"
)

func TestApplyOpts(t *testing.T) {
	// ApplyOpts testing is covered by other tests but we do have just more
	// more test to add here.
	// Let's make sure we don't panic on nil options
	anonymousOpts := struct {
		Names []string
	}{
		nil,
	}
	ApplyOpts(anonymousOpts, nil)
}

func Test_WithNow(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)
	testNow := func() time.Time { return time.Unix(1, 0) }

	cfgOpts := getConfigOpts(WithNow(testNow))
	assert.Equal(testNow(), cfgOpts.withNowFunc())

	tkOpts := getTokenOpts(WithNow(testNow))
	assert.Equal(testNow(), tkOpts.withNowFunc())

	// nil is ignored
	tkOpts = getTokenOpts(WithNow(nil))
	assert.Nil(tkOpts.withNowFunc)
}

func Test_WithScopes(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)
	cfgOpts := getConfigOpts(WithScopes("email", "profile"))
	assert.Equal([]string{"email", "profile"}, cfgOpts.withScopes)

	reqOpts := getReqOpts(WithScopes("user:read:email"))
	assert.Equal([]string{"user:read:email"}, reqOpts.withScopes)
}

func Test_WithLogger(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)
	l := hclog.New(&hclog.LoggerOptions{Name: "test"})
	opts := getProviderOpts(WithLogger(l))
	assert.Equal(l, opts.withLogger)

	// nil keeps the default null logger
	opts = getProviderOpts(WithLogger(nil))
	assert.NotNil(opts.withLogger)
}

func Test_WithUILocales(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)
	opts := getReqOpts(WithUILocales(language.AmericanEnglish, language.German))
	assert.Equal([]language.Tag{language.AmericanEnglish, language.German}, opts.withUILocales)
}
