// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlowState(t *testing.T) {
	t.Parallel()
	tests := []struct {
		state    FlowState
		name     string
		terminal bool
	}{
		{FlowIdle, "idle", false},
		{FlowAwaitingCallback, "awaiting_callback", false},
		{FlowExchanging, "exchanging", false},
		{FlowAuthenticated, "authenticated", true},
		{FlowFailed, "failed", true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.name, tt.state.String())
		assert.Equal(t, tt.terminal, tt.state.Terminal(), tt.name)
	}
}

func TestFlowState_Log(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	var buf bytes.Buffer
	l := hclog.New(&hclog.LoggerOptions{
		Output:     &buf,
		Level:      hclog.Debug,
		JSONFormat: true,
	})
	FlowIdle.Log(l)
	FlowFailed.Log(l, "kind", "invalid_id_token")
	FlowAuthenticated.Log(nil)

	dec := json.NewDecoder(&buf)
	var idle, failed map[string]interface{}
	require.NoError(dec.Decode(&idle))
	require.NoError(dec.Decode(&failed))
	assert.False(dec.More())

	assert.Equal("flow state", idle["@message"])
	assert.Equal("idle", idle["state"])
	assert.Equal("debug", idle["@level"])
	assert.Equal("failed", failed["state"])
	assert.Equal("info", failed["@level"])
	assert.Equal("invalid_id_token", failed["kind"])
}
