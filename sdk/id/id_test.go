// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package id

import (
	"strings"
	"testing"

	"github.com/hashicorp/go-uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Parallel()
	const uuidLen = 36
	tests := []struct {
		name    string
		prefix  string
		wantLen int
	}{
		{
			name:    "valid",
			prefix:  "req",
			wantLen: uuidLen + len("req_"),
		},
		{
			name:    "no-prefix",
			prefix:  "",
			wantLen: uuidLen,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert, require := assert.New(t), require.New(t)
			got, err := New(tt.prefix)
			require.NoError(err)
			assert.Len(got, tt.wantLen)
			raw := got
			if tt.prefix != "" {
				assert.True(strings.HasPrefix(got, tt.prefix+"_"))
				raw = strings.TrimPrefix(got, tt.prefix+"_")
			}
			_, err = uuid.ParseUUID(raw)
			assert.NoError(err)
		})
	}
}
