// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import "github.com/hashicorp/go-hclog"

// FlowState is the state of one user's login attempt.
//
//	Idle -> AwaitingCallback -> Exchanging -> Authenticated
//	                                      \-> Failed
//
// A new attempt always starts from Idle with a new CodeVerifier.
type FlowState string

const (
	FlowIdle             FlowState = "idle"
	FlowAwaitingCallback FlowState = "awaiting_callback"
	FlowExchanging       FlowState = "exchanging"
	FlowAuthenticated    FlowState = "authenticated"
	FlowFailed           FlowState = "failed"
)

// String returns the state's name.
func (s FlowState) String() string { return string(s) }

// Terminal returns true for Authenticated and Failed.
func (s FlowState) Terminal() bool {
	return s == FlowAuthenticated || s == FlowFailed
}

// Log records a transition to s.  Terminal states are logged at Info and the
// others at Debug.
func (s FlowState) Log(l hclog.Logger, args ...interface{}) {
	if l == nil {
		return
	}
	args = append([]interface{}{"state", s}, args...)
	if s.Terminal() {
		l.Info("flow state", args...)
		return
	}
	l.Debug("flow state", args...)
}
