// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HomeHeaven Contributors

package errutil

import "github.com/samber/oops"

// Code returns the oops error code carried by err, or "" when err is not an
// oops error or carries no string code.
func Code(err error) string {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return ""
	}
	code, _ := oopsErr.Code().(string)
	return code
}

// Context returns the value stored under key in err's oops context.
func Context(err error, key string) (any, bool) {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return nil, false
	}
	v, ok := oopsErr.Context()[key]
	return v, ok
}
