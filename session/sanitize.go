// MIT License
//
// Copyright (c) 2022-2026 GoAkt Team
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package session

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/tochemey/podsession/errors"
)

// maxSafeKeyLength keeps the derived pod name within the kubernetes 63
// character limit once the pod name prefix is prepended.
const maxSafeKeyLength = 52

var unsafeChars = regexp.MustCompile(`[^a-z0-9]+`)

// SafeKey maps an arbitrary user key onto a resource-name-safe form:
// lowercased, every run of characters outside [a-z0-9] collapsed into a
// single dash, leading and trailing dashes stripped, length capped. This is
// the sole defense against resource-name injection, so a key with no safe
// characters at all is rejected rather than defaulted.
func SafeKey(key string) (string, error) {
	safe := strings.ToLower(key)
	safe = unsafeChars.ReplaceAllString(safe, "-")
	safe = strings.Trim(safe, "-")
	if len(safe) > maxSafeKeyLength {
		safe = strings.Trim(safe[:maxSafeKeyLength], "-")
	}
	if safe == "" {
		return "", fmt.Errorf("key %q has no resource-name-safe characters: %w", key, errors.ErrInvalidKey)
	}
	return safe, nil
}
