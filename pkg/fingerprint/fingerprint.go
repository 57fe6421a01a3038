// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package fingerprint derives short, deterministic keys for client
// connections so that raw IPs and user agents never become index keys.
package fingerprint

import (
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// Separator joins the IP hash and the user-agent hash in a connection key.
const Separator = ":"

// Hash returns a short deterministic hash of s (base-36 xxhash64).
//
// # Examples
//
//	fingerprint.Hash("10.0.0.1") == fingerprint.Hash("10.0.0.1") // always
//
// # Limitations
//
//   - Not a cryptographic hash. It hides values from casual inspection of
//     index keys; it does not resist brute force over the IPv4 space.
func Hash(s string) string {
	return strconv.FormatUint(xxhash.Sum64String(s), 36)
}

// Key returns the connection fingerprint for an IP and user agent:
// Hash(ip) + Separator + Hash(userAgent).
//
// Surrounding whitespace is ignored and the IP is lower-cased so that
// "::FFFF:10.0.0.1" and "::ffff:10.0.0.1" share a key.
func Key(ip, userAgent string) string {
	ip = strings.ToLower(strings.TrimSpace(ip))
	userAgent = strings.TrimSpace(userAgent)
	return Hash(ip) + Separator + Hash(userAgent)
}
