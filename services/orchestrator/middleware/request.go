// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.


// Package middleware provides HTTP middleware for the orchestrator service.
//
// # Request Flow
//
//	Request
//	   │
//	   ▼
//	RequestContext
//	   │
//	   ├─► Accept or generate X-Request-ID
//	   │
//	   ├─► Derive the connection fingerprint from client IP and User-Agent
//	   │
//	   └─► Store RequestInfo in context
//	           │
//	           ▼
//	       Handler
//	           │
//	           ▼
//	AccessLog (logs method, route, status, latency, fingerprint)
//
// Raw client addresses never reach the logs; only the fingerprint does.
package middleware

import (
	"log/slog"
	"time"

	"github.com/AleutianAI/IndoClimate/pkg/fingerprint"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// HeaderRequestID carries the request id in both directions.
const HeaderRequestID = "X-Request-ID"

// requestInfoKey is the gin context key for RequestInfo.
const requestInfoKey = "indoclimate_request_info"

// maxRequestIDLength bounds client-supplied request ids.
const maxRequestIDLength = 64

// RequestInfo identifies one request.
type RequestInfo struct {
	RequestID   string
	Fingerprint string
	Started     time.Time
}

// SetRequestInfo stores info in the gin context.
func SetRequestInfo(c *gin.Context, info *RequestInfo) {
	c.Set(requestInfoKey, info)
}

// GetRequestInfo returns the request's info, or nil when RequestContext did
// not run.
func GetRequestInfo(c *gin.Context) *RequestInfo {
	if v, exists := c.Get(requestInfoKey); exists {
		if info, ok := v.(*RequestInfo); ok {
			return info
		}
	}
	return nil
}

// RequestContext assigns the request id and connection fingerprint.
//
// # Description
//
// A client-supplied X-Request-ID is kept when it is short and printable,
// otherwise a UUID is generated. The id is echoed in the response.
//
// # Thread Safety
//
// The returned middleware is safe for concurrent use.
func RequestContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(HeaderRequestID)
		if !validRequestID(id) {
			id = uuid.NewString()
		}
		SetRequestInfo(c, &RequestInfo{
			RequestID:   id,
			Fingerprint: fingerprint.Key(c.ClientIP(), c.Request.UserAgent()),
			Started:     time.Now(),
		})
		c.Header(HeaderRequestID, id)
		c.Next()
	}
}

func validRequestID(id string) bool {
	if id == "" || len(id) > maxRequestIDLength {
		return false
	}
	for i := 0; i < len(id); i++ {
		if id[i] < 0x21 || id[i] > 0x7e {
			return false
		}
	}
	return true
}

// AccessLog logs each completed request at Info, or Warn for 5xx.
// Health and metrics probes are logged at Debug.
func AccessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		attrs := []any{
			"method", c.Request.Method,
			"route", c.FullPath(),
			"status", c.Writer.Status(),
			"latency_ms", time.Since(start).Milliseconds(),
		}
		if info := GetRequestInfo(c); info != nil {
			attrs = append(attrs, "request_id", info.RequestID, "fingerprint", info.Fingerprint)
		}

		switch {
		case c.Writer.Status() >= 500:
			slog.Warn("Request completed", attrs...)
		case c.FullPath() == "/health" || c.FullPath() == "/metrics":
			slog.Debug("Request completed", attrs...)
		default:
			slog.Info("Request completed", attrs...)
		}
	}
}
