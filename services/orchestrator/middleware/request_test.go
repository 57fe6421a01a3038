// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.


package middleware

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/AleutianAI/IndoClimate/pkg/fingerprint"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newRouter(capture **RequestInfo) *gin.Engine {
	r := gin.New()
	r.Use(RequestContext(), AccessLog())
	r.GET("/v1/ping", func(c *gin.Context) {
		*capture = GetRequestInfo(c)
		c.Status(http.StatusNoContent)
	})
	return r
}

func TestRequestContext(t *testing.T) {
	tests := []struct {
		name     string
		header   string
		wantKeep bool
	}{
		{"generated when absent", "", false},
		{"kept when valid", "req-123", true},
		{"replaced when too long", strings.Repeat("a", 65), false},
		{"replaced when not printable", "bad id", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var info *RequestInfo
			r := newRouter(&info)

			req := httptest.NewRequest(http.MethodGet, "/v1/ping", nil)
			req.RemoteAddr = "192.0.2.10:4000"
			req.Header.Set("User-Agent", "curl/8.0")
			if tt.header != "" {
				req.Header.Set(HeaderRequestID, tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			require.NotNil(t, info)
			if tt.wantKeep {
				assert.Equal(t, tt.header, info.RequestID)
			} else {
				assert.NotEqual(t, tt.header, info.RequestID)
				assert.Len(t, info.RequestID, 36)
			}
			assert.Equal(t, info.RequestID, w.Header().Get(HeaderRequestID))
			assert.Equal(t, fingerprint.Key("192.0.2.10", "curl/8.0"), info.Fingerprint)
		})
	}
}

func TestGetRequestInfo_Absent(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	assert.Nil(t, GetRequestInfo(c))
	c.Set(requestInfoKey, "wrong type")
	assert.Nil(t, GetRequestInfo(c))
}

func TestAccessLog_NeverLogsRawAddress(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	defer slog.SetDefault(prev)

	var info *RequestInfo
	r := newRouter(&info)
	req := httptest.NewRequest(http.MethodGet, "/v1/ping", nil)
	req.RemoteAddr = "198.51.100.77:4000"
	r.ServeHTTP(httptest.NewRecorder(), req)

	out := buf.String()
	assert.Contains(t, out, `"route":"/v1/ping"`)
	assert.Contains(t, out, `"status":204`)
	assert.Contains(t, out, info.Fingerprint)
	assert.NotContains(t, out, "198.51.100.77")
}
