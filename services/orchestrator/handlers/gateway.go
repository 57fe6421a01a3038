// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.


package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/AleutianAI/IndoClimate/services/orchestrator/datatypes"
	"github.com/AleutianAI/IndoClimate/services/orchestrator/gateway"
	"github.com/AleutianAI/IndoClimate/services/orchestrator/services"
	"github.com/gin-gonic/gin"
)

// GatewayService answers inbound gateway messages.
// *services.GatewayTurnService implements it.
type GatewayService interface {
	Handle(ctx context.Context, from, message string) (datatypes.GatewayInboundResponse, error)
}

var _ GatewayService = (*services.GatewayTurnService)(nil)

// HandleGatewayInbound handles POST /v1/gateway/inbound.
//
// # Description
//
// The reply travels through the outbound gateway, not this response. The
// response only reports the outcome: 200 with status delivered, 200 with
// status timeout, and 502 with status failed when generation or delivery
// failed.
func HandleGatewayInbound(gw GatewayService) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := chatTracer.Start(c.Request.Context(), "HandleGatewayInbound")
		defer span.End()

		var req datatypes.GatewayInboundRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		if err := req.Validate(); err != nil {
			badRequest(c, err)
			return
		}

		resp, err := gw.Handle(ctx, req.From, req.Message)
		switch {
		case err == nil:
			c.JSON(http.StatusOK, resp)
		case errors.Is(err, services.ErrTurnTimeout):
			c.JSON(http.StatusOK, resp)
		default:
			span.RecordError(err)
			status := http.StatusBadGateway
			if !services.IsGenerationError(err) && !errors.Is(err, gateway.ErrDeliveryFailed) {
				status = http.StatusInternalServerError
			}
			c.JSON(status, resp)
		}
	}
}
