package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pwaburton/members/internal/profiles"
	"github.com/pwaburton/members/internal/support"
)

type ticketStatusPayload struct {
	Status string `json:"status"`
}

type responsePayload struct {
	Message string `json:"message"`
}

type noticePayload struct {
	Message     string `json:"message"`
	CollectorID string `json:"collector_id"`
}

func (h *httpHandler) handleListTickets(c *gin.Context) {
	filter := support.TicketFilter{
		Search:   c.Query("search"),
		Status:   c.Query("status"),
		Priority: c.Query("priority"),
	}
	if callerProfile(c).Role != profiles.RoleAdmin {
		filter.RequesterID = callerClaims(c).Subject
	}
	found, err := h.support.ListTickets(c.Request.Context(), filter)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, found)
}

func (h *httpHandler) handleCreateTicket(c *gin.Context) {
	var request support.TicketInput
	if err := c.ShouldBindJSON(&request); err != nil {
		h.respondInvalidRequest(c, "support.create_ticket.invalid_body", err)
		return
	}
	claims := callerClaims(c)
	request.RequesterID = claims.Subject
	if request.RequesterName == "" {
		request.RequesterName = claims.Email
	}
	ticket, err := h.support.CreateTicket(c.Request.Context(), request)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, ticket)
}

func (h *httpHandler) handleRespondTicket(c *gin.Context) {
	var request responsePayload
	if err := c.ShouldBindJSON(&request); err != nil {
		h.respondInvalidRequest(c, "support.respond.invalid_body", err)
		return
	}
	claims := callerClaims(c)
	isAdmin := callerProfile(c).Role == profiles.RoleAdmin
	if !isAdmin {
		ticket, err := h.support.GetTicket(c.Request.Context(), c.Param("id"))
		if err != nil {
			h.respondError(c, err)
			return
		}
		if ticket.RequesterID != claims.Subject {
			c.JSON(http.StatusForbidden, errorBody("forbidden", "server.tickets.not_requester"))
			return
		}
	}
	response, err := h.support.Respond(c.Request.Context(), c.Param("id"), support.ResponseInput{
		Message:  request.Message,
		IsAdmin:  isAdmin,
		AuthorID: claims.Subject,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, response)
}

func (h *httpHandler) handleSetTicketStatus(c *gin.Context) {
	var request ticketStatusPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		h.respondInvalidRequest(c, "support.set_status.invalid_body", err)
		return
	}
	ticket, err := h.support.SetStatus(c.Request.Context(), c.Param("id"), support.TicketStatus(request.Status))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, ticket)
}

func (h *httpHandler) handleListNotices(c *gin.Context) {
	found, err := h.support.ListNotices(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, found)
}

func (h *httpHandler) handleSendNotice(c *gin.Context) {
	var request noticePayload
	if err := c.ShouldBindJSON(&request); err != nil {
		h.respondInvalidRequest(c, "support.send_notice.invalid_body", err)
		return
	}
	notice, err := h.support.SendNotice(c.Request.Context(), support.NoticeRequest{
		Message:     request.Message,
		CollectorID: request.CollectorID,
		SentBy:      callerClaims(c).Subject,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, notice)
}
