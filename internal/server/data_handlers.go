package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/pwaburton/members/internal/members"
	"github.com/pwaburton/members/internal/payments"
	"github.com/pwaburton/members/internal/profiles"
	"go.uber.org/zap"
)

type updateRolePayload struct {
	Role string `json:"role"`
}

type collectorActivePayload struct {
	Active *bool `json:"active"`
}

type notePayload struct {
	Note string `json:"note"`
}

type memberPasswordPayload struct {
	Password string `json:"password"`
}

type importPayload struct {
	Records          []map[string]any `json:"records"`
	CreateCollectors bool             `json:"create_collectors"`
}

func (h *httpHandler) handleMyProfile(c *gin.Context) {
	profile, ok := h.ensureProfile(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, profile)
}

func (h *httpHandler) handleMarkFlags(c *gin.Context) {
	var flags profiles.Flags
	if err := c.ShouldBindJSON(&flags); err != nil {
		h.respondInvalidRequest(c, "profiles.mark_flags.invalid_body", err)
		return
	}
	claims := callerClaims(c)
	if _, ok := h.ensureProfile(c); !ok {
		return
	}
	profile, err := h.profiles.MarkFlags(c.Request.Context(), claims.Subject, flags)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, profile)
}

func (h *httpHandler) handleListProfiles(c *gin.Context) {
	found, err := h.profiles.List(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, found)
}

func (h *httpHandler) handleUpdateRole(c *gin.Context) {
	var request updateRolePayload
	if err := c.ShouldBindJSON(&request); err != nil {
		h.respondInvalidRequest(c, "profiles.update_role.invalid_body", err)
		return
	}
	profile, err := h.profiles.UpdateRole(c.Request.Context(), c.Param("id"), profiles.Role(strings.ToLower(strings.TrimSpace(request.Role))))
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.logger.Info("profile role updated",
		zap.String("user_id", profile.UserID),
		zap.String("role", string(profile.Role)),
		zap.String("updated_by", callerClaims(c).Subject))
	c.JSON(http.StatusOK, profile)
}

func (h *httpHandler) handleDeleteAccount(c *gin.Context) {
	if err := h.provider.DeleteAccount(c.Request.Context(), c.Param("id")); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleListCollectors(c *gin.Context) {
	found, err := h.members.ListCollectors(c.Request.Context(), c.Query("search"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, found)
}

func (h *httpHandler) handleCreateCollector(c *gin.Context) {
	var request members.CollectorInput
	if err := c.ShouldBindJSON(&request); err != nil {
		h.respondInvalidRequest(c, "members.create_collector.invalid_body", err)
		return
	}
	collector, err := h.members.CreateCollector(c.Request.Context(), request)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, collector)
}

func (h *httpHandler) handleSetCollectorActive(c *gin.Context) {
	var request collectorActivePayload
	if err := c.ShouldBindJSON(&request); err != nil || request.Active == nil {
		h.respondInvalidRequest(c, "members.set_collector_active.invalid_body", err)
		return
	}
	collector, err := h.members.SetCollectorActive(c.Request.Context(), c.Param("id"), *request.Active)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, collector)
}

func (h *httpHandler) handleDeleteCollector(c *gin.Context) {
	if err := h.members.DeleteCollector(c.Request.Context(), c.Param("id")); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleListMembers(c *gin.Context) {
	page, _ := strconv.Atoi(c.Query("page"))
	pageSize, _ := strconv.Atoi(c.Query("page_size"))
	result, err := h.members.ListMembers(c.Request.Context(), members.MemberQuery{
		Page:        page,
		PageSize:    pageSize,
		Search:      c.Query("search"),
		CollectorID: c.Query("collector_id"),
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *httpHandler) handleCreateMember(c *gin.Context) {
	var request members.MemberInput
	if err := c.ShouldBindJSON(&request); err != nil {
		h.respondInvalidRequest(c, "members.create_member.invalid_body", err)
		return
	}
	member, err := h.members.CreateMember(c.Request.Context(), request)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, member)
}

func (h *httpHandler) handleGetMember(c *gin.Context) {
	detail, err := h.members.GetMember(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, detail)
}

func (h *httpHandler) handleUpdateMember(c *gin.Context) {
	var patch members.MemberPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		h.respondInvalidRequest(c, "members.update_member.invalid_body", err)
		return
	}
	member, err := h.members.UpdateMember(c.Request.Context(), c.Param("id"), patch)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, member)
}

func (h *httpHandler) handleDeleteMember(c *gin.Context) {
	if err := h.members.DeleteMember(c.Request.Context(), c.Param("id")); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleSetMemberPassword(c *gin.Context) {
	var request memberPasswordPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		h.respondInvalidRequest(c, "members.set_member_password.invalid_body", err)
		return
	}
	if err := h.members.SetMemberPassword(c.Request.Context(), c.Param("id"), request.Password); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleListFamily(c *gin.Context) {
	found, err := h.members.ListFamily(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, found)
}

func (h *httpHandler) handleAddFamily(c *gin.Context) {
	var request members.FamilyInput
	if err := c.ShouldBindJSON(&request); err != nil {
		h.respondInvalidRequest(c, "members.add_family_member.invalid_body", err)
		return
	}
	family, err := h.members.AddFamilyMember(c.Request.Context(), c.Param("id"), request)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, family)
}

func (h *httpHandler) handleListNotes(c *gin.Context) {
	found, err := h.members.ListNotes(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, found)
}

func (h *httpHandler) handleAddNote(c *gin.Context) {
	var request notePayload
	if err := c.ShouldBindJSON(&request); err != nil {
		h.respondInvalidRequest(c, "members.add_note.invalid_body", err)
		return
	}
	note, err := h.members.AddNote(c.Request.Context(), c.Param("id"), request.Note)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, note)
}

func (h *httpHandler) handleImportMembers(c *gin.Context) {
	var request importPayload
	if err := c.ShouldBindJSON(&request); err != nil || len(request.Records) == 0 {
		h.respondInvalidRequest(c, "members.import.invalid_body", err)
		return
	}
	records := members.TransformRecords(request.Records)
	result, err := h.members.Import(c.Request.Context(), records, members.ImportOptions{CreateCollectors: request.CreateCollectors})
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.logger.Info("member import completed",
		zap.Int("members_created", result.MembersCreated),
		zap.Int("collectors_created", result.CollectorsCreated),
		zap.Int("skipped", result.Skipped))
	c.JSON(http.StatusOK, result)
}

// handleListPayments lets administrators read any history and members read
// the history of the member record carrying their email.
func (h *httpHandler) handleListPayments(c *gin.Context) {
	memberID := c.Param("id")
	profile := callerProfile(c)
	if profile.Role != profiles.RoleAdmin {
		detail, err := h.members.GetMember(c.Request.Context(), memberID)
		if err != nil {
			h.respondError(c, err)
			return
		}
		if detail.Email == "" || !strings.EqualFold(detail.Email, callerClaims(c).Email) {
			c.JSON(http.StatusForbidden, errorBody("forbidden", "server.payments.not_owner"))
			return
		}
	}
	found, err := h.payments.ListForMember(c.Request.Context(), memberID, payments.PaymentFilter{
		Date:   c.Query("date"),
		Amount: c.Query("amount"),
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, found)
}

func (h *httpHandler) handleCreateMemberPayment(c *gin.Context) {
	var request payments.PaymentInput
	if err := c.ShouldBindJSON(&request); err != nil {
		h.respondInvalidRequest(c, "payments.create.invalid_body", err)
		return
	}
	request.MemberID = c.Param("id")
	h.createPayment(c, request)
}

func (h *httpHandler) handleCreatePayment(c *gin.Context) {
	var request payments.PaymentInput
	if err := c.ShouldBindJSON(&request); err != nil {
		h.respondInvalidRequest(c, "payments.create.invalid_body", err)
		return
	}
	h.createPayment(c, request)
}

func (h *httpHandler) createPayment(c *gin.Context, request payments.PaymentInput) {
	payment, err := h.payments.Create(c.Request.Context(), request)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, payment)
}

func (h *httpHandler) handleDeletePayment(c *gin.Context) {
	if err := h.payments.Delete(c.Request.Context(), c.Param("id")); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleFinanceStats(c *gin.Context) {
	stats, err := h.payments.Stats(c.Request.Context(), h.clock())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}
