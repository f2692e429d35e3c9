package handlers

import (
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/companion-chat/internal/common"
	"github.com/suPer8Hu/companion-chat/internal/companion"
	"gorm.io/gorm"
)

func (h *Handler) ListCompanions(c *gin.Context) {
	uid, ok := requireUser(c)
	if !ok {
		return
	}
	owned, err := h.Companions.ListByOwner(c.Request.Context(), uid)
	if err != nil {
		log.Printf("[ListCompanions] list failed uid=%s err=%v", uid, err)
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
		return
	}
	if owned == nil {
		owned = []companion.Companion{}
	}
	common.OK(c, gin.H{
		"builtin": h.Builtin.List(),
		"owned":   owned,
	})
}

func bindDraft(c *gin.Context) (companion.Draft, bool) {
	var d companion.Draft
	if err := c.ShouldBindJSON(&d); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return d, false
	}
	if err := d.Normalize(); err != nil {
		common.Fail(c, http.StatusBadRequest, 10010, err.Error())
		return d, false
	}
	return d, true
}

func (h *Handler) CreateCompanion(c *gin.Context) {
	uid, ok := requireUser(c)
	if !ok {
		return
	}
	d, ok := bindDraft(c)
	if !ok {
		return
	}

	comp := &companion.Companion{OwnerID: uid}
	d.Apply(comp)
	if err := h.Companions.Create(c.Request.Context(), comp); err != nil {
		log.Printf("[CreateCompanion] create failed uid=%s err=%v", uid, err)
		common.Fail(c, http.StatusInternalServerError, 50001, "failed to create companion")
		return
	}
	common.OK(c, comp)
}

func (h *Handler) GetCompanion(c *gin.Context) {
	uid, ok := requireUser(c)
	if !ok {
		return
	}
	id := c.Param("id")
	if p, err := h.Builtin.Lookup(c.Request.Context(), uid, id); err == nil {
		common.OK(c, p)
		return
	}

	comp, err := h.Companions.GetOwned(c.Request.Context(), uid, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			common.Fail(c, http.StatusNotFound, 40401, "companion not found")
			return
		}
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
		return
	}
	common.OK(c, comp)
}

func (h *Handler) UpdateCompanion(c *gin.Context) {
	uid, ok := requireUser(c)
	if !ok {
		return
	}
	comp, err := h.Companions.GetOwned(c.Request.Context(), uid, c.Param("id"))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			common.Fail(c, http.StatusNotFound, 40401, "companion not found")
			return
		}
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
		return
	}
	d, ok := bindDraft(c)
	if !ok {
		return
	}
	d.Apply(comp)
	if err := h.Companions.Update(c.Request.Context(), comp); err != nil {
		log.Printf("[UpdateCompanion] update failed uid=%s companion_id=%s err=%v", uid, comp.ID, err)
		common.Fail(c, http.StatusInternalServerError, 50001, "failed to update companion")
		return
	}
	common.OK(c, comp)
}

func (h *Handler) DeleteCompanion(c *gin.Context) {
	uid, ok := requireUser(c)
	if !ok {
		return
	}
	if err := h.Companions.Delete(c.Request.Context(), uid, c.Param("id")); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			common.Fail(c, http.StatusNotFound, 40401, "companion not found")
			return
		}
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
		return
	}
	common.OK(c, gin.H{"deleted": true})
}
