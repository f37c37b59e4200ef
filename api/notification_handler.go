package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/xraph/notifier"
	"github.com/xraph/notifier/id"
	"github.com/xraph/notifier/notification"
)

func (a *API) createNotification(c *gin.Context) {
	var req CreateNotificationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	n, err := a.eng.Create(c.Request.Context(), req.draft())
	if err != nil {
		a.writeError(c, err, "")
		return
	}
	c.JSON(http.StatusCreated, toResponse(n))
}

func (a *API) listNotifications(c *gin.Context) {
	page, err := queryInt(c, "page")
	if err != nil {
		a.writeError(c, err, "")
		return
	}
	pageSize, err := queryInt(c, "page_size")
	if err != nil {
		a.writeError(c, err, "")
		return
	}

	result, err := a.eng.List(c.Request.Context(), notification.ListOpts{
		Status:   notification.Status(c.Query("status")),
		Channel:  notification.Channel(c.Query("channel")),
		Page:     page,
		PageSize: pageSize,
	})
	if err != nil {
		a.writeError(c, err, "")
		return
	}

	resp := ListNotificationsResponse{
		Total:         result.Total,
		Page:          result.Page,
		PageSize:      result.PageSize,
		Notifications: make([]NotificationResponse, 0, len(result.Notifications)),
	}
	for _, n := range result.Notifications {
		resp.Notifications = append(resp.Notifications, toResponse(n))
	}
	c.JSON(http.StatusOK, resp)
}

func (a *API) getNotification(c *gin.Context) {
	nid, ok := a.pathID(c)
	if !ok {
		return
	}
	n, err := a.eng.Get(c.Request.Context(), nid)
	if err != nil {
		a.writeError(c, err, c.Param("id"))
		return
	}
	c.JSON(http.StatusOK, toResponse(n))
}

func (a *API) updateNotification(c *gin.Context) {
	nid, ok := a.pathID(c)
	if !ok {
		return
	}

	var fields map[string]json.RawMessage
	if err := c.ShouldBindJSON(&fields); err != nil {
		abort(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	p, err := decodePatch(fields)
	if err != nil {
		a.writeError(c, err, c.Param("id"))
		return
	}

	n, err := a.eng.Update(c.Request.Context(), nid, p)
	if err != nil {
		a.writeError(c, err, c.Param("id"))
		return
	}
	c.JSON(http.StatusOK, toResponse(n))
}

func (a *API) deleteNotification(c *gin.Context) {
	nid, ok := a.pathID(c)
	if !ok {
		return
	}
	if err := a.eng.Delete(c.Request.Context(), nid); err != nil {
		a.writeError(c, err, c.Param("id"))
		return
	}
	c.Status(http.StatusNoContent)
}

func (a *API) cancelNotification(c *gin.Context) {
	nid, ok := a.pathID(c)
	if !ok {
		return
	}
	n, err := a.eng.Cancel(c.Request.Context(), nid)
	if err != nil {
		a.writeError(c, err, c.Param("id"))
		return
	}
	c.JSON(http.StatusOK, toResponse(n))
}

// pathID parses the :id parameter and writes a 400 when it is malformed.
func (a *API) pathID(c *gin.Context) (id.ID, bool) {
	nid, err := id.Parse(c.Param("id"))
	if err != nil {
		abort(c, http.StatusBadRequest, msgInvalidID)
		return id.Nil, false
	}
	return nid, true
}

func queryInt(c *gin.Context, key string) (int, error) {
	raw, ok := c.GetQuery(key)
	if !ok || raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, notifier.NewValidationError(key, "must be an integer")
	}
	if v == 0 {
		// Zero would be read as "use the default" downstream.
		return 0, notifier.NewValidationError(key, "must be at least 1")
	}
	return v, nil
}

// decodePatch turns a PATCH body into a Patch. Only keys present in the
// body are set; unknown keys are ignored. A null subject clears it, a null
// scheduled_at makes the notification due now, and null metadata empties
// it.
func decodePatch(fields map[string]json.RawMessage) (notification.Patch, error) {
	var p notification.Patch
	for key, raw := range fields {
		null := string(raw) == "null"
		switch key {
		case notification.FieldStatus:
			var s string
			if null {
				return p, notifier.NewValidationError(key, "must not be null")
			}
			if err := json.Unmarshal(raw, &s); err != nil {
				return p, notifier.NewValidationError(key, "must be a string")
			}
			p.Status = notification.Some(notification.Status(s))
		case notification.FieldSubject:
			var s string
			if !null {
				if err := json.Unmarshal(raw, &s); err != nil {
					return p, notifier.NewValidationError(key, "must be a string")
				}
			}
			p.Subject = notification.Some(s)
		case notification.FieldMessage:
			var s string
			if null {
				return p, notifier.NewValidationError(key, "must not be null")
			}
			if err := json.Unmarshal(raw, &s); err != nil {
				return p, notifier.NewValidationError(key, "must be a string")
			}
			p.Message = notification.Some(s)
		case notification.FieldPriority:
			var s string
			if null {
				return p, notifier.NewValidationError(key, "must not be null")
			}
			if err := json.Unmarshal(raw, &s); err != nil {
				return p, notifier.NewValidationError(key, "must be a string")
			}
			p.Priority = notification.Some(notification.Priority(s))
		case notification.FieldScheduledAt:
			var t *time.Time
			if !null {
				if err := json.Unmarshal(raw, &t); err != nil {
					return p, notifier.NewValidationError(key, "must be an RFC 3339 timestamp")
				}
			}
			p.ScheduledAt = notification.Some(t)
		case notification.FieldMetadata:
			m := map[string]any{}
			if !null {
				if err := json.Unmarshal(raw, &m); err != nil {
					return p, notifier.NewValidationError(key, "must be an object")
				}
			}
			p.Metadata = notification.Some(m)
		}
	}
	return p, nil
}
