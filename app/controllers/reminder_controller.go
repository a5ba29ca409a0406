package controllers

import (
	"bytes"

	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/Plan5/internal/pkg/errorreport"
	"github.com/ManuelReschke/Plan5/internal/pkg/reminders"
)

type ReminderController struct {
	dispatcher *reminders.Dispatcher
	reporter   errorreport.Reporter
}

func NewReminderController(dispatcher *reminders.Dispatcher, reporter errorreport.Reporter) *ReminderController {
	return &ReminderController{dispatcher: dispatcher, reporter: reporter}
}

type dispatchRequest struct {
	Limit int `json:"limit"`
}

// HandleDispatch handles POST /reminders/dispatch. The body is optional.
func (rc *ReminderController) HandleDispatch(c *fiber.Ctx) error {
	var req dispatchRequest
	if len(bytes.TrimSpace(c.Body())) > 0 {
		if err := parseBody(c, &req); err != nil {
			return renderError(c, rc.reporter, "reminders.dispatch", err)
		}
	}
	summary, err := rc.dispatcher.Dispatch(c.UserContext(), req.Limit)
	if err != nil {
		return renderError(c, rc.reporter, "reminders.dispatch", err)
	}
	return c.JSON(fiber.Map{"ok": true, "summary": summary})
}
