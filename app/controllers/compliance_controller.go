package controllers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/Plan5/internal/pkg/compliance"
	"github.com/ManuelReschke/Plan5/internal/pkg/errorreport"
)

type ComplianceController struct {
	compliance *compliance.Service
	reporter   errorreport.Reporter
}

func NewComplianceController(svc *compliance.Service, reporter errorreport.Reporter) *ComplianceController {
	return &ComplianceController{compliance: svc, reporter: reporter}
}

// HandleProcess handles POST /compliance.
func (cc *ComplianceController) HandleProcess(c *fiber.Ctx) error {
	var in compliance.Input
	if err := parseBody(c, &in); err != nil {
		return renderError(c, cc.reporter, "compliance.process", err)
	}
	res, err := cc.compliance.Process(c.UserContext(), in)
	if err != nil {
		return renderError(c, cc.reporter, "compliance.process", err)
	}
	markReplayed(c, res.Replayed)
	return c.JSON(res)
}

// HandleConsent handles POST /compliance/consent.
func (cc *ComplianceController) HandleConsent(c *fiber.Ctx) error {
	var in compliance.ConsentInput
	if err := parseBody(c, &in); err != nil {
		return renderError(c, cc.reporter, "compliance.consent", err)
	}
	if _, err := cc.compliance.RecordConsent(c.UserContext(), in); err != nil {
		return renderError(c, cc.reporter, "compliance.consent", err)
	}
	return c.JSON(fiber.Map{"ok": true})
}

// HandleStatus handles GET /compliance/status/:id.
func (cc *ComplianceController) HandleStatus(c *fiber.Ctx) error {
	res, err := cc.compliance.Status(c.UserContext(), c.Params("id"))
	if err != nil {
		return renderError(c, cc.reporter, "compliance.status", err)
	}
	return c.JSON(res)
}
