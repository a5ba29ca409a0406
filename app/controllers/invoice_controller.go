package controllers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/Plan5/internal/pkg/errorreport"
	"github.com/ManuelReschke/Plan5/internal/pkg/invoice"
)

type InvoiceController struct {
	invoices *invoice.Service
	reporter errorreport.Reporter
}

func NewInvoiceController(svc *invoice.Service, reporter errorreport.Reporter) *InvoiceController {
	return &InvoiceController{invoices: svc, reporter: reporter}
}

// HandleIssue handles POST /invoices.
func (ic *InvoiceController) HandleIssue(c *fiber.Ctx) error {
	var in invoice.IssueInput
	if err := parseBody(c, &in); err != nil {
		return renderError(c, ic.reporter, "invoices.issue", err)
	}
	res, err := ic.invoices.Issue(c.UserContext(), in)
	if err != nil {
		return renderError(c, ic.reporter, "invoices.issue", err)
	}
	markReplayed(c, res.Replayed)
	return c.JSON(res)
}
