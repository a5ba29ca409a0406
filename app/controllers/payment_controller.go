package controllers

import (
	"bytes"

	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/Plan5/internal/pkg/errorreport"
	"github.com/ManuelReschke/Plan5/internal/pkg/middleware"
	"github.com/ManuelReschke/Plan5/internal/pkg/payments"
)

type PaymentController struct {
	payments *payments.Service
	reporter errorreport.Reporter
}

func NewPaymentController(svc *payments.Service, reporter errorreport.Reporter) *PaymentController {
	return &PaymentController{payments: svc, reporter: reporter}
}

// HandleCreateIntent handles POST /payments.
func (pc *PaymentController) HandleCreateIntent(c *fiber.Ctx) error {
	var in payments.IntentInput
	if err := parseBody(c, &in); err != nil {
		return renderError(c, pc.reporter, "payments.intent", err)
	}
	res, err := pc.payments.CreatePaymentIntent(c.UserContext(), in, middleware.IdempotencyKey(c))
	if err != nil {
		return renderError(c, pc.reporter, "payments.intent", err)
	}
	markReplayed(c, res.Replayed)
	return c.JSON(res)
}

// HandleRefund handles POST /payments/refunds.
func (pc *PaymentController) HandleRefund(c *fiber.Ctx) error {
	var in payments.RefundInput
	if err := parseBody(c, &in); err != nil {
		return renderError(c, pc.reporter, "payments.refund", err)
	}
	res, err := pc.payments.Refund(c.UserContext(), in, middleware.IdempotencyKey(c))
	if err != nil {
		return renderError(c, pc.reporter, "payments.refund", err)
	}
	markReplayed(c, res.Replayed)
	return c.JSON(res)
}

// HandleWebhook handles POST /payments/webhooks/:provider. The body is
// verified byte for byte, so it is copied before fasthttp reuses the buffer.
func (pc *PaymentController) HandleWebhook(c *fiber.Ctx) error {
	provider := c.Params("provider")
	route := "payments.webhook." + provider
	raw := bytes.Clone(c.Body())
	signature := ""
	if header := pc.payments.SignatureHeader(provider); header != "" {
		signature = c.Get(header)
	}

	ack, err := pc.payments.HandleWebhook(c.UserContext(), provider, raw, signature)
	if err != nil {
		return renderError(c, pc.reporter, route, err)
	}
	return c.JSON(ack)
}

// HandleSumUpStatus handles GET /payments/sumup/status/:checkoutId.
func (pc *PaymentController) HandleSumUpStatus(c *fiber.Ctx) error {
	res, err := pc.payments.CheckoutStatus(c.UserContext(), c.Params("checkoutId"))
	if err != nil {
		return renderError(c, pc.reporter, "payments.sumup.status", err)
	}
	return c.JSON(res)
}

// HandleSumUpManual handles POST /payments/sumup/manual.
func (pc *PaymentController) HandleSumUpManual(c *fiber.Ctx) error {
	var in payments.ManualPaymentInput
	if err := parseBody(c, &in); err != nil {
		return renderError(c, pc.reporter, "payments.sumup.manual", err)
	}
	res, err := pc.payments.RecordManualPayment(c.UserContext(), in)
	if err != nil {
		return renderError(c, pc.reporter, "payments.sumup.manual", err)
	}
	markReplayed(c, res.Replayed)
	return c.JSON(res)
}
