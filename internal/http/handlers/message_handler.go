package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"moqpools/internal/domain"
	applog "moqpools/internal/log"
	"moqpools/internal/services"
	"moqpools/internal/validate"
)

// MessageHandler serves buyer support threads. All routes sit behind
// RequireUser, so c.Locals("user") is always populated.
type MessageHandler struct {
	Msg *services.MessageService
}

func currentUser(c *fiber.Ctx) *domain.User {
	u, _ := c.Locals("user").(*domain.User)
	return u
}

func (h *MessageHandler) List(c *fiber.Ctx) error {
	u := currentUser(c)
	if u == nil {
		return c.Redirect("/login")
	}
	convs, err := h.Msg.ForUser(u.ID)
	if err != nil {
		applog.Error(c, "messages.list.fail", err, nil)
		return c.Status(500).Render("notfound", fiber.Map{"Message": "Could not load messages"})
	}
	return render(c, "messages", fiber.Map{"Conversations": convs})
}

func (h *MessageHandler) Open(c *fiber.Ctx) error {
	u := currentUser(c)
	if u == nil {
		return c.Redirect("/login")
	}
	poolID, ok := validate.ID(c.FormValue("poolId"))
	if !ok {
		return c.Status(400).SendString("missing poolId")
	}
	subject, ok := validate.Name(c.FormValue("subject"))
	if !ok {
		return c.Status(400).SendString("subject must be 1-40 characters")
	}
	body, ok := validate.Body(c.FormValue("body"))
	if !ok {
		return c.Status(400).SendString("message body required")
	}
	conv, err := h.Msg.Open(poolID, u.ID, subject, body)
	if err != nil {
		applog.Error(c, "messages.open.fail", err, map[string]any{"pool": poolID})
		return c.Status(400).SendString("Could not start conversation")
	}
	return c.Redirect("/messages/" + conv.ID)
}

func (h *MessageHandler) Thread(c *fiber.Ctx) error {
	u := currentUser(c)
	if u == nil {
		return c.Redirect("/login")
	}
	id, ok := validate.ID(c.Params("id"))
	if !ok {
		return c.Status(404).Render("notfound", fiber.Map{"Message": "Conversation not found"})
	}
	conv, msgs, err := h.Msg.Thread(id, u.ID, u.Role == "ADMIN")
	if err != nil {
		if errors.Is(err, services.ErrNotYours) {
			applog.Security(c, "access.denied.conversation", map[string]any{"conversation": id})
		}
		return c.Status(404).Render("notfound", fiber.Map{"Message": "Conversation not found"})
	}
	return render(c, "message_thread", fiber.Map{"Conversation": conv, "Messages": msgs})
}

func (h *MessageHandler) Reply(c *fiber.Ctx) error {
	u := currentUser(c)
	if u == nil {
		return c.Redirect("/login")
	}
	id, ok := validate.ID(c.Params("id"))
	if !ok {
		return c.Status(404).Render("notfound", fiber.Map{"Message": "Conversation not found"})
	}
	body, ok := validate.Body(c.FormValue("body"))
	if !ok {
		return c.Status(400).SendString("message body required")
	}
	role := "USER"
	if u.Role == "ADMIN" {
		role = "ADMIN"
	}
	if _, err := h.Msg.Reply(id, u.ID, role, body); err != nil {
		if errors.Is(err, services.ErrNotYours) {
			applog.Security(c, "access.denied.conversation", map[string]any{"conversation": id})
			return c.Status(404).Render("notfound", fiber.Map{"Message": "Conversation not found"})
		}
		applog.Error(c, "messages.reply.fail", err, map[string]any{"conversation": id})
		return c.Status(400).SendString("Could not send message")
	}
	return c.Redirect("/messages/" + id)
}
