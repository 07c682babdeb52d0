package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/urizennnn/omni-backend-sub001/internal/accounts"
	"github.com/urizennnn/omni-backend-sub001/internal/auth"
	"github.com/urizennnn/omni-backend-sub001/internal/connector"
	"github.com/urizennnn/omni-backend-sub001/internal/conversations"
	"github.com/urizennnn/omni-backend-sub001/internal/events"
	"github.com/urizennnn/omni-backend-sub001/internal/ingest"
	"github.com/urizennnn/omni-backend-sub001/internal/messages"
	"github.com/urizennnn/omni-backend-sub001/internal/oauthflow"
	"github.com/urizennnn/omni-backend-sub001/internal/platform"
)

const previewRunes = 240

type MessagesHandler struct {
	conversations *conversations.Service
	messages      *messages.Service
	accounts      *accounts.Service
	registry      *connector.Registry
	flow          *oauthflow.Service
	publisher     events.Publisher
	logger        *slog.Logger
}

func NewMessagesHandler(
	log *slog.Logger,
	conversationService *conversations.Service,
	messageService *messages.Service,
	accountService *accounts.Service,
	registry *connector.Registry,
	flow *oauthflow.Service,
	publisher events.Publisher,
) *MessagesHandler {
	return &MessagesHandler{
		conversations: conversationService,
		messages:      messageService,
		accounts:      accountService,
		registry:      registry,
		flow:          flow,
		publisher:     publisher,
		logger:        log.With(slog.String("handler", "messages")),
	}
}

func (h *MessagesHandler) Register(e *echo.Echo) {
	e.GET("/conversations/:id/messages", h.List)
	e.POST("/conversations/:id/messages", h.Send)
}

type sendRequest struct {
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	Body    string   `json:"body"`
	HTML    bool     `json:"html"`
}

// List godoc
// @Summary List a conversation's messages
// @Description Oldest first, paged.
// @Tags messages
// @Produce json
// @Param id path string true "Conversation ID"
// @Param limit query int false "Page size"
// @Param offset query int false "Page offset"
// @Success 200 {array} messages.Message
// @Failure 404 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /conversations/{id}/messages [get]
func (h *MessagesHandler) List(c echo.Context) error {
	userID, err := auth.UserIDFromContext(c)
	if err != nil {
		return err
	}
	conversation, err := h.ownedConversation(c, userID)
	if err != nil {
		return err
	}
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	offset, _ := strconv.Atoi(c.QueryParam("offset"))
	if offset < 0 {
		offset = 0
	}
	items, err := h.messages.ListByConversation(c.Request().Context(), conversation.ID, limit, offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if items == nil {
		items = []messages.Message{}
	}
	return c.JSON(http.StatusOK, items)
}

// Send godoc
// @Summary Send an outbound message in a conversation
// @Description Delivers through the platform connector, then records the
// message locally with the caller as the attributed actor.
// @Tags messages
// @Accept json
// @Produce json
// @Param id path string true "Conversation ID"
// @Param request body sendRequest true "Message content"
// @Success 201 {object} messages.Message
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 502 {object} ErrorResponse
// @Router /conversations/{id}/messages [post]
func (h *MessagesHandler) Send(c echo.Context) error {
	userID, err := auth.UserIDFromContext(c)
	if err != nil {
		return err
	}
	conversation, err := h.ownedConversation(c, userID)
	if err != nil {
		return err
	}
	var req sendRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if strings.TrimSpace(req.Body) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "body is required")
	}

	ctx := c.Request().Context()
	account, err := h.sendingAccount(c, userID, conversation)
	if err != nil {
		return err
	}
	sender, err := h.registry.GetSender(conversation.Platform)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	creds, err := h.flow.Decrypt(account)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	to := req.To
	if len(to) == 0 {
		if len(conversation.Participants) > 0 {
			to = conversation.Participants
		} else {
			to = []string{conversation.ExternalID}
		}
	}
	externalID, err := sender.Send(ctx, creds, connector.OutboundMessage{
		To:      to,
		Subject: req.Subject,
		Body:    req.Body,
		HTML:    req.HTML,
	})
	if err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	if externalID == "" {
		externalID = uuid.NewString()
	}

	now := time.Now().UTC()
	params := messages.CreateParams{
		ConversationID:    conversation.ID,
		ExternalMessageID: externalID,
		Direction:         messages.DirectionOutbound,
		DeliveryStatus:    "sent",
		Subject:           req.Subject,
		Body:              req.Body,
		SentAt:            now,
		SentBy:            userID,
		Participants:      to,
	}
	if conversation.Platform == platform.Email {
		params.MessageID = externalID
	}
	message, _, err := h.messages.Create(ctx, params)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if err := h.conversations.RecordActivity(ctx, conversation.ID, conversations.Activity{
		Preview:           ingest.Truncate(req.Body, previewRunes),
		LastMessageStatus: "sent",
		At:                now,
	}); err != nil {
		h.logger.Warn("record activity after send failed",
			slog.String("conversation_id", conversation.ID),
			slog.Any("error", err))
	}
	if h.publisher != nil {
		if data, err := json.Marshal(message); err == nil {
			h.publisher.Publish(events.Event{
				Type:   events.TypeMessageCreated,
				UserID: userID,
				Data:   data,
			})
		}
	}
	return c.JSON(http.StatusCreated, message)
}

func (h *MessagesHandler) ownedConversation(c echo.Context, userID string) (conversations.Conversation, error) {
	conversation, err := h.conversations.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, conversations.ErrNotFound) {
			return conversations.Conversation{}, echo.NewHTTPError(http.StatusNotFound, "conversation not found")
		}
		return conversations.Conversation{}, echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if conversation.UserID != userID {
		return conversations.Conversation{}, echo.NewHTTPError(http.StatusNotFound, "conversation not found")
	}
	return conversation, nil
}

// sendingAccount resolves the connected account to deliver through: the
// conversation's own account when recorded, otherwise the user's account
// on the conversation's platform.
func (h *MessagesHandler) sendingAccount(c echo.Context, userID string, conversation conversations.Conversation) (accounts.ConnectedAccount, error) {
	ctx := c.Request().Context()
	if conversation.AccountID != "" {
		account, err := h.accounts.Get(ctx, conversation.AccountID)
		if err == nil {
			return account, nil
		}
		if !errors.Is(err, accounts.ErrNotFound) {
			return accounts.ConnectedAccount{}, echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
	}
	all, err := h.accounts.ListByUser(ctx, userID)
	if err != nil {
		return accounts.ConnectedAccount{}, echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	for _, account := range all {
		if account.Platform == conversation.Platform {
			return account, nil
		}
	}
	return accounts.ConnectedAccount{}, echo.NewHTTPError(http.StatusBadRequest, "no connected account for platform")
}
