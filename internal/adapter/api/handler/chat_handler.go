package handler

import (
	"github.com/labstack/echo/v4"

	"timbermart/internal/domain/entity"
	"timbermart/internal/usecase"
	"timbermart/pkg/response"
	"timbermart/pkg/utils"
)

type ChatHandler struct {
	chatUseCase     *usecase.ChatUseCase
	receiptUseCase  *usecase.ReadReceiptUseCase
	presenceUseCase *usecase.PresenceUseCase
}

func NewChatHandler(
	chatUseCase *usecase.ChatUseCase,
	receiptUseCase *usecase.ReadReceiptUseCase,
	presenceUseCase *usecase.PresenceUseCase,
) *ChatHandler {
	return &ChatHandler{
		chatUseCase:     chatUseCase,
		receiptUseCase:  receiptUseCase,
		presenceUseCase: presenceUseCase,
	}
}

type startThreadRequest struct {
	SellerID string `json:"seller_id" validate:"required,max=64"`
}

type sendMessageRequest struct {
	MessageID string `json:"message_id" validate:"required,max=64"`
	Message   string `json:"message"`
	UserType  string `json:"user_type" validate:"required,oneof=buyer seller"`
}

type markReadRequest struct {
	UserType string `json:"user_type" validate:"required,oneof=buyer seller"`
}

type unreadCountResponse struct {
	UserType    string `json:"user_type"`
	ThreadID    string `json:"thread_id,omitempty"`
	UnreadCount int64  `json:"unread_count"`
}

func (h *ChatHandler) GetThreadsByBuyer(c echo.Context) error {
	return h.threadsFor(c, entity.RoleBuyer)
}

func (h *ChatHandler) GetThreadsBySeller(c echo.Context) error {
	return h.threadsFor(c, entity.RoleSeller)
}

func (h *ChatHandler) threadsFor(c echo.Context, role entity.Role) error {
	uid, err := requireCaller(c, c.Param("user_id"))
	if err != nil {
		return response.Error(c, err)
	}
	h.presenceUseCase.Touch(uid, role)

	summaries, err := h.chatUseCase.ThreadsFor(c.Request().Context(), uid, role)
	if err != nil {
		return response.Error(c, err)
	}

	return response.Success(c, summaries)
}

func (h *ChatHandler) StartWithSeller(c echo.Context) error {
	uid, err := requireCaller(c, "")
	if err != nil {
		return response.Error(c, err)
	}

	var req startThreadRequest
	if err := c.Bind(&req); err != nil {
		return response.Error(c, err)
	}
	if err := c.Validate(&req); err != nil {
		return response.Error(c, err)
	}

	h.presenceUseCase.Touch(uid, entity.RoleBuyer)

	thread, err := h.chatUseCase.StartOrGetThread(c.Request().Context(), uid, req.SellerID)
	if err != nil {
		return response.Error(c, err)
	}

	return response.Success(c, thread)
}

func (h *ChatHandler) GetMessages(c echo.Context) error {
	uid, err := requireCaller(c, "")
	if err != nil {
		return response.Error(c, err)
	}
	role, err := parseRole(c.QueryParam("user_type"))
	if err != nil {
		return response.Error(c, err)
	}

	threadID := c.Param("id")
	ctx := c.Request().Context()

	if _, err := h.chatUseCase.AuthorizeParticipant(ctx, threadID, uid, role); err != nil {
		return response.Error(c, err)
	}
	h.presenceUseCase.Touch(uid, role)

	params := utils.GetMessagePageParams(c)
	messages, err := h.chatUseCase.ListMessages(ctx, threadID, params.Limit, params.BeforeSeq)
	if err != nil {
		return response.Error(c, err)
	}

	return response.List(c, messages, len(messages), params.Limit)
}

func (h *ChatHandler) SendMessage(c echo.Context) error {
	uid, err := requireCaller(c, "")
	if err != nil {
		return response.Error(c, err)
	}

	var req sendMessageRequest
	if err := c.Bind(&req); err != nil {
		return response.Error(c, err)
	}
	if err := c.Validate(&req); err != nil {
		return response.Error(c, err)
	}

	role := entity.Role(req.UserType)
	h.presenceUseCase.Touch(uid, role)

	message, err := h.chatUseCase.SendMessage(c.Request().Context(), usecase.SendMessageInput{
		ThreadID:   c.Param("id"),
		MessageID:  req.MessageID,
		Body:       req.Message,
		SenderKind: role,
		SenderID:   uid,
	})
	if err != nil {
		return response.Error(c, err)
	}

	return response.Created(c, message)
}

func (h *ChatHandler) MarkRead(c echo.Context) error {
	uid, err := requireCaller(c, "")
	if err != nil {
		return response.Error(c, err)
	}

	var req markReadRequest
	if err := c.Bind(&req); err != nil {
		return response.Error(c, err)
	}
	if err := c.Validate(&req); err != nil {
		return response.Error(c, err)
	}

	role := entity.Role(req.UserType)
	h.presenceUseCase.Touch(uid, role)

	result, err := h.receiptUseCase.MarkRead(c.Request().Context(), c.Param("id"), uid, role)
	if err != nil {
		return response.Error(c, err)
	}

	return response.Success(c, result)
}

func (h *ChatHandler) UnreadCount(c echo.Context) error {
	uid, err := requireCaller(c, "")
	if err != nil {
		return response.Error(c, err)
	}
	role, err := parseRole(c.QueryParam("user_type"))
	if err != nil {
		return response.Error(c, err)
	}

	threadID := c.QueryParam("thread_id")
	count, err := h.receiptUseCase.UnreadCount(c.Request().Context(), uid, role, threadID)
	if err != nil {
		return response.Error(c, err)
	}

	return response.Success(c, unreadCountResponse{
		UserType:    string(role),
		ThreadID:    threadID,
		UnreadCount: count,
	})
}
