package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/sayghamsari/daftarrabet/core/messaging"
)

type messagingApi struct {
	*handler
	svc *messaging.Service
}

func registerMessagingAPI(g *echo.Group, jwt echo.MiddlewareFunc, h *handler, svc *messaging.Service) {
	api := messagingApi{handler: h, svc: svc}

	mg := g.Group("/messages", jwt)
	mg.POST("", api.send)
	mg.GET("", api.query)
	mg.GET("/:id", api.retrieve)
	mg.DELETE("/:id", api.destroy)

	ng := g.Group("/notifications", jwt)
	ng.GET("", api.notifications)
	ng.GET("/unread-count", api.unreadCount)
	ng.PUT("/read-all", api.markAllRead)
	ng.PUT("/:id/read", api.markRead)
}

func (api *messagingApi) send(ctx echo.Context) error {
	usr, err := api.ctxUser(ctx)
	if err != nil {
		return err
	}

	var data messaging.NewMessage
	if err = bind(ctx, &data, "NewMessage"); err != nil {
		return err
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}

	msg, err := api.svc.Send(ctx.Request().Context(), usr, data)
	if err != nil {
		return errors.Wrap(err, "sending message")
	}
	return ctx.JSON(http.StatusCreated, msg)
}

func (api *messagingApi) query(ctx echo.Context) error {
	usr, err := api.ctxUser(ctx)
	if err != nil {
		return err
	}

	filter := new(messaging.MessageFilter)
	_, page, ok := bindList(ctx, filter)
	if !ok {
		return ctx.JSON(http.StatusOK, []messaging.Message{})
	}
	filter.UserID = usr.ID

	msgs, err := api.svc.Query(ctx.Request().Context(), filter, page)
	if err != nil {
		return errors.Wrap(err, "querying messages")
	}
	if msgs == nil {
		msgs = []messaging.Message{}
	}
	return ctx.JSON(http.StatusOK, msgs)
}

func (api *messagingApi) retrieve(ctx echo.Context) error {
	usr, err := api.ctxUser(ctx)
	if err != nil {
		return err
	}

	msg, err := api.svc.Get(ctx.Request().Context(), ctx.Param("id"), usr.ID)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, msg)
}

func (api *messagingApi) destroy(ctx echo.Context) error {
	usr, err := api.ctxUser(ctx)
	if err != nil {
		return err
	}
	if err = api.svc.Delete(ctx.Request().Context(), ctx.Param("id"), usr.ID); err != nil {
		return errors.Wrap(err, "deleting message")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *messagingApi) notifications(ctx echo.Context) error {
	usr, err := api.ctxUser(ctx)
	if err != nil {
		return err
	}

	filter := new(messaging.NotificationFilter)
	_, page, ok := bindList(ctx, filter)
	if !ok {
		return ctx.JSON(http.StatusOK, []messaging.Notification{})
	}
	filter.UserID = usr.ID

	notifications, err := api.svc.Notifications(ctx.Request().Context(), filter, page)
	if err != nil {
		return errors.Wrap(err, "querying notifications")
	}
	if notifications == nil {
		notifications = []messaging.Notification{}
	}
	return ctx.JSON(http.StatusOK, notifications)
}

type CountResponse struct {
	Count int64 `json:"count"`
}

func (api *messagingApi) unreadCount(ctx echo.Context) error {
	usr, err := api.ctxUser(ctx)
	if err != nil {
		return err
	}

	count, err := api.svc.UnreadCount(ctx.Request().Context(), usr.ID)
	if err != nil {
		return errors.Wrap(err, "counting unread notifications")
	}
	return ctx.JSON(http.StatusOK, CountResponse{Count: int64(count)})
}

func (api *messagingApi) markRead(ctx echo.Context) error {
	usr, err := api.ctxUser(ctx)
	if err != nil {
		return err
	}
	if err = api.svc.MarkRead(ctx.Request().Context(), usr.ID, ctx.Param("id")); err != nil {
		return errors.Wrap(err, "marking notification read")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *messagingApi) markAllRead(ctx echo.Context) error {
	usr, err := api.ctxUser(ctx)
	if err != nil {
		return err
	}

	count, err := api.svc.MarkAllRead(ctx.Request().Context(), usr.ID)
	if err != nil {
		return errors.Wrap(err, "marking notifications read")
	}
	return ctx.JSON(http.StatusOK, CountResponse{Count: count})
}
