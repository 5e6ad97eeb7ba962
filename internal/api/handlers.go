package api

import (
	"encoding/base64"
	"net/http"

	"github.com/google/uuid"

	"github.com/keithlinneman/coachdesk-api/internal/adapter"
	"github.com/keithlinneman/coachdesk-api/internal/apperr"
	"github.com/keithlinneman/coachdesk-api/internal/pathutil"
	"github.com/keithlinneman/coachdesk-api/internal/pipeline"
)

const coursesPageSize = 20

func (a *API) subscribe(rc *pipeline.RequestContext) (any, error) {
	req, _ := pipeline.ValidatedAs[subscribeRequest](rc)
	if err := a.opts.Newsletter.Subscribe(rc.Context(), a.opts.NewsletterList, req.Email); err != nil {
		return nil, err
	}
	return map[string]any{"subscribed": true}, nil
}

func (a *API) checkout(rc *pipeline.RequestContext) (any, error) {
	req, _ := pipeline.ValidatedAs[checkoutRequest](rc)
	s, err := a.opts.Payments.CreateCheckout(rc.Context(), adapter.CheckoutRequest{
		PriceID:    req.PriceID,
		Quantity:   req.Quantity,
		CustomerID: rc.User.ID,
		Email:      rc.User.Email,
	})
	if err != nil {
		return nil, err
	}
	return map[string]string{"sessionId": s.ID, "url": s.URL}, nil
}

func (a *API) listCourses(rc *pipeline.RequestContext) (any, error) {
	q, _ := pipeline.ValidatedAs[coursesQuery](rc)
	page := max(q.Page, 1)
	courses, total, err := a.opts.Courses.List(rc.Context(), q.Q, page, coursesPageSize)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"courses":  courses,
		"page":     page,
		"pageSize": coursesPageSize,
		"total":    total,
	}, nil
}

func (a *API) upload(rc *pipeline.RequestContext) (any, error) {
	req, _ := pipeline.ValidatedAs[uploadRequest](rc)

	name, err := pathutil.CleanFileName(req.Filename)
	if err != nil {
		return nil, apperr.From(err, apperr.KindValidation, "Invalid filename")
	}
	data, err := base64.StdEncoding.DecodeString(req.Data)
	if err != nil {
		return nil, apperr.From(err, apperr.KindValidation, "data must be base64 encoded")
	}

	key, err := a.opts.Uploads.Put(rc.Context(), rc.User.ID+"/"+uuid.NewString()+"-"+name, req.ContentType, data)
	if err != nil {
		return nil, err
	}
	return pipeline.JSON(http.StatusCreated, map[string]any{"key": key, "size": len(data)}), nil
}
