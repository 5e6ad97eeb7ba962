package api

import "github.com/keithlinneman/coachdesk-api/internal/pipeline"

type subscribeRequest struct {
	Email string `json:"email"`
}

var subscribeSchema = pipeline.MustSchema(`{
	"type": "object",
	"properties": {
		"email": {"type": "string", "format": "email", "maxLength": 254}
	},
	"required": ["email"],
	"additionalProperties": false
}`)

type checkoutRequest struct {
	PriceID  string `json:"priceId"`
	Quantity int    `json:"quantity"`
}

var checkoutSchema = pipeline.MustSchema(`{
	"type": "object",
	"properties": {
		"priceId":  {"type": "string", "minLength": 1, "maxLength": 100},
		"quantity": {"type": "integer", "minimum": 1, "maximum": 100}
	},
	"required": ["priceId", "quantity"],
	"additionalProperties": false
}`)

type coursesQuery struct {
	Page int    `json:"page,string"`
	Q    string `json:"q"`
}

var coursesQuerySchema = pipeline.MustSchema(`{
	"type": "object",
	"properties": {
		"page": {"type": "string", "pattern": "^[1-9][0-9]{0,3}$"},
		"q":    {"type": "string", "maxLength": 100}
	},
	"additionalProperties": false
}`)

type uploadRequest struct {
	Filename    string `json:"filename"`
	ContentType string `json:"contentType"`
	Data        string `json:"data"`
}

var uploadSchema = pipeline.MustSchema(`{
	"type": "object",
	"properties": {
		"filename":    {"type": "string", "minLength": 1, "maxLength": 200},
		"contentType": {"type": "string", "enum": ["application/pdf", "image/png", "image/jpeg", "text/plain"]},
		"data":        {"type": "string", "minLength": 1}
	},
	"required": ["filename", "contentType", "data"],
	"additionalProperties": false
}`)
