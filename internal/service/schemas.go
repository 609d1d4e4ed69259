package service

import (
	"math"

	"github.com/mmynk/blueledger/internal/apperr"
	"github.com/mmynk/blueledger/internal/models"
	"github.com/mmynk/blueledger/internal/validate"
)

var (
	descriptionRule = validate.Rule{Field: "description", Type: validate.String, Min: validate.Bound(1), Max: validate.Bound(200)}
	priceRule       = validate.Rule{Field: "price", Type: validate.Number, Min: validate.Bound(0), Max: validate.Bound(1e9)}
	quantityRule    = validate.Rule{Field: "quantity", Type: validate.Integer, Min: validate.Bound(1), Max: validate.Bound(1e6)}
	totalPriceRule  = validate.Rule{Field: "totalPrice", Type: validate.Number, Min: validate.Bound(0), Max: validate.Bound(1e15)}
	sharedWithRule  = validate.Rule{Field: "sharedWith", Type: validate.StringList, Max: validate.Bound(50), Format: validate.FormatID}
	displayNameRule = validate.Rule{Field: "displayName", Type: validate.String, Min: validate.Bound(1), Max: validate.Bound(100)}
	emailRule       = validate.Rule{Field: "email", Type: validate.String, Required: true, Max: validate.Bound(254), Format: validate.FormatEmail}
)

func required(r validate.Rule) validate.Rule {
	r.Required = true
	return r
}

// CreateExpenseInput is the body of POST /expenses.
type CreateExpenseInput struct {
	Description string   `json:"description"`
	Price       float64  `json:"price"`
	Quantity    int      `json:"quantity"`
	TotalPrice  *float64 `json:"totalPrice"`
	SharedWith  []string `json:"sharedWith"`
}

var CreateExpenseSchema = validate.Schema{
	Name: "expense",
	Rules: []validate.Rule{
		required(descriptionRule),
		required(priceRule),
		required(quantityRule),
		totalPriceRule,
		sharedWithRule,
	},
	Refine: checkTotal,
}

// UpdateExpenseInput is the body of PATCH /expenses/{id}. Absent fields keep
// their stored value.
type UpdateExpenseInput struct {
	Description *string   `json:"description"`
	Price       *float64  `json:"price"`
	Quantity    *int      `json:"quantity"`
	TotalPrice  *float64  `json:"totalPrice"`
	SharedWith  *[]string `json:"sharedWith"`
}

var UpdateExpenseSchema = validate.Schema{
	Name:   "expense update",
	Rules:  []validate.Rule{descriptionRule, priceRule, quantityRule, totalPriceRule, sharedWithRule},
	Refine: checkTotal,
}

// checkTotal rejects a price x quantity that overflows, and a totalPrice that
// disagrees with it. It only runs when price and quantity are both present.
func checkTotal(values map[string]any) []apperr.FieldError {
	total, hasTotal := values["totalPrice"].(float64)
	price, hasPrice := values["price"].(float64)
	qty, hasQty := values["quantity"].(int64)
	if !hasPrice || !hasQty {
		return nil
	}
	if product := models.ComputeTotal(price, int(qty)); math.IsInf(product, 0) || math.IsNaN(product) {
		return []apperr.FieldError{{Field: "totalPrice", Rule: validate.RuleMax, Message: "price x quantity is out of range"}}
	}
	if !hasTotal {
		return nil
	}
	if !models.TotalMatches(total, price, int(qty)) {
		return []apperr.FieldError{totalMismatch()}
	}
	return nil
}

func totalMismatch() apperr.FieldError {
	return apperr.FieldError{Field: "totalPrice", Rule: "total", Message: "must equal price x quantity"}
}

// RegisterInput is the body of POST /auth/register.
type RegisterInput struct {
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
	Password    string `json:"password"`
}

var RegisterSchema = validate.Schema{
	Name: "registration",
	Rules: []validate.Rule{
		emailRule,
		required(displayNameRule),
		{Field: "password", Type: validate.String, Required: true, Min: validate.Bound(8), Max: validate.Bound(72)},
	},
}

// LoginInput is the body of POST /auth/login.
type LoginInput struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

var LoginSchema = validate.Schema{
	Name: "login",
	Rules: []validate.Rule{
		{Field: "email", Type: validate.String, Required: true, Min: validate.Bound(1)},
		{Field: "password", Type: validate.String, Required: true, Min: validate.Bound(1)},
	},
}

// UpdateProfileInput is the body of PATCH /me.
type UpdateProfileInput struct {
	DisplayName *string `json:"displayName"`
	Bio         *string `json:"bio"`
}

var UpdateProfileSchema = validate.Schema{
	Name: "profile",
	Rules: []validate.Rule{
		displayNameRule,
		{Field: "bio", Type: validate.String, Max: validate.Bound(500)},
	},
}

// FriendRequestInput is the body of POST /friends/requests.
type FriendRequestInput struct {
	Email string `json:"email"`
}

var FriendRequestSchema = validate.Schema{
	Name:  "friend request",
	Rules: []validate.Rule{emailRule},
}

// CreateGroupInput is the body of POST /groups.
type CreateGroupInput struct {
	Name string `json:"name"`
}

var CreateGroupSchema = validate.Schema{
	Name: "group",
	Rules: []validate.Rule{
		{Field: "name", Type: validate.String, Required: true, Min: validate.Bound(1), Max: validate.Bound(100)},
	},
}

// AddMemberInput is the body of POST /groups/{id}/members.
type AddMemberInput struct {
	UserID string `json:"userId"`
}

var AddMemberSchema = validate.Schema{
	Name: "group member",
	Rules: []validate.Rule{
		{Field: "userId", Type: validate.String, Required: true, Format: validate.FormatID},
	},
}

// ChannelAuthInput is the body of POST /realtime/auth.
type ChannelAuthInput struct {
	SocketID    string `json:"socketId"`
	ChannelName string `json:"channelName"`
}

var ChannelAuthSchema = validate.Schema{
	Name: "channel auth",
	Rules: []validate.Rule{
		{Field: "socketId", Type: validate.String, Required: true, Min: validate.Bound(1), Max: validate.Bound(100)},
		{Field: "channelName", Type: validate.String, Required: true, Min: validate.Bound(1), Max: validate.Bound(200)},
	},
}
