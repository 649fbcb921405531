package telegram

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"

	tele "gopkg.in/telebot.v4"
)

// DeliveryError is a rejected or failed sendMessage call. Status is the Bot API
// error code when one was reported, 0 for transport failures.
type DeliveryError struct {
	Status int
	Body   string
	Err    error
}

func (e *DeliveryError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("telegram delivery failed: status %d: %s", e.Status, e.Body)
	}
	return fmt.Sprintf("telegram delivery failed: %v", e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

var reTrailingCode = regexp.MustCompile(`\((\d{3})\)\s*$`)

// asDeliveryError extracts status and description from telebot errors.
func asDeliveryError(err error) *DeliveryError {
	if err == nil {
		return nil
	}
	out := &DeliveryError{Body: err.Error(), Err: err}

	var te *tele.Error
	switch {
	case errors.As(err, &te):
		out.Status = te.Code
		out.Body = te.Description
	default:
		// "telegram: <description> (<code>)", flood errors included
		if m := reTrailingCode.FindStringSubmatch(err.Error()); len(m) == 2 {
			out.Status, _ = strconv.Atoi(m[1])
		}
	}
	return out
}
