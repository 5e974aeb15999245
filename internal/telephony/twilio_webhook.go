package telephony

import (
	"errors"
	"strconv"
	"strings"

	"ai-receptionist/pkg/phone"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
)

// Twilio posts application/x-www-form-urlencoded bodies. Only the fields the
// receptionist uses are bound. Gateways that front other carriers send the
// call id as CarrierCallId instead of CallSid.
// Ref: https://www.twilio.com/docs/usage/webhooks/voice-webhooks

type InboundCallForm struct {
	CallSid       string `form:"CallSid" binding:"max=64"`
	CarrierCallID string `form:"CarrierCallId" binding:"max=64"`
	AccountSid    string `form:"AccountSid"`
	From          string `form:"From"`
	To            string `form:"To" binding:"required"`
	CallStatus    string `form:"CallStatus"`
}

type SpeechResultForm struct {
	CallSid       string `form:"CallSid" binding:"max=64"`
	CarrierCallID string `form:"CarrierCallId" binding:"max=64"`
	SpeechResult  string `form:"SpeechResult" binding:"max=4000"`
	Confidence    string `form:"Confidence"`
}

type StatusCallbackForm struct {
	CallSid       string `form:"CallSid" binding:"max=64"`
	CarrierCallID string `form:"CarrierCallId" binding:"max=64"`
	CallStatus    string `form:"CallStatus" binding:"required"`
	CallDuration  int    `form:"CallDuration" binding:"min=0"`
}

var ErrMissingCallSid = errors.New("telephony: CallSid or CarrierCallId is required")

func bindForm(c *gin.Context, dst any) error {
	return c.ShouldBindWith(dst, binding.Form)
}

// callSid picks CallSid, falling back to CarrierCallId.
func callSid(sid, carrierID string) (string, error) {
	if v := strings.TrimSpace(sid); v != "" {
		return v, nil
	}
	if v := strings.TrimSpace(carrierID); v != "" {
		return v, nil
	}
	return "", ErrMissingCallSid
}

// ParseInboundCall binds and normalizes both numbers to E.164 using region
// for numbers without a country code.
func ParseInboundCall(c *gin.Context, region string) (InboundCallForm, error) {
	var f InboundCallForm
	if err := bindForm(c, &f); err != nil {
		return InboundCallForm{}, err
	}
	sid, err := callSid(f.CallSid, f.CarrierCallID)
	if err != nil {
		return InboundCallForm{}, err
	}
	f.CallSid = sid
	f.From = phone.Normalize(f.From, region)
	f.To = phone.Normalize(f.To, region)
	return f, nil
}

func ParseSpeechResult(c *gin.Context) (SpeechResultForm, float64, error) {
	var f SpeechResultForm
	if err := bindForm(c, &f); err != nil {
		return SpeechResultForm{}, 0, err
	}
	sid, err := callSid(f.CallSid, f.CarrierCallID)
	if err != nil {
		return SpeechResultForm{}, 0, err
	}
	f.CallSid = sid
	return f, parseConfidence(f.Confidence), nil
}

func ParseStatusCallback(c *gin.Context) (StatusCallbackForm, error) {
	var f StatusCallbackForm
	if err := bindForm(c, &f); err != nil {
		return StatusCallbackForm{}, err
	}
	sid, err := callSid(f.CallSid, f.CarrierCallID)
	if err != nil {
		return StatusCallbackForm{}, err
	}
	f.CallSid = sid
	f.CallStatus = strings.ToLower(strings.TrimSpace(f.CallStatus))
	return f, nil
}

// parseConfidence clamps the carrier's speech confidence into [0,1]. A missing
// or malformed value counts as 0.
func parseConfidence(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return max(0, min(1, v))
}
