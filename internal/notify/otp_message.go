package notify

import (
	"fmt"
	"html"
	"time"
)

// OTPMessage renders the email carrying a passcode. purpose is "register" or "login".
func OTPMessage(to, code, purpose string, ttl time.Duration) Message {
	subject := "Verify your email address"
	intro := "Use this code to finish creating your account."
	if purpose == "login" {
		subject = "Your login code"
		intro = "Use this code to finish signing in."
	}
	minutes := int(ttl.Minutes())

	text := fmt.Sprintf("%s\n\n%s\n\nThe code expires in %d minutes. If you did not request it, ignore this email.\n",
		intro, code, minutes)
	body := fmt.Sprintf(`<p>%s</p><p style="font-size:24px;font-weight:bold;letter-spacing:4px">%s</p><p>The code expires in %d minutes. If you did not request it, ignore this email.</p>`,
		html.EscapeString(intro), html.EscapeString(code), minutes)

	return Message{
		To:      to,
		Subject: subject,
		Text:    text,
		HTML:    body,
		Tag:     "otp-" + purpose,
	}
}
