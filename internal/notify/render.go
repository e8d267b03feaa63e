package notify

import (
	"strconv"
	"time"

	"pagerbuddy/internal/alert"
	"pagerbuddy/internal/transport"
	"pagerbuddy/pkg/tgui"
)

// RenderOptions control how an alert is shown to recipients. Confidential
// output omits the unit and every free-text field; the stored alert is not
// affected.
type RenderOptions struct {
	Location     *time.Location
	Confidential bool
	Plain        bool
}

func (o RenderOptions) loc() *time.Location {
	if o.Location == nil {
		return time.Local
	}
	return o.Location
}

// Title is the one-line headline of an alert.
func Title(a *alert.Alert, opt RenderOptions) string {
	prefix := "Alert"
	if a.Silent {
		prefix = "Silent alert"
	}
	if opt.Confidential {
		return prefix
	}
	return prefix + ": " + a.Unit.DisplayName()
}

// RenderAlert renders the alert body.
func RenderAlert(a *alert.Alert, opt RenderOptions) tgui.Message {
	b := tgui.New()
	if opt.Plain {
		b = tgui.Plain()
	}
	emoji := "🚨"
	if a.Silent {
		emoji = "🔕"
	}
	b.Title(emoji, Title(a, opt))
	if !opt.Confidential {
		b.KV("Keyword", a.Keyword)
		b.KV("Location", a.Location)
		b.KV("Message", tgui.TruncRunes(a.Message, 1500))
	}
	b.KV("Time", a.Timestamp.In(opt.loc()).Format("02.01.2006 15:04:05"))
	if a.Silent {
		b.Line("Drill or test window, delivered quietly.")
	}
	return b.Build()
}

// AlertData is the structured payload for push and webhook recipients.
func AlertData(a *alert.Alert, opt RenderOptions) map[string]string {
	d := map[string]string{
		"alert_id":            a.ID,
		"timestamp":           a.Timestamp.UTC().Format(time.RFC3339),
		"information_content": a.Info.String(),
		"silent":              strconv.FormatBool(a.Silent),
		"manual":              strconv.FormatBool(a.Manual),
	}
	if !opt.Confidential {
		d["unit_code"] = strconv.Itoa(a.Unit.Code)
		d["unit"] = a.Unit.DisplayName()
		d["keyword"] = a.Keyword
		d["location"] = a.Location
		d["message"] = a.Message
	}
	return d
}

// ResponseButtons lays out one button per response option.
func ResponseButtons(alertResponseID string, options []alert.ResponseOption) [][]transport.Button {
	btns := make([]transport.Button, 0, len(options))
	for _, o := range options {
		data, err := tgui.ResponseData(alertResponseID, o.ID)
		if err != nil {
			continue
		}
		btns = append(btns, tgui.Btn(o.Label, data))
	}
	return tgui.Grid(3, btns)
}

// compose joins the alert body and the response overview.
func compose(body, overview string) string {
	if overview == "" {
		return body
	}
	return body + "\n\n" + overview
}
