package notify

import (
	"bytes"
	"fmt"
	htmltemplate "html/template"
	"text/template"
)

type message struct {
	Subject string
	Text    string
	HTML    string
}

var reportText = template.Must(template.New("report.txt").Parse(`ReviewIQ - Vaš izvještaj je spreman!

Poštovani,

Vaša analiza recenzija za {{.RestaurantName}} je završena.

Pogledaj izvještaj: {{.ReportURL}}
{{- if .DatasetURL}}
Preuzmi podatke (CSV): {{.DatasetURL}}
{{- end}}

Link vrijedi 3 mjeseca.

--
ReviewIQ
info@reviewiq.hr
`))

var reportHTML = htmltemplate.Must(htmltemplate.New("report.html").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"></head>
<body style="font-family: Arial, sans-serif;">
<h1>Review<span style="color: #10b981;">IQ</span></h1>
<p><strong>Vaš izvještaj je spreman!</strong></p>
<p>Poštovani,</p>
<p>Vaša analiza recenzija za <strong>{{.RestaurantName}}</strong> je završena.</p>
<p><a href="{{.ReportURL}}">Pogledaj izvještaj</a></p>
{{- if .DatasetURL}}
<p><a href="{{.DatasetURL}}">Preuzmi podatke (CSV)</a></p>
{{- end}}
<p>Link vrijedi 3 mjeseca.</p>
</body>
</html>
`))

var orderHTML = htmltemplate.Must(htmltemplate.New("order.html").Parse(`<h2>Nova narudžba!</h2>
<p><strong>Order ID:</strong> {{.OrderID}}</p>
<p><strong>Email:</strong> {{.Email}}</p>
<p><strong>Restaurant URL:</strong> {{.RestaurantURL}}</p>
`))

func reportMessage(d Delivery) (message, error) {
	var text, html bytes.Buffer
	if err := reportText.Execute(&text, d); err != nil {
		return message{}, fmt.Errorf("rendering text body: %w", err)
	}
	if err := reportHTML.Execute(&html, d); err != nil {
		return message{}, fmt.Errorf("rendering html body: %w", err)
	}
	return message{
		Subject: fmt.Sprintf("Vaš ReviewIQ izvještaj za %s je spreman!", d.RestaurantName),
		Text:    text.String(),
		HTML:    html.String(),
	}, nil
}

func orderMessage(n OrderNotice) (message, error) {
	var html bytes.Buffer
	if err := orderHTML.Execute(&html, n); err != nil {
		return message{}, fmt.Errorf("rendering order notice: %w", err)
	}
	return message{
		Subject: fmt.Sprintf("Nova ReviewIQ narudžba - %s", n.OrderID),
		Text:    fmt.Sprintf("Order %s from %s for %s", n.OrderID, n.Email, n.RestaurantURL),
		HTML:    html.String(),
	}, nil
}
