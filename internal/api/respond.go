package api

import (
	"encoding/json"
	"html/template"
	"net/http"

	"go.uber.org/zap"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

type pageData struct {
	Title   string
	Message string
	Email   string
}

var pageTemplate = template.Must(template.New("page").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>{{.Title}}</title></head>
<body style="font-family: sans-serif; max-width: 480px; margin: 64px auto; text-align: center;">
<h1>{{.Title}}</h1>
<p>{{.Message}}{{if .Email}} <strong>{{.Email}}</strong>.{{end}}</p>
</body>
</html>
`))

func (h *Handler) renderPage(w http.ResponseWriter, status int, data pageData) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := pageTemplate.Execute(w, data); err != nil {
		h.Log.Error("failed to render page", zap.Error(err))
	}
}
