package web

import (
	"html/template"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/lmoraes/taskboard/internal/gatekit"
	"github.com/lmoraes/taskboard/internal/taskkit"
)

// The rendering layer is deliberately thin: two server-rendered pages plus
// the auth error page, enough to exercise the gatekeeper's HTML branch.
var pageTemplates = template.Must(template.New("pages").Parse(`
{{define "login"}}<!DOCTYPE html>
<html lang="{{.Locale}}">
<head><meta charset="utf-8"><title>Sign in</title></head>
<body>
<h1>Sign in</h1>
{{if .Error}}<p class="error">{{.Error}}</p>{{end}}
<a href="/auth/google/login">Continue with Google</a>
</body>
</html>{{end}}

{{define "dashboard"}}<!DOCTYPE html>
<html lang="{{.Locale}}">
<head><meta charset="utf-8"><title>Dashboard</title></head>
<body>
<h1>Your tasks</h1>
<p>{{.DisplayName}}</p>
<ul>
{{range .Tasks}}<li data-task-id="{{.ID}}">{{if .Completed}}&#x2713; {{end}}{{.Title}}</li>
{{else}}<li class="empty">No tasks yet</li>
{{end}}</ul>
</body>
</html>{{end}}

{{define "autherror"}}<!DOCTYPE html>
<html lang="{{.Locale}}">
<head><meta charset="utf-8"><title>Something went wrong</title></head>
<body>
<h1>Something went wrong</h1>
<p>Please <a href="/{{.Locale}}/login">sign in</a> again.</p>
</body>
</html>{{end}}
`))

// RegisterPages installs the HTML pages under every supported locale and
// the bare (default-locale) paths.
func RegisterPages(router *gin.Engine, tasks taskkit.TaskStore, logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	router.SetHTMLTemplate(pageTemplates)

	loginHandler := func(contextGin *gin.Context) {
		contextGin.HTML(http.StatusOK, "login", gin.H{
			"Locale": gatekit.LocaleFromContext(contextGin),
			"Error":  contextGin.Query("error"),
		})
	}
	dashboardHandler := func(contextGin *gin.Context) {
		session := gatekit.SessionFromContext(contextGin)
		if session == nil {
			contextGin.Redirect(http.StatusFound, "/"+gatekit.LocaleFromContext(contextGin)+"/login")
			return
		}
		records, listErr := tasks.ListTasks(contextGin, session.Subject)
		if listErr != nil {
			logger.Error("dashboard task listing failed",
				zap.String("code", "pages.dashboard.list_failed"),
				zap.String("user_id", session.Subject),
				zap.Error(listErr))
			contextGin.String(http.StatusInternalServerError, "internal error")
			return
		}
		contextGin.HTML(http.StatusOK, "dashboard", gin.H{
			"Locale":      gatekit.LocaleFromContext(contextGin),
			"DisplayName": session.DisplayName,
			"Tasks":       records,
		})
	}
	errorHandler := func(contextGin *gin.Context) {
		contextGin.HTML(http.StatusOK, "autherror", gin.H{
			"Locale": gatekit.LocaleFromContext(contextGin),
		})
	}

	prefixes := []string{""}
	for _, locale := range gatekit.SupportedLocales {
		prefixes = append(prefixes, "/"+locale)
	}
	for _, prefix := range prefixes {
		router.GET(prefix+"/login", loginHandler)
		router.GET(prefix+"/dashboard", dashboardHandler)
		router.GET(prefix+"/auth/error", errorHandler)
	}
}
