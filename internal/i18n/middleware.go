package i18n

import (
	"net/http"

	"golang.org/x/text/language"
)

// Middleware picks the UI language per request from the Accept-Language
// header, limited to the loaded locales. Requests without a match get the
// default language passed to Init.
func Middleware() func(http.Handler) http.Handler {
	tags := Languages()
	matcher := language.NewMatcher(tags)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			loc := NewLocalizer()
			if accept := r.Header.Get("Accept-Language"); accept != "" {
				if prefs, _, err := language.ParseAcceptLanguage(accept); err == nil && len(prefs) > 0 {
					_, idx, conf := matcher.Match(prefs...)
					if conf > language.No {
						loc = NewLocalizer(tags[idx].String())
					}
				}
			}
			next.ServeHTTP(w, r.WithContext(WithLocalizer(r.Context(), loc)))
		})
	}
}
