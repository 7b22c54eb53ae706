// Package i18n holds the UI translations and the per-request localizer.
package i18n

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"path"

	"github.com/nicksnyder/go-i18n/v2/i18n"
	"golang.org/x/text/language"
)

//go:embed locales/*.json
var localeFS embed.FS

type ctxKey struct{}

var (
	bundle      *i18n.Bundle
	defaultLang string
)

// Init loads every embedded locale. lang is the default for requests that
// ask for no supported language and must have a locale file.
func Init(lang string) error {
	tag, err := language.Parse(lang)
	if err != nil {
		return fmt.Errorf("parse language %q: %w", lang, err)
	}

	b := i18n.NewBundle(tag)
	b.RegisterUnmarshalFunc("json", json.Unmarshal)

	files, err := localeFS.ReadDir("locales")
	if err != nil {
		return fmt.Errorf("read locales: %w", err)
	}
	var loaded []language.Tag
	for _, f := range files {
		if f.IsDir() {
			continue
		}
		name := path.Join("locales", f.Name())
		data, err := localeFS.ReadFile(name)
		if err != nil {
			return fmt.Errorf("read %s: %w", name, err)
		}
		mf, err := b.ParseMessageFileBytes(data, f.Name())
		if err != nil {
			return fmt.Errorf("parse %s: %w", name, err)
		}
		loaded = append(loaded, mf.Tag)
	}

	if !hasTag(loaded, tag) {
		return fmt.Errorf("no locale for language %q", lang)
	}
	bundle = b
	defaultLang = tag.String()
	slog.Debug("translations loaded", "default", defaultLang, "languages", len(b.LanguageTags()))
	return nil
}

// Languages returns the tags of the loaded locales.
func Languages() []language.Tag {
	return bundle.LanguageTags()
}

// NewLocalizer creates a localizer preferring langs in order, then the
// default language.
func NewLocalizer(langs ...string) *i18n.Localizer {
	return i18n.NewLocalizer(bundle, append(langs, defaultLang)...)
}

// WithLocalizer stores a localizer in the context.
func WithLocalizer(ctx context.Context, loc *i18n.Localizer) context.Context {
	return context.WithValue(ctx, ctxKey{}, loc)
}

func localizer(ctx context.Context) *i18n.Localizer {
	if loc, ok := ctx.Value(ctxKey{}).(*i18n.Localizer); ok {
		return loc
	}
	return NewLocalizer()
}

func localize(ctx context.Context, cfg *i18n.LocalizeConfig) string {
	s, err := localizer(ctx).Localize(cfg)
	if err != nil {
		slog.Warn("missing translation", "id", cfg.MessageID, "error", err)
		return cfg.MessageID
	}
	return s
}

// T translates a message by ID.
func T(ctx context.Context, msgID string) string {
	return localize(ctx, &i18n.LocalizeConfig{MessageID: msgID})
}

// Td translates a message by ID with template data.
func Td(ctx context.Context, msgID string, data map[string]any) string {
	return localize(ctx, &i18n.LocalizeConfig{MessageID: msgID, TemplateData: data})
}

// Tp translates a pluralized message; Count is available to the template.
func Tp(ctx context.Context, msgID string, count int) string {
	return localize(ctx, &i18n.LocalizeConfig{
		MessageID:    msgID,
		PluralCount:  count,
		TemplateData: map[string]any{"Count": count},
	})
}

func hasTag(tags []language.Tag, want language.Tag) bool {
	for _, t := range tags {
		if t == want {
			return true
		}
	}
	return false
}
