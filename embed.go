package chatrelay

import "embed"

// TemplateFS contains the embedded HTML templates used for rendering the test chat page.
//
//go:embed templates/*
var TemplateFS embed.FS

// StaticFS contains the embedded static assets served under /static.
//
//go:embed static/*
var StaticFS embed.FS
