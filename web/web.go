// Package web serves the embedded single-page console.
package web

import (
	"embed"
	"fmt"
	"html"
	"io/fs"
	"net/http"
	"path"
	"strings"
)

//go:embed dist/*
var content embed.FS

// NonceFunc returns the per-request CSP nonce from the request context.
// When nil, or when it returns "", the index is served unchanged.
type NonceFunc func(r *http.Request) string

// Handler returns an http.Handler that serves the embedded console assets.
//
// The index page is rendered per request: every <script> tag receives the
// request's CSP nonce and a <meta name="csp-nonce"> tag is added before
// </head> so client code can apply the nonce to elements it creates.
// Unknown paths fall back to the index for client-side routing.
func Handler(nonceFunc NonceFunc) (http.Handler, error) {
	fsys, err := fs.Sub(content, "dist")
	if err != nil {
		return nil, fmt.Errorf("loading embedded web assets: %w", err)
	}

	indexBytes, err := fs.ReadFile(fsys, "index.html")
	if err != nil {
		return nil, fmt.Errorf("reading embedded index.html: %w", err)
	}
	indexTemplate := string(indexBytes)

	static := http.FileServer(http.FS(fsys))

	serveIndex := func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "no-store")
		var nonce string
		if nonceFunc != nil {
			nonce = nonceFunc(r)
		}
		if nonce == "" {
			w.Write(indexBytes)
			return
		}
		w.Write([]byte(renderIndex(indexTemplate, nonce)))
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.Header().Set("Allow", "GET, HEAD")
			http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
			return
		}

		cleanPath := strings.TrimPrefix(path.Clean(r.URL.Path), "/")
		if cleanPath == "" || cleanPath == "." || cleanPath == "index.html" {
			serveIndex(w, r)
			return
		}

		if info, err := fs.Stat(fsys, cleanPath); err == nil && !info.IsDir() {
			static.ServeHTTP(w, r)
			return
		}

		serveIndex(w, r)
	}), nil
}

func renderIndex(tmpl, nonce string) string {
	escaped := html.EscapeString(nonce)
	body := strings.ReplaceAll(tmpl, "<script", `<script nonce="`+escaped+`"`)
	meta := `<meta name="csp-nonce" content="` + escaped + `">`
	return strings.Replace(body, "</head>", meta+"\n  </head>", 1)
}
