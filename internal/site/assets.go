package site

import (
	"embed"
	"fmt"
	"io/fs"
	"path"
	"strings"

	"github.com/evanw/esbuild/pkg/api"
)

//go:embed static/*
var staticFiles embed.FS

// Asset is one generated static file.
type Asset struct {
	Name    string // path relative to assets/
	Content []byte
}

// Assets returns the embedded browser assets, minified with esbuild when
// minify is set.
func Assets(minify bool) ([]Asset, error) {
	var assets []Asset
	err := fs.WalkDir(staticFiles, "static", func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		content, err := staticFiles.ReadFile(p)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", p, err)
		}
		if minify {
			if content, err = minifyAsset(p, content); err != nil {
				return err
			}
		}
		assets = append(assets, Asset{Name: strings.TrimPrefix(p, "static/"), Content: content})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return assets, nil
}

func minifyAsset(name string, src []byte) ([]byte, error) {
	var loader api.Loader
	switch path.Ext(name) {
	case ".js":
		loader = api.LoaderJS
	case ".css":
		loader = api.LoaderCSS
	default:
		return src, nil
	}

	result := api.Transform(string(src), api.TransformOptions{
		Loader:            loader,
		Sourcefile:        name,
		Target:            api.ES2020,
		MinifyWhitespace:  true,
		MinifyIdentifiers: true,
		MinifySyntax:      true,
		LogLevel:          api.LogLevelWarning,
	})

	if len(result.Errors) > 0 {
		var errMsg string
		for _, err := range result.Errors {
			loc := ""
			if err.Location != nil {
				loc = fmt.Sprintf("%s:%d:%d: ", err.Location.File, err.Location.Line, err.Location.Column)
			}
			errMsg += loc + err.Text + "\n"
		}
		return nil, fmt.Errorf("esbuild errors:\n%s", errMsg)
	}
	return result.Code, nil
}
