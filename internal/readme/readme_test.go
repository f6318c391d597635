package readme

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRender_BasicMarkdown(t *testing.T) {
	out, err := Render([]byte("# my-crate\n\nA *fast* library.\n"))
	require.NoError(t, err)
	require.Contains(t, out, "<h1>my-crate</h1>")
	require.Contains(t, out, "<em>fast</em>")
}

func TestRender_GFMTable(t *testing.T) {
	out, err := Render([]byte("| a | b |\n|---|---|\n| 1 | 2 |\n"))
	require.NoError(t, err)
	require.Contains(t, out, "<table>")
}

func TestRender_StripsScript(t *testing.T) {
	out, err := Render([]byte("hello\n\n<script>alert(1)</script>\n"))
	require.NoError(t, err)
	require.NotContains(t, out, "<script")
	require.NotContains(t, out, "alert(1)")
	require.Contains(t, out, "hello")
}

func TestSanitize_DropsEventHandlersAndScriptURLs(t *testing.T) {
	out, err := Sanitize(`<a href="javascript:alert(1)" onclick="x()" title="ok">link</a><img src="https://example.com/x.png" onerror="y()">`)
	require.NoError(t, err)
	require.NotContains(t, out, "javascript:")
	require.NotContains(t, out, "onclick")
	require.NotContains(t, out, "onerror")
	require.Contains(t, out, `title="ok"`)
	require.Contains(t, out, `src="https://example.com/x.png"`)
}

func TestSanitize_KeepsSafeMarkup(t *testing.T) {
	out, err := Sanitize(`<p>para</p><pre><code>let x = 1;</code></pre>`)
	require.NoError(t, err)
	require.Contains(t, out, "<p>para</p>")
	require.Contains(t, out, "<code>let x = 1;</code>")
}

func TestSanitize_DropsNestedActiveContent(t *testing.T) {
	out, err := Sanitize(`<div><style>body{}</style><iframe src="https://evil"></iframe>text</div>`)
	require.NoError(t, err)
	require.NotContains(t, out, "<style")
	require.NotContains(t, out, "<iframe")
	require.Contains(t, out, "text")
}
