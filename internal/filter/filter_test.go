package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsCode_Extensions(t *testing.T) {
	f := New(nil, nil, nil)
	tests := []struct {
		path string
		want bool
	}{
		{"/src/app.py", true},
		{"/src/main.go", true},
		{"/src/Component.TSX", true},
		{"/src/analysis.R", true},
		{"/src/app.test.js", true},
		{"/src/button.stories.tsx", true},
		{"/README.md", false},
		{"/config.yaml", false},
		{"/go.sum", false},
		{"/.gitignore", false},
		{"/Makefile", false},
		{"/static/app.min.js", false},
		{"/static/vendor.min.css", false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, f.IsCode(tt.path, ""))
		})
	}
}

func TestIsCode_SkipPaths(t *testing.T) {
	f := New(nil, nil, nil)
	assert.False(t, f.IsCode("/proj/node_modules/lib/index.js", ""))
	assert.False(t, f.IsCode("/proj/docs/example.py", ""))
	assert.False(t, f.IsCode("/proj/app/migrations/0001_initial.py", ""))
	assert.True(t, f.IsCode("/proj/app/models.py", ""))
}

func TestIsCode_ContentHeuristics(t *testing.T) {
	f := New(nil, nil, nil)
	code := "def handler(event):\n    return event['body']\n"
	prose := "This is just a plain sentence about nothing in particular."

	// Unknown extension falls back to content.
	assert.True(t, f.IsCode("/scripts/tool.xyz", code))
	assert.False(t, f.IsCode("/scripts/notes.xyz", prose))
	assert.False(t, f.IsCode("/scripts/tool.xyz", ""))

	// .txt is a soft skip.
	assert.True(t, f.IsCode("/notes/snippet.txt", code))
	assert.False(t, f.IsCode("/notes/todo.txt", prose))

	// Hard skips ignore content.
	assert.False(t, f.IsCode("/notes/snippet.md", code))
}

func TestIsCode_Deterministic(t *testing.T) {
	f := New(nil, nil, nil)
	for i := 0; i < 3; i++ {
		assert.True(t, f.IsCode("/a/b.go", "package b"))
		assert.False(t, f.IsCode("/a/b.md", "package b"))
	}
}

func TestNew_Overrides(t *testing.T) {
	f := New([]string{"foo"}, []string{".py"}, []string{"vendor/"})
	assert.True(t, f.IsCode("/x/a.foo", ""))
	assert.False(t, f.IsCode("/x/a.py", "def f():\n    return 1\n# padding padding"))
	assert.False(t, f.IsCode("/vendor/a.foo", ""))

	codeExts, skipExts, skipPaths := f.Config()
	assert.Equal(t, []string{".foo"}, codeExts)
	assert.Equal(t, []string{".py"}, skipExts)
	assert.Equal(t, []string{"vendor/"}, skipPaths)
}

func TestLooksLikeCode(t *testing.T) {
	assert.True(t, LooksLikeCode("func main() {\n\tfmt.Println(\"hi\")\n}"))
	assert.True(t, LooksLikeCode("const x = () => { return 1; };"))
	assert.False(t, LooksLikeCode("short"))
	assert.False(t, LooksLikeCode("The quick brown fox jumps over the lazy dog."))
}
