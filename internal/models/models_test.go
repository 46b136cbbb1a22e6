package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/devsync-io/devsync/internal/errors"
)

func TestFileTreeValidate(t *testing.T) {
	cases := []struct {
		name string
		tree FileTree
		ok   bool
	}{
		{"empty tree", FileTree{}, true},
		{"nil tree", nil, true},
		{"simple paths", FileTree{
			"index.js":     {File: FileBody{Contents: "x"}},
			"src/app.js":   {File: FileBody{Contents: "y"}},
			"package.json": {File: FileBody{Contents: "{}"}},
		}, true},
		{"empty path", FileTree{"": {}}, false},
		{"absolute path", FileTree{"/etc/passwd": {}}, false},
		{"parent traversal", FileTree{"../escape.js": {}}, false},
		{"embedded traversal", FileTree{"src/../../escape.js": {}}, false},
		{"dotdot as filename part is fine", FileTree{"src/..weird.js": {}}, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.tree.Validate()
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.True(t, apperrors.IsValidation(err))
			}
		})
	}
}

func TestFileTreeClone(t *testing.T) {
	orig := FileTree{"a.js": {File: FileBody{Contents: "one"}}}
	clone := orig.Clone()

	clone["a.js"] = FileEntry{File: FileBody{Contents: "two"}}
	clone["b.js"] = FileEntry{File: FileBody{Contents: "new"}}

	assert.Equal(t, "one", orig["a.js"].File.Contents)
	assert.NotContains(t, orig, "b.js")
	assert.Nil(t, FileTree(nil).Clone())
}

func TestFileTreeWireShape(t *testing.T) {
	tree := FileTree{"a.js": {File: FileBody{Contents: "let x = 1"}}}

	data, err := json.Marshal(tree)
	require.NoError(t, err)
	assert.JSONEq(t, `{"a.js":{"file":{"contents":"let x = 1"}}}`, string(data))
}

func TestSenderVariants(t *testing.T) {
	id := Identity{UserID: "u1", Email: "a@example.com"}

	human := HumanSender(id)
	assert.Equal(t, SenderHuman, human.Kind)
	require.NotNil(t, human.Identity)
	assert.Equal(t, "u1", human.Identity.UserID)
	assert.False(t, human.IsAgent())

	agent := AgentSender()
	assert.Equal(t, SenderAgent, agent.Kind)
	assert.Nil(t, agent.Identity)
	assert.True(t, agent.IsAgent())

	system := SystemSender()
	assert.Equal(t, SenderSystem, system.Kind)
	assert.False(t, system.IsAgent())
}

func TestParseAgentPayload(t *testing.T) {
	t.Run("text and tree", func(t *testing.T) {
		p, ok := ParseAgentPayload(`{"text":"done","fileTree":{"a.js":{"file":{"contents":"x"}}}}`)
		require.True(t, ok)
		assert.Equal(t, "done", p.Text)
		assert.Equal(t, "x", p.FileTree["a.js"].File.Contents)
	})

	t.Run("text only", func(t *testing.T) {
		p, ok := ParseAgentPayload(`{"text":"hello"}`)
		require.True(t, ok)
		assert.Equal(t, "hello", p.Text)
		assert.Nil(t, p.FileTree)
	})

	t.Run("not json", func(t *testing.T) {
		_, ok := ParseAgentPayload("plain chat text")
		assert.False(t, ok)
	})

	t.Run("empty object", func(t *testing.T) {
		_, ok := ParseAgentPayload(`{}`)
		assert.False(t, ok)
	})
}
