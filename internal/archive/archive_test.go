package archive

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testIdentity() Identity {
	return Identity{Name: "agent-mail", Email: "agent-mail@localhost"}
}

func TestOpen_InitializesEmptyRepository(t *testing.T) {
	dir := t.TempDir()
	repo, err := Open(dir, testIdentity())
	require.NoError(t, err)
	assert.Equal(t, dir, repo.Path())
}

func TestCommit_FirstCommitHasNoParent(t *testing.T) {
	dir := t.TempDir()
	repo, err := Open(dir, testIdentity())
	require.NoError(t, err)

	hash, err := repo.Commit("projects/demo/agents/alice/profile.json", `{"name":"alice"}`, "register alice")
	require.NoError(t, err)
	assert.NotEqual(t, "0000000000000000000000000000000000000000", hash.String())

	content, err := repo.ReadAtHEAD("projects/demo/agents/alice/profile.json")
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"alice"}`, string(content))
}

func TestCommit_SecondCommitHasHEADAsParent(t *testing.T) {
	dir := t.TempDir()
	repo, err := Open(dir, testIdentity())
	require.NoError(t, err)

	_, err = repo.Commit("a.txt", "one", "first")
	require.NoError(t, err)
	_, err = repo.Commit("b.txt", "two", "second")
	require.NoError(t, err)

	a, err := repo.ReadAtHEAD("a.txt")
	require.NoError(t, err)
	assert.Equal(t, "one", string(a))

	b, err := repo.ReadAtHEAD("b.txt")
	require.NoError(t, err)
	assert.Equal(t, "two", string(b))
}

func TestOpenReadOnly_NotARepositoryReturnsNilNil(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "not-a-repo")
	repo, err := OpenReadOnly(dir)
	require.NoError(t, err)
	assert.Nil(t, repo)
}

func TestReadAtHEAD_MissingFileReturnsNilNil(t *testing.T) {
	dir := t.TempDir()
	repo, err := Open(dir, testIdentity())
	require.NoError(t, err)

	_, err = repo.Commit("a.txt", "one", "first")
	require.NoError(t, err)

	content, err := repo.ReadAtHEAD("missing.txt")
	require.NoError(t, err)
	assert.Nil(t, content)
}
