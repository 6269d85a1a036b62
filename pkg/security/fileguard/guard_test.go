package fileguard

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
}

func TestValidateAllowsFilesUnderAllowedDir(t *testing.T) {
	dir := t.TempDir()
	filePath := filepath.Join(dir, "doc.txt")
	writeFile(t, filePath, "hello")

	guard, err := NewGuard([]string{dir}, 0)
	require.NoError(t, err)

	resolved, err := guard.Validate(filePath)
	require.NoError(t, err)
	assert.NotEmpty(t, resolved)
}

func TestValidateRejectsOutsidePaths(t *testing.T) {
	allowed := t.TempDir()
	outside := t.TempDir()
	filePath := filepath.Join(outside, "doc.txt")
	writeFile(t, filePath, "hello")

	guard, err := NewGuard([]string{allowed}, 0)
	require.NoError(t, err)

	_, err = guard.Validate(filePath)
	assert.ErrorIs(t, err, ErrOutsideAllowList)
}

func TestValidateRejectsTraversal(t *testing.T) {
	base := t.TempDir()
	allowed := filepath.Join(base, "allowed")
	require.NoError(t, os.Mkdir(allowed, 0750))
	secret := filepath.Join(base, "secret.txt")
	writeFile(t, secret, "secret")

	guard, err := NewGuard([]string{allowed}, 0)
	require.NoError(t, err)

	_, err = guard.Validate(filepath.Join(allowed, "..", "secret.txt"))
	assert.ErrorIs(t, err, ErrOutsideAllowList)
}

func TestValidateRejectsDirectories(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "sub")
	require.NoError(t, os.Mkdir(sub, 0750))

	guard, err := NewGuard([]string{dir}, 0)
	require.NoError(t, err)

	_, err = guard.Validate(sub)
	assert.ErrorIs(t, err, ErrNotRegularFile)
}

func TestValidateRejectsOversizedFiles(t *testing.T) {
	dir := t.TempDir()
	filePath := filepath.Join(dir, "big.txt")
	writeFile(t, filePath, "0123456789")

	guard, err := NewGuard([]string{dir}, 5)
	require.NoError(t, err)

	_, err = guard.Validate(filePath)
	assert.ErrorIs(t, err, ErrFileTooLarge)
}

func TestValidateRejectsSymlinkEscape(t *testing.T) {
	base := t.TempDir()
	allowed := filepath.Join(base, "allowed")
	require.NoError(t, os.Mkdir(allowed, 0750))
	secret := filepath.Join(base, "secret.txt")
	writeFile(t, secret, "secret")

	link := filepath.Join(allowed, "link.txt")
	if err := os.Symlink(secret, link); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	guard, err := NewGuard([]string{allowed}, 0)
	require.NoError(t, err)

	_, err = guard.Validate(link)
	assert.ErrorIs(t, err, ErrOutsideAllowList)
}

func TestPatternAllowsMatchingPaths(t *testing.T) {
	dir := t.TempDir()
	filePath := filepath.Join(dir, "notes.md")
	writeFile(t, filePath, "note")

	guard, err := NewGuard(nil, 0)
	require.NoError(t, err)

	resolvedDir, _ := filepath.EvalSymlinks(dir)
	require.NoError(t, guard.AddPattern(resolvedDir+"/**"))

	_, err = guard.Validate(filePath)
	assert.NoError(t, err)

	assert.Error(t, guard.AddPattern("[invalid"))
}

func TestEmptyPathFailsClosed(t *testing.T) {
	guard, err := NewGuard([]string{t.TempDir()}, 0)
	require.NoError(t, err)

	_, err = guard.Validate("")
	assert.ErrorIs(t, err, ErrOutsideAllowList)
}
