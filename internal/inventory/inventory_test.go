package inventory

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parseString(t *testing.T, content string) *Inventory {
	t.Helper()
	path := filepath.Join(t.TempDir(), "hosts")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	inv, err := Parse(path)
	require.NoError(t, err)
	return inv
}

func TestParse_GroupsAndHosts(t *testing.T) {
	inv := parseString(t, `
# frontends
[web]
web1.example.com
web2.example.com ansible_port=2222

[db]
db1.example.com

[prod:children]
web
db

[web:vars]
ansible_user=deploy
`)

	assert.Equal(t, []string{"db1.example.com", "web1.example.com", "web2.example.com"}, inv.Hosts())
	assert.Contains(t, inv.Groups(), "web")
	assert.Contains(t, inv.Groups(), "prod")

	assert.Equal(t, []string{"prod", "web"}, inv.GroupsForHost("web1.example.com"))
	assert.Equal(t, []string{"db", "prod"}, inv.GroupsForHost("db1.example.com"))
	assert.Empty(t, inv.GroupsForHost("unknown.example.com"))
}

func TestParse_UngroupedHosts(t *testing.T) {
	inv := parseString(t, `
standalone.example.com

[web]
web1.example.com
`)

	assert.Contains(t, inv.Hosts(), "standalone.example.com")
	assert.Equal(t, []string{"ungrouped"}, inv.GroupsForHost("standalone.example.com"))
}

func TestParse_NestedChildren(t *testing.T) {
	inv := parseString(t, `
[web]
web1

[dc1:children]
web

[all_dcs:children]
dc1
`)

	assert.Equal(t, []string{"all_dcs", "dc1", "web"}, inv.GroupsForHost("web1"))
}

func TestParse_MissingFile(t *testing.T) {
	_, err := Parse(filepath.Join(t.TempDir(), "nope"))
	require.Error(t, err)
}
