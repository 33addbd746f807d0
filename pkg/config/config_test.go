package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	conf, err := Parse(strings.NewReader(`
variant: arm64e
link-address: "0xfffffff007004000"
chunk-size: 2048
page-size: 4096
extended: true
show-gaps: true
tag-labels:
  240: "?/custom"
aliases:
  regions: ["kmap", "vm"]
`))
	require.NoError(t, err)
	require.Equal(t, "arm64e", conf.Variant)
	require.NotNil(t, conf.LinkAddress)
	require.Equal(t, Address(0xfffffff007004000), *conf.LinkAddress)
	require.Equal(t, 2048, conf.ChunkSize)
	require.Equal(t, 4096, conf.PageSize)
	require.True(t, conf.Extended)
	require.True(t, conf.ShowGaps)
	require.Equal(t, "?/custom", conf.TagLabels[240])
	require.Equal(t, []string{"kmap", "vm"}, conf.Aliases["regions"])
}

func TestParseIntegerAddress(t *testing.T) {
	conf, err := Parse(strings.NewReader("link-address: 4096\n"))
	require.NoError(t, err)
	require.Equal(t, Address(4096), *conf.LinkAddress)
}

func TestParseRejectsInvalid(t *testing.T) {
	for _, doc := range []string{
		"variant: x86\n",
		"page-size: 3000\n",
		"chunk-size: -1\n",
		"tag-labels:\n  300: nope\n",
		"link-address: \"banana\"\n",
	} {
		_, err := Parse(strings.NewReader(doc))
		require.Error(t, err, doc)
	}
}

func TestLoadConfigCreatesDefault(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(configDirEnv, dir)

	conf, err := LoadConfig()
	require.NoError(t, err)
	require.False(t, conf.Extended)
	require.Nil(t, conf.LinkAddress)

	_, err = os.Stat(filepath.Join(dir, configFile))
	require.NoError(t, err)

	conf.Variant = "arm64"
	require.NoError(t, SaveConfig(conf))
	again, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, "arm64", again.Variant)
}
