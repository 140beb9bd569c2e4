package storage

import (
	"context"
	"testing"

	"github.com/phtran-dev/spax/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedLoader(volumes ...*Volume) VolumeLoader {
	return func(ctx context.Context) ([]*Volume, error) {
		return volumes, nil
	}
}

func TestManagerActiveWriteVolume(t *testing.T) {
	ctx := context.Background()
	hot1 := &Volume{ID: 1, Code: "hot-a", Kind: KindLocal, Tier: TierHot, Status: StatusActive, Priority: 10, BasePath: t.TempDir()}
	hot2 := &Volume{ID: 2, Code: "hot-b", Kind: KindLocal, Tier: TierHot, Status: StatusActive, Priority: 50, BasePath: t.TempDir()}
	readonly := &Volume{ID: 3, Code: "hot-ro", Kind: KindLocal, Tier: TierHot, Status: StatusReadOnly, Priority: 99, BasePath: t.TempDir()}
	warm := &Volume{ID: 4, Code: "warm-a", Kind: KindLocal, Tier: TierWarm, Status: StatusActive, Priority: 1, BasePath: t.TempDir()}

	m := NewManager(fixedLoader(hot1, hot2, readonly, warm), NewPathResolver())
	require.NoError(t, m.Reload(ctx))

	// highest priority ACTIVE wins; READ_ONLY is never a write target
	v, err := m.ActiveWriteVolume(TierHot)
	require.NoError(t, err)
	assert.Equal(t, "hot-b", v.Code)

	v, err = m.ActiveWriteVolume(TierWarm)
	require.NoError(t, err)
	assert.Equal(t, "warm-a", v.Code)

	_, err = m.ActiveWriteVolume(TierCold)
	require.Error(t, err)
	assert.Equal(t, errors.NoWriteVolume, errors.AsError(err).Code)
}

func TestManagerProviderCache(t *testing.T) {
	ctx := context.Background()
	vol := &Volume{ID: 1, Code: "hot-a", Kind: KindLocal, Tier: TierHot, Status: StatusActive, BasePath: t.TempDir()}
	m := NewManager(fixedLoader(vol), NewPathResolver())
	require.NoError(t, m.Reload(ctx))

	p1, err := m.Provider(1)
	require.NoError(t, err)
	p2, err := m.Provider(1)
	require.NoError(t, err)
	assert.Same(t, p1, p2)

	_, err = m.Provider(42)
	require.Error(t, err)
	assert.Equal(t, errors.UnknownVolume, errors.AsError(err).Code)
}

func TestManagerReloadKeepsUnchangedProviders(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	vol := &Volume{ID: 1, Code: "hot-a", Kind: KindLocal, Tier: TierHot, Status: StatusActive, BasePath: dir}
	m := NewManager(fixedLoader(vol), NewPathResolver())
	require.NoError(t, m.Reload(ctx))

	p1, err := m.Provider(1)
	require.NoError(t, err)

	// same connection config survives the reload
	require.NoError(t, m.Reload(ctx))
	p2, err := m.Provider(1)
	require.NoError(t, err)
	assert.Same(t, p1, p2)
}

func TestManagerPathTemplate(t *testing.T) {
	m := NewManager(fixedLoader(), NewPathResolver())
	withOverride := &Volume{PathTemplate: "{00080018,md5}"}
	plain := &Volume{}

	assert.Equal(t, "{00080018,md5}", m.PathTemplate(withOverride, "default"))
	assert.Equal(t, "default", m.PathTemplate(plain, "default"))
}
