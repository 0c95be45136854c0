package zfs

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func Test_readDatasets(t *testing.T) {
	in := splitOutput(testInput)

	const prop1 = "com.github.vansante:be-root"
	const prop2 = "com.github.vansante:be-description"

	ds, err := readDatasets(in, []string{prop1, prop2})
	require.NoError(t, err)
	require.Len(t, ds, 3)
	require.Equal(t, "testpool/ROOT/default", ds[0].Name)
	require.Equal(t, "testpool/ROOT/default/var", ds[1].Name)
	require.Equal(t, "testpool/ROOT/default@first", ds[2].Name)

	root := ds[0]
	require.Equal(t, DatasetFilesystem, root.Type)
	require.Equal(t, "", root.Origin)
	require.Equal(t, "/", root.Mountpoint)
	require.Equal(t, CanMountNoAuto, root.CanMount)
	require.True(t, root.Mounted)
	require.Equal(t, uint64(196416), root.Usedbydataset)
	require.Equal(t, uint64(4096), root.Usedbysnapshots)
	require.Equal(t, time.Unix(1700000000, 0), root.Creation)
	require.Equal(t, "yes", root.ExtraProps[prop1])
	require.Equal(t, "my first boot environment", root.ExtraProps[prop2])
	require.Equal(t, PropertySourceLocal, root.Source(prop1))
	require.Equal(t, PropertySourceLocal, root.Source(PropertyMountPoint))

	child := ds[1]
	require.Equal(t, "yes", child.ExtraProps[prop1])
	require.Equal(t, PropertySourceInherited, child.Source(prop1))
	require.Equal(t, PropertySourceInherited, child.Source(PropertyMountPoint))
	require.Equal(t, "", child.ExtraProps[prop2])
	require.Equal(t, PropertySourceNone, child.Source(prop2))

	snap := ds[2]
	require.True(t, snap.IsSnapshot())
	require.Equal(t, "testpool/ROOT/default", snap.DatasetName())
	require.Equal(t, "first", snap.SnapshotName())
	require.Equal(t, []string{"testpool/ROOT/copy", "testpool/ROOT/other"}, snap.Clones)
}

func Test_readDatasetsInvalidLine(t *testing.T) {
	_, err := readDatasets([][]string{{"testpool", "name"}}, nil)
	require.Error(t, err)

	_, err = readDatasets([][]string{{"testpool", "used", "lots", "-"}}, nil)
	require.Error(t, err)
}

func Test_parseSource(t *testing.T) {
	require.Equal(t, PropertySourceNone, parseSource("-"))
	require.Equal(t, PropertySourceLocal, parseSource("local"))
	require.Equal(t, PropertySourceDefault, parseSource("default"))
	require.Equal(t, PropertySourceReceived, parseSource("received"))
	require.Equal(t, PropertySourceInherited, parseSource("inherited from testpool/ROOT"))
}

const testInput = `testpool/ROOT/default	name	testpool/ROOT/default	-
testpool/ROOT/default	type	filesystem	-
testpool/ROOT/default	origin	-	-
testpool/ROOT/default	used	200512	-
testpool/ROOT/default	available	186368146928528	-
testpool/ROOT/default	mounted	yes	-
testpool/ROOT/default	mountpoint	/	local
testpool/ROOT/default	canmount	noauto	local
testpool/ROOT/default	usedbydataset	196416	-
testpool/ROOT/default	usedbysnapshots	4096	-
testpool/ROOT/default	creation	1700000000	-
testpool/ROOT/default	clones		-
testpool/ROOT/default	com.github.vansante:be-root	yes	local
testpool/ROOT/default	com.github.vansante:be-description	my first boot environment	local
testpool/ROOT/default/var	name	testpool/ROOT/default/var	-
testpool/ROOT/default/var	type	filesystem	-
testpool/ROOT/default/var	origin	-	-
testpool/ROOT/default/var	used	98304	-
testpool/ROOT/default/var	mounted	no	-
testpool/ROOT/default/var	mountpoint	/var	inherited from testpool/ROOT/default
testpool/ROOT/default/var	canmount	on	default
testpool/ROOT/default/var	creation	1700000001	-
testpool/ROOT/default/var	com.github.vansante:be-root	yes	inherited from testpool/ROOT/default
testpool/ROOT/default/var	com.github.vansante:be-description	-	-
testpool/ROOT/default@first	name	testpool/ROOT/default@first	-
testpool/ROOT/default@first	type	snapshot	-
testpool/ROOT/default@first	used	4096	-
testpool/ROOT/default@first	creation	1700000002	-
testpool/ROOT/default@first	clones	testpool/ROOT/copy,testpool/ROOT/other	-
`
